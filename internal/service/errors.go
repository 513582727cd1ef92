// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (состояние изменилось во время операции).
	ErrConflict = errors.New("конфликт — состояние изменилось")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrProfileNotFound — у Identity нет ни одного профиля.
	ErrProfileNotFound = errors.New("профиль не найден")
	// ErrProfileNotReady — операция требует согласованного профиля (фаза ready).
	ErrProfileNotReady = errors.New("профиль ещё не готов")
)
