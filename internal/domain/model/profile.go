package model

import (
	"fmt"
	"strings"
	"time"
)

// Role — роль пользователя платформы.
type Role string

const (
	// RoleLearner — слушатель курсов (роль по умолчанию).
	RoleLearner Role = "learner"
	// RoleInstructor — автор курсов.
	RoleInstructor Role = "instructor"
)

// IsValid проверяет, что роль входит в допустимый набор.
func (r Role) IsValid() bool {
	return r == RoleLearner || r == RoleInstructor
}

// ParseRole преобразует строку в Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("недопустимая роль: %q, допустимые: learner, instructor", s)
	}
	return r, nil
}

// Profile — профиль пользователя.
// Хранится в таблице profiles. По замыслу одна строка на Identity,
// но ограничения уникальности по id нет: дубликаты возможны.
type Profile struct {
	// RowID — суррогатный ключ строки (адресует конкретный дубликат)
	RowID int64 `json:"-"`
	// ID — идентификатор Identity
	ID string `json:"id"`
	// Email — электронная почта
	Email string `json:"email"`
	// FullName — отображаемое имя (опционально)
	FullName *string `json:"full_name"`
	// AvatarURL — ссылка на аватар (опционально)
	AvatarURL *string `json:"avatar_url"`
	// Role — роль (learner, instructor)
	Role Role `json:"role"`
	// Bio — описание (опционально)
	Bio *string `json:"bio"`
	// Points — накопленные баллы, не отрицательные
	Points int `json:"points"`
	// CreatedAt — время создания строки
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProfileFromIdentity строит профиль для ручного создания по метаданным Identity.
// Имя берётся из full_name, затем из name. Роль — из метаданных, затем fallback,
// затем learner. Баллы всегда 0.
func NewProfileFromIdentity(ident Identity, fallback Role) *Profile {
	p := &Profile{
		ID:     ident.ID,
		Email:  ident.Email,
		Role:   ident.RoleHint(fallback),
		Points: 0,
	}
	if name := ident.DisplayName(); name != "" {
		p.FullName = &name
	}
	if ident.Metadata.AvatarURL != "" {
		avatar := ident.Metadata.AvatarURL
		p.AvatarURL = &avatar
	}
	return p
}
