// Пакет handlers — HTTP-обработчики SkillForge Session Service.
// Обработчики разбирают запрос и делегируют в сессию (identity + reconciler)
// или в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	apierrors "github.com/J-Shotayo/skill-Forge/internal/api/errors"
	"github.com/J-Shotayo/skill-Forge/internal/identity"
	"github.com/J-Shotayo/skill-Forge/internal/service"
)

// maxBodySize — ограничение тела JSON-запроса.
const maxBodySize = 1 << 20

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. Неизвестные поля запрещены.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("пустое тело запроса")
		}
		return fmt.Errorf("некорректный JSON: %w", err)
	}
	return nil
}

// queryInt читает целый query-параметр в диапазоне [lo, hi].
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("параметр %s должен быть целым числом от %d до %d", name, lo, hi)
	}
	return v, nil
}

// writeIdentityError отображает ошибку Identity Service в HTTP-ответ.
// rejectStatus — статус для отказа сервиса (неверные данные, конфликт).
func writeIdentityError(w http.ResponseWriter, err error, rejectStatus int) {
	apierrors.Write(w, identityError(err, rejectStatus))
}

func identityError(err error, rejectStatus int) *apierrors.Error {
	var apiErr *identity.APIError
	switch {
	case errors.As(err, &apiErr) && identity.IsRejection(err):
		code := apierrors.CodeValidationError
		if rejectStatus == http.StatusUnauthorized {
			code = apierrors.CodeUnauthorized
		}
		return apierrors.New(rejectStatus, code, apiErr.Message)
	case errors.As(err, &apiErr), errors.Is(err, identity.ErrUnavailable):
		return apierrors.New(http.StatusBadGateway, apierrors.CodeIDPUnavailable, "Identity Service недоступен")
	case errors.Is(err, identity.ErrNoSession):
		return apierrors.New(http.StatusUnauthorized, apierrors.CodeUnauthorized, "Нет активной сессии")
	default:
		return apierrors.New(http.StatusInternalServerError, apierrors.CodeInternalError, "Внутренняя ошибка сервера")
	}
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
func writeServiceError(w http.ResponseWriter, err error) {
	apierrors.Write(w, serviceError(err))
}

func serviceError(err error) *apierrors.Error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return apierrors.New(http.StatusBadRequest, apierrors.CodeValidationError, err.Error())
	case errors.Is(err, service.ErrProfileNotFound), errors.Is(err, service.ErrNotFound):
		return apierrors.New(http.StatusNotFound, apierrors.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		return apierrors.New(http.StatusConflict, apierrors.CodeConflict, err.Error())
	case errors.Is(err, service.ErrProfileNotReady):
		return apierrors.New(http.StatusConflict, apierrors.CodeNotReady, err.Error())
	default:
		return apierrors.New(http.StatusInternalServerError, apierrors.CodeInternalError, "Внутренняя ошибка сервера")
	}
}

func isValidation(err error) bool {
	return errors.Is(err, service.ErrValidation)
}
