// Пакет errors — ошибки HTTP API SkillForge.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Временные состояния (профиль не согласован, Identity Service недоступен)
// дополнительно несут Retry-After.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// Коды ошибок API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeNotReady        = "PROFILE_NOT_READY"
	CodeIDPUnavailable  = "IDP_UNAVAILABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// Паузы Retry-After в секундах.
const (
	notReadyRetryAfter       = 1
	idpUnavailableRetryAfter = 5
)

// Error — ошибка API, готовая к записи в ответ.
type Error struct {
	Status  int
	Code    string
	Message string
	// RetryAfter — секунды до повтора; 0 — без заголовка
	RetryAfter int
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// New создаёт ошибку API. Для PROFILE_NOT_READY и IDP_UNAVAILABLE
// сразу проставляется RetryAfter.
func New(status int, code, message string) *Error {
	e := &Error{Status: status, Code: code, Message: message}
	switch code {
	case CodeNotReady:
		e.RetryAfter = notReadyRetryAfter
	case CodeIDPUnavailable:
		e.RetryAfter = idpUnavailableRetryAfter
	}
	return e
}

// Write записывает err. Ошибка не *Error превращается в 500 без подробностей.
func Write(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = New(http.StatusInternalServerError, CodeInternalError, "Внутренняя ошибка сервера")
	}
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}
	writeBody(w, apiErr.Status, apiErr.Code, apiErr.Message)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeBody(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{Code: code, Message: message},
	})
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	Write(w, New(statusCode, code, message))
}

// ValidationError — 400.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// NotReady — 409 профиль сессии ещё не согласован; клиенту стоит повторить.
func NotReady(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeNotReady, message)
}

// InternalError — 500.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
