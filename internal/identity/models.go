// Пакет identity — клиент к Identity Service (GoTrue-совместимый auth API).
// models.go — модели ответов, ошибок и событий.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
)

// expiryMargin — токен считается истёкшим за это время до expires_at.
const expiryMargin = 30 * time.Second

// Ошибки пакета.
var (
	// ErrUnavailable — транспортная ошибка обращения к Identity Service.
	ErrUnavailable = errors.New("Identity Service недоступен")
	// ErrNoSession — операция требует активной сессии.
	ErrNoSession = errors.New("нет активной сессии")
	// ErrNoCodeVerifier — PKCE verifier для обмена кода не найден.
	ErrNoCodeVerifier = errors.New("PKCE verifier не найден или истёк")
)

// Session — сессия, выданная Identity Service.
type Session struct {
	AccessToken  string `json:"access_token"` //nolint:gosec // G117: структура токена
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"` //nolint:gosec // G117: структура токена
	User         User   `json:"user"`
}

// IsExpired сообщает, что access token истёк (с запасом expiryMargin).
func (s *Session) IsExpired() bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return time.Now().Add(expiryMargin).After(time.Unix(s.ExpiresAt, 0))
}

// fillExpiry вычисляет ExpiresAt, если сервис вернул только expires_in.
func (s *Session) fillExpiry() {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
}

// User — пользователь Identity Service.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
}

// Identity преобразует пользователя в доменную модель.
func (u User) Identity() model.Identity {
	return model.Identity{
		ID:    u.ID,
		Email: u.Email,
		Metadata: model.IdentityMetadata{
			FullName:  metaString(u.UserMetadata, "full_name"),
			Name:      metaString(u.UserMetadata, "name"),
			Role:      metaString(u.UserMetadata, "role"),
			AvatarURL: metaString(u.UserMetadata, "avatar_url"),
		},
		EmailConfirmedAt: u.EmailConfirmedAt,
	}
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// SignUpResult — результат регистрации.
// Session заполнена только если сервис подтверждает email автоматически.
type SignUpResult struct {
	User    User
	Session *Session
}

// APIError — отказ Identity Service (ответ со статусом не 2xx).
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Identity Service: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("Identity Service: %d: %s", e.Status, e.Message)
}

// errorBody — варианты тела ошибки GoTrue.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// --- События ---

// EventType — тип события изменения аутентификации.
type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// AuthEvent — событие изменения аутентификации.
// Session равна nil для SIGNED_OUT.
type AuthEvent struct {
	Type    EventType
	Session *Session
}
