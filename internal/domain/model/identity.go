package model

import "time"

// IdentityMetadata — метаданные, переданные при регистрации или OAuth.
type IdentityMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Identity — аутентифицированный субъект Identity Service.
// Сервис не изменяет Identity напрямую.
type Identity struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	Metadata         IdentityMetadata `json:"metadata"`
	EmailConfirmedAt *time.Time       `json:"email_confirmed_at,omitempty"`
}

// DisplayName возвращает имя из метаданных: full_name, затем name.
func (i Identity) DisplayName() string {
	if i.Metadata.FullName != "" {
		return i.Metadata.FullName
	}
	return i.Metadata.Name
}

// RoleHint возвращает роль из метаданных, если она допустима,
// иначе fallback, иначе learner.
func (i Identity) RoleHint(fallback Role) Role {
	if r, err := ParseRole(i.Metadata.Role); err == nil {
		return r
	}
	if fallback.IsValid() {
		return fallback
	}
	return RoleLearner
}

// EmailConfirmed сообщает, подтверждён ли email.
func (i Identity) EmailConfirmed() bool {
	return i.EmailConfirmedAt != nil && !i.EmailConfirmedAt.IsZero()
}
