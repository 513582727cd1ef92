// session.go — привязка запроса к браузерной сессии.
// Cookie с идентификатором выдаётся при первом запросе; сессия
// поднимается в реестре и кладётся в контекст.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/J-Shotayo/skill-Forge/internal/api/errors"
	"github.com/J-Shotayo/skill-Forge/internal/sessions"
)

// SessionBinder связывает cookie и реестр сессий.
type SessionBinder struct {
	cookies  *sessions.CookieManager
	registry *sessions.Registry
	logger   *slog.Logger
}

// NewSessionBinder создаёт middleware сессий.
func NewSessionBinder(cookies *sessions.CookieManager, registry *sessions.Registry, logger *slog.Logger) *SessionBinder {
	return &SessionBinder{
		cookies:  cookies,
		registry: registry,
		logger:   logger.With(slog.String("component", "session_binder")),
	}
}

// Middleware кладёт *sessions.Entry в контекст запроса.
func (b *SessionBinder) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := b.cookies.FromRequest(r)
			if err != nil {
				// Ключ сменился или cookie подделан: выдаём новую сессию.
				b.logger.Debug("Cookie сессии отклонён",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				data = nil
			}

			if data == nil {
				id, err := sessions.GenerateID()
				if err != nil {
					b.logger.Error("Не удалось создать сессию", slog.String("error", err.Error()))
					apierrors.InternalError(w, "Не удалось создать сессию")
					return
				}
				data = &sessions.CookieData{ID: id, IssuedAt: time.Now().Unix()}
				if err := b.cookies.Set(w, data); err != nil {
					b.logger.Error("Не удалось записать cookie сессии", slog.String("error", err.Error()))
					apierrors.InternalError(w, "Не удалось создать сессию")
					return
				}
			}

			entry := b.registry.Acquire(data.ID)
			ctx := context.WithValue(r.Context(), ContextKeySession, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext извлекает сессию. nil, если middleware не применялся.
func SessionFromContext(ctx context.Context) *sessions.Entry {
	entry, _ := ctx.Value(ContextKeySession).(*sessions.Entry)
	return entry
}
