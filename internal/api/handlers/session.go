// session.go — наблюдаемое состояние сессии для UI:
// снимок, поток SSE и принудительное перечитывание.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/J-Shotayo/skill-Forge/internal/api/middleware"
	"github.com/J-Shotayo/skill-Forge/internal/domain/phase"
	"github.com/J-Shotayo/skill-Forge/internal/reconciler"
)

// defaultKeepAlive — период комментариев-пингов в потоке SSE.
const defaultKeepAlive = 15 * time.Second

// SessionHandler — обработчики /api/v1/session.
type SessionHandler struct {
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewSessionHandler создаёт обработчик состояния сессии.
// keepAlive <= 0 — значение по умолчанию (15s).
func NewSessionHandler(keepAlive time.Duration, logger *slog.Logger) *SessionHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &SessionHandler{
		keepAlive: keepAlive,
		logger:    logger.With(slog.String("component", "session_handler")),
	}
}

type sessionHistoryResponse struct {
	State   reconciler.State         `json:"state"`
	History []phase.TransitionRecord `json:"history"`
}

// Get — GET /api/v1/session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, entry.Reconciler.State())
}

// History — GET /api/v1/session/history: состояние и последние переходы фаз.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, sessionHistoryResponse{
		State:   entry.Reconciler.State(),
		History: entry.Reconciler.History(),
	})
}

// Refresh — POST /api/v1/session/refresh. Отвечает после завершения цикла.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())
	entry.Reconciler.Refresh(r.Context())
	writeJSON(w, http.StatusOK, entry.Reconciler.State())
}

// Events — GET /api/v1/session/events: поток состояний (text/event-stream).
// Первое событие — текущее состояние; медленный клиент получает последнее.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())
	rc := http.NewResponseController(w)

	// Поток живёт дольше WriteTimeout сервера.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	states, unsubscribe := entry.Reconciler.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case st, ok := <-states:
			if !ok {
				// Сессия закрыта (выход или вытеснение из реестра).
				return
			}
			data, err := json.Marshal(st)
			if err != nil {
				h.logger.Error("Ошибка сериализации состояния", slog.String("error", err.Error()))
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\nid: %d\ndata: %s\n\n", st.Generation, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
