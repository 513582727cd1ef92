// maintenance.go — обслуживание профилей (только для service-ролей):
// удаление дубликатов, список групп дубликатов, диагностика.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/J-Shotayo/skill-Forge/internal/api/errors"
	"github.com/J-Shotayo/skill-Forge/internal/api/middleware"
	"github.com/J-Shotayo/skill-Forge/internal/service"
)

const (
	defaultDedupLimit = 100
	maxDedupLimit     = 1000
)

// MaintenanceHandler — обработчики /api/v1/maintenance.
type MaintenanceHandler struct {
	profiles    *service.ProfileMaintenance
	diagnostics *service.DiagnosticsService
	logger      *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик обслуживания.
func NewMaintenanceHandler(profiles *service.ProfileMaintenance, diagnostics *service.DiagnosticsService, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		profiles:    profiles,
		diagnostics: diagnostics,
		logger:      logger.With(slog.String("component", "maintenance_handler")),
	}
}

// DeduplicateProfile — POST /api/v1/maintenance/profiles/{userID}/deduplicate.
func (h *MaintenanceHandler) DeduplicateProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	res, err := h.profiles.Deduplicate(r.Context(), userID)
	if err != nil {
		h.logger.Warn("Удаление дубликатов не выполнено",
			slog.String("user_id", userID),
			slog.String("by", subject(r)),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}

	h.logger.Info("Удаление дубликатов по запросу",
		slog.String("user_id", userID),
		slog.String("by", subject(r)),
		slog.Int64("deleted", res.Deleted),
	)
	writeJSON(w, http.StatusOK, res)
}

// DeduplicateAll — POST /api/v1/maintenance/profiles/deduplicate?limit=.
func (h *MaintenanceHandler) DeduplicateAll(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultDedupLimit, 1, maxDedupLimit)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	batch, err := h.profiles.DeduplicateAll(r.Context(), limit)
	if err != nil {
		h.logger.Error("Обход дубликатов прерван", slog.String("error", err.Error()))
		if batch != nil {
			// Частичный результат полезнее пустой ошибки.
			writeJSON(w, http.StatusOK, batch)
			return
		}
		apierrors.InternalError(w, "Не удалось найти дубликаты")
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// ListDuplicates — GET /api/v1/maintenance/profiles/duplicates?limit=.
func (h *MaintenanceHandler) ListDuplicates(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultDedupLimit, 1, maxDedupLimit)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	groups, err := h.profiles.FindDuplicates(r.Context(), limit)
	if err != nil {
		h.logger.Error("Ошибка поиска дубликатов", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось найти дубликаты")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": groups, "total": len(groups)})
}

// Diagnostics — GET /api/v1/maintenance/diagnostics.
func (h *MaintenanceHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.diagnostics.Run(r.Context()))
}

func subject(r *http.Request) string {
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
