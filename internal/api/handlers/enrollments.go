package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/J-Shotayo/skill-Forge/internal/api/errors"
	"github.com/J-Shotayo/skill-Forge/internal/api/middleware"
	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/domain/phase"
	"github.com/J-Shotayo/skill-Forge/internal/service"
)

// EnrollmentHandler — записи на курсы для профиля текущей сессии.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	logger      *slog.Logger
}

// NewEnrollmentHandler создаёт обработчик записей на курсы.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, logger *slog.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{
		enrollments: enrollments,
		logger:      logger.With(slog.String("component", "enrollment_handler")),
	}
}

type enrollRequest struct {
	CourseID string `json:"courseId"`
}

type enrollResponse struct {
	Enrollment      *model.Enrollment `json:"enrollment"`
	AlreadyEnrolled bool              `json:"alreadyEnrolled"`
}

type enrollmentListResponse struct {
	Items  []*model.Enrollment `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// Enroll — POST /api/v1/enrollments.
// 201 — новая запись, 200 — уже записан.
func (h *EnrollmentHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	profile, ok := readyProfile(w, r)
	if !ok {
		return
	}

	var req enrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	courseID := strings.TrimSpace(req.CourseID)
	if courseID == "" {
		apierrors.ValidationError(w, "Укажите courseId")
		return
	}

	e, created, err := h.enrollments.Enroll(r.Context(), profile, courseID)
	if err != nil {
		h.logger.Warn("Запись на курс не выполнена",
			slog.String("learner_id", profile.ID),
			slog.String("course_id", courseID),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, enrollResponse{Enrollment: e, AlreadyEnrolled: !created})
}

// List — GET /api/v1/enrollments?limit=&offset=.
func (h *EnrollmentHandler) List(w http.ResponseWriter, r *http.Request) {
	profile, ok := readyProfile(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 20, 1, 100)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	items, total, err := h.enrollments.List(r.Context(), profile, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []*model.Enrollment{}
	}
	writeJSON(w, http.StatusOK, enrollmentListResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

// readyProfile возвращает согласованный профиль сессии или пишет ошибку:
// 401 без входа, 409 пока профиль не готов.
func readyProfile(w http.ResponseWriter, r *http.Request) (*model.Profile, bool) {
	st := middleware.SessionFromContext(r.Context()).Reconciler.State()
	switch {
	case st.Phase == phase.Unauthenticated:
		apierrors.Unauthorized(w, "Требуется вход")
		return nil, false
	case st.Phase != phase.Ready || st.Profile == nil:
		apierrors.NotReady(w, "Профиль ещё не готов, повторите позже")
		return nil, false
	}
	return st.Profile, true
}
