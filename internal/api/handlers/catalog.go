package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/J-Shotayo/skill-Forge/internal/api/errors"
	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/service"
)

// CatalogHandler — публичный каталог курсов, сессия не требуется.
type CatalogHandler struct {
	catalog *service.CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler создаёт обработчик каталога.
func NewCatalogHandler(catalog *service.CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		logger:  logger.With(slog.String("component", "catalog_handler")),
	}
}

type courseListResponse struct {
	Items  []*model.Course `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type categoryListResponse struct {
	Items []model.Category `json:"items"`
}

// ListCourses — GET /api/v1/courses?search=&category=&level=&sort=&limit=&offset=.
func (h *CatalogHandler) ListCourses(w http.ResponseWriter, r *http.Request) {
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

	q := r.URL.Query()
	items, total, err := h.catalog.ListCourses(r.Context(), service.CatalogQuery{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Level:    q.Get("level"),
		Sort:     q.Get("sort"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		if !isValidation(err) {
			h.logger.Error("Каталог недоступен", slog.String("error", err.Error()))
		}
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []*model.Course{}
	}
	writeJSON(w, http.StatusOK, courseListResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

// ListCategories — GET /api/v1/categories.
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.logger.Error("Категории недоступны", slog.String("error", err.Error()))
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []model.Category{}
	}
	writeJSON(w, http.StatusOK, categoryListResponse{Items: items})
}
