package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/repository"
)

// maxSearchLen — предел длины строки поиска по каталогу.
const maxSearchLen = 100

var validLevels = map[string]bool{
	model.LevelBeginner:     true,
	model.LevelIntermediate: true,
	model.LevelAdvanced:     true,
}

// CatalogQuery — параметры просмотра каталога в виде, пришедшем от клиента.
// Пустые значения и "all" означают «без фильтра».
type CatalogQuery struct {
	Search   string
	Category string
	Level    string
	Sort     string
	Limit    int
	Offset   int
}

// CatalogService — каталог опубликованных курсов.
type CatalogService struct {
	repo   repository.CourseRepository
	logger *slog.Logger
}

// NewCatalogService создаёт сервис каталога.
func NewCatalogService(repo repository.CourseRepository, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		repo:   repo,
		logger: logger.With(slog.String("component", "catalog_service")),
	}
}

// ListCourses возвращает страницу каталога и общее количество курсов.
func (s *CatalogService) ListCourses(ctx context.Context, q CatalogQuery) ([]*model.Course, int, error) {
	filters, err := q.filters()
	if err != nil {
		return nil, 0, err
	}

	courses, total, err := s.repo.ListPublished(ctx, filters, q.Limit, q.Offset)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidID) {
			return nil, 0, fmt.Errorf("%w: category: %v", ErrValidation, err)
		}
		return nil, 0, err
	}
	return courses, total, nil
}

// ListCategories возвращает категории курсов.
func (s *CatalogService) ListCategories(ctx context.Context) ([]model.Category, error) {
	return s.repo.ListCategories(ctx)
}

// filters проверяет запрос и переводит его в фильтры репозитория.
func (q CatalogQuery) filters() (repository.CourseListFilters, error) {
	var f repository.CourseListFilters

	if search := strings.TrimSpace(q.Search); search != "" {
		if len([]rune(search)) > maxSearchLen {
			return f, fmt.Errorf("%w: search длиннее %d символов", ErrValidation, maxSearchLen)
		}
		f.Search = &search
	}
	if category := strings.TrimSpace(q.Category); category != "" && category != "all" {
		f.CategoryID = &category
	}
	if level := strings.TrimSpace(q.Level); level != "" && level != "all" {
		if !validLevels[level] {
			return f, fmt.Errorf("%w: level %q, допустимые: beginner, intermediate, advanced", ErrValidation, level)
		}
		f.Level = &level
	}

	f.Sort = strings.TrimSpace(q.Sort)
	if f.Sort == "" {
		f.Sort = repository.CourseSortNewest
	}
	if !repository.ValidCourseSort(f.Sort) {
		return f, fmt.Errorf("%w: sort %q", ErrValidation, f.Sort)
	}
	return f, nil
}
