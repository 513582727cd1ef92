package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
)

// Порядок сортировки каталога.
const (
	CourseSortNewest    = "newest"
	CourseSortOldest    = "oldest"
	CourseSortPriceLow  = "price_low"
	CourseSortPriceHigh = "price_high"
	CourseSortPopular   = "popular"
)

// courseOrder — ORDER BY для каждого порядка; id — стабильный tie-break.
var courseOrder = map[string]string{
	CourseSortNewest:    "c.created_at DESC, c.id",
	CourseSortOldest:    "c.created_at ASC, c.id",
	CourseSortPriceLow:  "c.price ASC, c.created_at DESC, c.id",
	CourseSortPriceHigh: "c.price DESC, c.created_at DESC, c.id",
	CourseSortPopular:   "enrollment_count DESC, c.created_at DESC, c.id",
}

// ValidCourseSort сообщает, поддерживается ли порядок сортировки.
func ValidCourseSort(sort string) bool {
	_, ok := courseOrder[sort]
	return ok
}

// CourseListFilters — фильтры каталога. nil-поле — без фильтра.
type CourseListFilters struct {
	// Search — подстрока в title или description (без учёта регистра)
	Search     *string
	CategoryID *string
	Level      *string
	// Sort — один из CourseSort*; пустой — newest
	Sort string
}

// CourseRepository — интерфейс каталога курсов (только чтение).
type CourseRepository interface {
	// ListPublished возвращает опубликованные курсы и их общее количество.
	ListPublished(ctx context.Context, filters CourseListFilters, limit, offset int) ([]*model.Course, int, error)
	// ListCategories возвращает категории по имени.
	ListCategories(ctx context.Context) ([]model.Category, error)
	// Probe проверяет доступность таблицы.
	Probe(ctx context.Context) error
}

type courseRepo struct {
	db DBTX
}

// NewCourseRepository создаёт репозиторий каталога курсов.
func NewCourseRepository(pool *pgxpool.Pool) CourseRepository {
	return &courseRepo{db: pool}
}

// buildCourseWhere строит WHERE каталога. Нумерация параметров с startArg.
func buildCourseWhere(filters CourseListFilters, startArg int) (string, []any) {
	conditions := []string{"c.status = '" + model.CourseStatusPublished + "'"}
	var args []any
	argNum := startArg

	if filters.Search != nil {
		conditions = append(conditions, fmt.Sprintf("(c.title ILIKE $%d OR c.description ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+escapeLike(*filters.Search)+"%")
		argNum++
	}
	if filters.CategoryID != nil {
		conditions = append(conditions, fmt.Sprintf("c.category_id = $%d", argNum))
		args = append(args, *filters.CategoryID)
		argNum++
	}
	if filters.Level != nil {
		conditions = append(conditions, fmt.Sprintf("c.level = $%d", argNum))
		args = append(args, *filters.Level)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// escapeLike экранирует спецсимволы LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *courseRepo) ListPublished(ctx context.Context, filters CourseListFilters, limit, offset int) ([]*model.Course, int, error) {
	if filters.CategoryID != nil {
		if err := validateID(*filters.CategoryID); err != nil {
			return nil, 0, err
		}
	}
	order, ok := courseOrder[filters.Sort]
	if !ok {
		order = courseOrder[CourseSortNewest]
	}

	where, args := buildCourseWhere(filters, 1)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM courses c `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта курсов: %w", err)
	}

	argNum := len(args) + 1
	// Профиль преподавателя может быть задублирован: берётся первая строка.
	query := fmt.Sprintf(`
		SELECT c.id, c.title, c.description, c.thumbnail_url, c.price::float8,
		       c.level, c.duration_hours, c.category_id, cat.name, p.full_name,
		       (SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id) AS enrollment_count,
		       c.created_at
		FROM courses c
		LEFT JOIN categories cat ON cat.id = c.category_id
		LEFT JOIN LATERAL (
			SELECT full_name FROM profiles
			WHERE id = c.instructor_id
			ORDER BY created_at, row_id
			LIMIT 1
		) p ON true
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, where, order, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения каталога: %w", err)
	}
	defer rows.Close()

	var courses []*model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования курса: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, total, rows.Err()
}

func (r *courseRepo) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения категорий: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("ошибка сканирования категории: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *courseRepo) Probe(ctx context.Context) error {
	return probe(ctx, r.db, "courses")
}

func scanCourse(row pgx.Row) (*model.Course, error) {
	c := &model.Course{}
	var enrollments int64
	err := row.Scan(
		&c.ID, &c.Title, &c.Description, &c.ThumbnailURL, &c.Price,
		&c.Level, &c.DurationHours, &c.CategoryID, &c.CategoryName, &c.InstructorName,
		&enrollments, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.EnrollmentCount = int(enrollments)
	return c, nil
}
