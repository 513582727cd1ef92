package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
)

// EnrollmentRepository — интерфейс для таблицы enrollments.
type EnrollmentRepository interface {
	// Create записывает слушателя на курс.
	// ErrConflict — запись уже существует, ErrNotFound — курса нет.
	Create(ctx context.Context, learnerID, courseID string) (*model.Enrollment, error)
	// GetByLearnerAndCourse возвращает запись слушателя на курс.
	GetByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*model.Enrollment, error)
	// ListByLearner возвращает записи слушателя, новые первыми.
	ListByLearner(ctx context.Context, learnerID string, limit, offset int) ([]*model.Enrollment, int, error)
	// Probe проверяет доступность таблицы.
	Probe(ctx context.Context) error
}

const enrollmentColumns = `id, learner_id, course_id, status, progress_percentage, enrolled_at, completed_at`

type enrollmentRepo struct {
	db DBTX
}

// NewEnrollmentRepository создаёт репозиторий записей на курсы.
func NewEnrollmentRepository(pool *pgxpool.Pool) EnrollmentRepository {
	return &enrollmentRepo{db: pool}
}

func (r *enrollmentRepo) Create(ctx context.Context, learnerID, courseID string) (*model.Enrollment, error) {
	if err := validateID(learnerID); err != nil {
		return nil, err
	}
	if err := validateID(courseID); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO enrollments (learner_id, course_id, status, progress_percentage)
		VALUES ($1, $2, $3, 0)
		RETURNING ` + enrollmentColumns

	e, err := scanEnrollment(r.db.QueryRow(ctx, query, learnerID, courseID, model.EnrollmentActive))
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, ErrConflict
		case isForeignKeyViolation(err):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка записи на курс %s: %w", courseID, err)
	}
	return e, nil
}

func (r *enrollmentRepo) GetByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*model.Enrollment, error) {
	if err := validateID(learnerID); err != nil {
		return nil, err
	}
	if err := validateID(courseID); err != nil {
		return nil, err
	}

	query := `SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE learner_id = $1 AND course_id = $2`

	e, err := scanEnrollment(r.db.QueryRow(ctx, query, learnerID, courseID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи на курс %s: %w", courseID, err)
	}
	return e, nil
}

func (r *enrollmentRepo) ListByLearner(ctx context.Context, learnerID string, limit, offset int) ([]*model.Enrollment, int, error) {
	if err := validateID(learnerID); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE learner_id = $1`, learnerID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	query := `SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE learner_id = $1
		ORDER BY enrolled_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, learnerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения записей: %w", err)
	}
	defer rows.Close()

	var items []*model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *enrollmentRepo) Probe(ctx context.Context) error {
	return probe(ctx, r.db, "enrollments")
}

// scanEnrollment сканирует строку в model.Enrollment.
func scanEnrollment(row pgx.Row) (*model.Enrollment, error) {
	e := &model.Enrollment{}
	err := row.Scan(
		&e.ID, &e.LearnerID, &e.CourseID, &e.Status,
		&e.ProgressPercentage, &e.EnrolledAt, &e.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}
