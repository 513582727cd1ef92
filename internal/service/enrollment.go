package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/repository"
)

// EnrollmentService — запись слушателей на курсы.
type EnrollmentService struct {
	repo   repository.EnrollmentRepository
	logger *slog.Logger
}

// NewEnrollmentService создаёт сервис записей на курсы.
func NewEnrollmentService(repo repository.EnrollmentRepository, logger *slog.Logger) *EnrollmentService {
	return &EnrollmentService{
		repo:   repo,
		logger: logger.With(slog.String("component", "enrollment_service")),
	}
}

// Enroll записывает владельца профиля на курс.
// Повторная запись не ошибка: возвращается существующая запись и created=false.
func (s *EnrollmentService) Enroll(ctx context.Context, profile *model.Profile, courseID string) (*model.Enrollment, bool, error) {
	if profile == nil {
		return nil, false, ErrProfileNotReady
	}

	e, err := s.repo.Create(ctx, profile.ID, courseID)
	switch {
	case err == nil:
		s.logger.Info("Слушатель записан на курс",
			slog.String("learner_id", profile.ID),
			slog.String("course_id", courseID),
		)
		return e, true, nil

	case errors.Is(err, repository.ErrConflict):
		existing, getErr := s.repo.GetByLearnerAndCourse(ctx, profile.ID, courseID)
		if getErr != nil {
			return nil, false, fmt.Errorf("получение существующей записи: %w", getErr)
		}
		return existing, false, nil

	case errors.Is(err, repository.ErrNotFound):
		return nil, false, fmt.Errorf("%w: курс %s", ErrNotFound, courseID)

	case errors.Is(err, repository.ErrInvalidID):
		return nil, false, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil, false, err
}

// List возвращает записи владельца профиля.
func (s *EnrollmentService) List(ctx context.Context, profile *model.Profile, limit, offset int) ([]*model.Enrollment, int, error) {
	if profile == nil {
		return nil, 0, ErrProfileNotReady
	}
	return s.repo.ListByLearner(ctx, profile.ID, limit, offset)
}
