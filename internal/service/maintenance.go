// maintenance.go — обслуживание профилей: удаление дубликатов.
// Запускается только явно (maintenance API), никогда автоматически.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/repository"
)

var (
	dedupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sf_maintenance_dedup_runs_total",
			Help: "Количество запусков удаления дубликатов профилей по результату",
		},
		[]string{"result"},
	)
	dedupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_maintenance_profiles_deleted_total",
		Help: "Количество удалённых строк-дубликатов профилей",
	})
)

// DuplicateStore — операции репозитория профилей, нужные обслуживанию.
type DuplicateStore interface {
	ListByUserID(ctx context.Context, userID string) ([]model.Profile, error)
	DeleteDuplicates(ctx context.Context, userID string, keepRowID int64) (int64, error)
	FindDuplicates(ctx context.Context, limit int) ([]model.DuplicateGroup, error)
}

// DedupResult — итог удаления дубликатов одного пользователя.
type DedupResult struct {
	UserID    string `json:"user_id"`
	KeptRowID int64  `json:"kept_row_id"`
	Found     int    `json:"found"`
	Deleted   int64  `json:"deleted"`
}

// BatchDedupResult — итог обхода всех групп дубликатов.
type BatchDedupResult struct {
	Groups  int           `json:"groups"`
	Deleted int64         `json:"deleted"`
	Failed  int           `json:"failed"`
	Results []DedupResult `json:"results"`
}

// ProfileMaintenance — сервис обслуживания профилей.
type ProfileMaintenance struct {
	store  DuplicateStore
	logger *slog.Logger
}

// NewProfileMaintenance создаёт сервис обслуживания профилей.
func NewProfileMaintenance(store DuplicateStore, logger *slog.Logger) *ProfileMaintenance {
	return &ProfileMaintenance{
		store:  store,
		logger: logger.With(slog.String("component", "profile_maintenance")),
	}
}

// Deduplicate оставляет первую строку профиля (самую раннюю) и удаляет
// остальные одной транзакцией. С одной строкой удаление не выполняется.
func (s *ProfileMaintenance) Deduplicate(ctx context.Context, userID string) (*DedupResult, error) {
	rows, err := s.store.ListByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidID) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, fmt.Errorf("получение профилей %s: %w", userID, err)
	}
	if len(rows) == 0 {
		return nil, ErrProfileNotFound
	}

	result := &DedupResult{
		UserID:    userID,
		KeptRowID: rows[0].RowID,
		Found:     len(rows),
	}
	if len(rows) == 1 {
		dedupRunsTotal.WithLabelValues("clean").Inc()
		return result, nil
	}

	deleted, err := s.store.DeleteDuplicates(ctx, userID, result.KeptRowID)
	if err != nil {
		dedupRunsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: строка %d профиля %s удалена во время операции",
				ErrConflict, result.KeptRowID, userID)
		}
		return nil, fmt.Errorf("удаление дубликатов %s: %w", userID, err)
	}
	result.Deleted = deleted

	dedupRunsTotal.WithLabelValues("deleted").Inc()
	dedupDeletedTotal.Add(float64(deleted))
	s.logger.Info("Дубликаты профиля удалены",
		slog.String("user_id", userID),
		slog.Int64("kept_row_id", result.KeptRowID),
		slog.Int("found", result.Found),
		slog.Int64("deleted", deleted),
	)
	return result, nil
}

// DeduplicateAll обходит до limit групп дубликатов.
// Ошибка по одному пользователю не прерывает обход.
func (s *ProfileMaintenance) DeduplicateAll(ctx context.Context, limit int) (*BatchDedupResult, error) {
	groups, err := s.store.FindDuplicates(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("поиск дубликатов: %w", err)
	}

	batch := &BatchDedupResult{Groups: len(groups), Results: make([]DedupResult, 0, len(groups))}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		res, err := s.Deduplicate(ctx, g.UserID)
		if err != nil {
			batch.Failed++
			s.logger.Warn("Не удалось удалить дубликаты",
				slog.String("user_id", g.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		batch.Deleted += res.Deleted
		batch.Results = append(batch.Results, *res)
	}

	s.logger.Info("Обход дубликатов завершён",
		slog.Int("groups", batch.Groups),
		slog.Int64("deleted", batch.Deleted),
		slog.Int("failed", batch.Failed),
	)
	return batch, nil
}

// FindDuplicates возвращает группы дубликатов без изменений.
func (s *ProfileMaintenance) FindDuplicates(ctx context.Context, limit int) ([]model.DuplicateGroup, error) {
	return s.store.FindDuplicates(ctx, limit)
}
