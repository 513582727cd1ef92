package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/identity"
)

// ErrCodeExchange — одноразовый код не удалось обменять на сессию.
var ErrCodeExchange = errors.New("ошибка обмена кода на сессию")

// CodeExchanger — обмен одноразового кода на сессию.
// Реализуется *identity.AuthClient.
type CodeExchanger interface {
	ExchangeCodeForSession(ctx context.Context, code string) (*identity.Session, error)
}

// CallbackStore — операции над профилями, нужные callback.
// Реализуется repository.ProfileRepository.
type CallbackStore interface {
	ProfileStore
	DeleteDuplicates(ctx context.Context, userID string, keepRowID int64) (int64, error)
}

// CallbackRequest — параметры redirect с одноразовым кодом.
type CallbackRequest struct {
	Code string
	// Role — подсказка роли для нового профиля (если в метаданных её нет)
	Role model.Role
}

// CallbackResult — итог обработки callback.
type CallbackResult struct {
	Session  *identity.Session
	Identity model.Identity
	// Outcome — что сделано с профилем (found, created, create_failed,
	// deduplicated, lookup_failed)
	Outcome string
	// Deleted — сколько дубликатов удалено
	Deleted int64
}

// Исходы callback.
const (
	CallbackFound        = "found"
	CallbackCreated      = "created"
	CallbackCreateFailed = "create_failed"
	CallbackDeduplicated = "deduplicated"
	CallbackLookupFailed = "lookup_failed"
)

// CallbackService — синхронное согласование в одном запросе callback:
// обмен кода, пауза HeadStart, создание отсутствующего профиля
// или удаление дубликатов.
type CallbackService struct {
	store  CallbackStore
	policy Policy
	logger *slog.Logger
	tracer trace.Tracer
}

// NewCallbackService создаёт сервис callback.
func NewCallbackService(store CallbackStore, policy Policy, logger *slog.Logger) *CallbackService {
	return &CallbackService{
		store:  store,
		policy: policy,
		logger: logger.With(slog.String("component", "auth_callback")),
		tracer: otel.Tracer(tracerName),
	}
}

// Complete обрабатывает callback. Ошибка возвращается только если код
// не обменян (ErrCodeExchange) или ctx отменён; сбои работы с профилем
// логируются и не мешают redirect.
func (s *CallbackService) Complete(ctx context.Context, ex CodeExchanger, req CallbackRequest) (*CallbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.callback")
	defer span.End()

	start := time.Now()
	defer func() {
		resolutionDuration.WithLabelValues(sourceCallback).Observe(time.Since(start).Seconds())
	}()

	sess, err := ex.ExchangeCodeForSession(ctx, req.Code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "code exchange failed")
		return nil, fmt.Errorf("%w: %w", ErrCodeExchange, err)
	}

	ident := sess.User.Identity()
	span.SetAttributes(attribute.String("user.id", ident.ID))
	result := &CallbackResult{Session: sess, Identity: ident}

	if err := s.policy.waitHeadStart(ctx); err != nil {
		return nil, err
	}

	lookupAttemptsTotal.Inc()
	rows, err := s.store.ListByUserID(ctx, ident.ID)
	if err != nil {
		s.logger.Warn("Не удалось проверить профиль в callback",
			slog.String("user_id", ident.ID),
			slog.String("error", err.Error()),
		)
		result.Outcome = CallbackLookupFailed
		resolutionsTotal.WithLabelValues(sourceCallback, CallbackLookupFailed).Inc()
		return result, nil
	}

	switch {
	case len(rows) == 0:
		profile := model.NewProfileFromIdentity(ident, req.Role)
		if err := s.store.Create(ctx, profile); err != nil {
			s.logger.Error("Не удалось создать профиль в callback",
				slog.String("user_id", ident.ID),
				slog.String("error", err.Error()),
			)
			span.RecordError(err)
			result.Outcome = CallbackCreateFailed
		} else {
			s.logger.Info("Профиль создан в callback",
				slog.String("user_id", ident.ID),
				slog.String("role", string(profile.Role)),
			)
			result.Outcome = CallbackCreated
		}

	case len(rows) > 1:
		duplicateProfilesTotal.WithLabelValues(sourceCallback).Inc()
		keep := rows[0]
		deleted, err := s.store.DeleteDuplicates(ctx, ident.ID, keep.RowID)
		if err != nil {
			s.logger.Error("Не удалось удалить дубликаты профиля",
				slog.String("user_id", ident.ID),
				slog.Int("count", len(rows)),
				slog.String("error", err.Error()),
			)
			result.Outcome = CallbackFound
			break
		}
		s.logger.Warn("Дубликаты профиля удалены",
			slog.String("user_id", ident.ID),
			slog.Int64("kept_row_id", keep.RowID),
			slog.Int64("deleted", deleted),
		)
		result.Outcome = CallbackDeduplicated
		result.Deleted = deleted

	default:
		result.Outcome = CallbackFound
	}

	if ident.EmailConfirmed() {
		s.logger.Debug("Email подтверждён", slog.String("user_id", ident.ID))
	}

	span.SetAttributes(attribute.String("reconciler.outcome", result.Outcome))
	resolutionsTotal.WithLabelValues(sourceCallback, result.Outcome).Inc()
	return result, nil
}
