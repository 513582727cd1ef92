package reconciler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy — политика повторных попыток чтения профиля.
type Policy struct {
	// MaxAttempts — общее количество попыток чтения (не меньше 1)
	MaxAttempts int
	// Delay — фиксированная пауза между попытками; 0 — без пауз
	Delay time.Duration
	// HeadStart — пауза перед первой проверкой в callback
	HeadStart time.Duration
	// NewBackOff — собственная стратегия пауз (перекрывает Delay)
	NewBackOff func() backoff.BackOff
}

// DefaultPolicy возвращает политику по умолчанию: 3 попытки через 1 секунду,
// 1.5 секунды форы в callback.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       time.Second,
		HeadStart:   1500 * time.Millisecond,
	}
}

// attempts возвращает количество попыток с нижней границей 1.
func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// backOff строит стратегию для одного цикла согласования.
// Без джиттера и роста пауз; останавливается по ctx.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	switch {
	case p.NewBackOff != nil:
		b = p.NewBackOff()
	case p.Delay > 0:
		b = backoff.NewConstantBackOff(p.Delay)
	default:
		b = &backoff.ZeroBackOff{}
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts()-1)), ctx)
}

// waitHeadStart выдерживает паузу HeadStart с учётом отмены ctx.
func (p Policy) waitHeadStart(ctx context.Context) error {
	if p.HeadStart <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.HeadStart)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
