// Пакет reconciler — согласование сессии и профиля одной клиентской сессии.
//
// Reconciler читает сессию Identity Service, находит (или создаёт) профиль
// в Record Store и публикует наблюдаемое состояние {identity, profile, isLoading}.
// Каждый цикл согласования помечается поколением; результат применяется,
// только если его поколение всё ещё последнее.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/domain/phase"
	"github.com/J-Shotayo/skill-Forge/internal/identity"
)

const tracerName = "github.com/J-Shotayo/skill-Forge/internal/reconciler"

var (
	errNoProfile  = errors.New("профиль не найден")
	errSuperseded = errors.New("цикл согласования вытеснен")
)

// SessionSource — сессия Identity Service одной клиентской сессии.
// Реализуется *identity.AuthClient.
type SessionSource interface {
	GetSession(ctx context.Context) (*identity.Session, error)
	GetUser(ctx context.Context) (*identity.User, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(handler func(identity.AuthEvent)) func()
}

// ProfileStore — чтение и создание профилей.
// Реализуется repository.ProfileRepository.
type ProfileStore interface {
	ListByUserID(ctx context.Context, userID string) ([]model.Profile, error)
	Create(ctx context.Context, p *model.Profile) error
}

// State — наблюдаемое состояние сессии.
type State struct {
	Phase      phase.Phase     `json:"phase"`
	Identity   *model.Identity `json:"identity"`
	Profile    *model.Profile  `json:"profile"`
	IsLoading  bool            `json:"isLoading"`
	Error      string          `json:"error,omitempty"`
	Generation uint64          `json:"generation"`
}

// Reconciler — владелец состояния одной клиентской сессии.
type Reconciler struct {
	auth     SessionSource
	profiles ProfileStore
	policy   Policy
	logger   *slog.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	machine *phase.Machine
	state   State
	gen     uint64
	subs    map[int]chan State
	nextSub int
	closed  bool
	started bool

	baseCtx     context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// New создаёт Reconciler в фазе initializing.
func New(auth SessionSource, profiles ProfileStore, policy Policy, logger *slog.Logger) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		auth:     auth,
		profiles: profiles,
		policy:   policy,
		logger:   logger.With(slog.String("component", "reconciler")),
		tracer:   otel.Tracer(tracerName),
		machine:  phase.NewMachine(),
		state:    State{Phase: phase.Initializing, IsLoading: true},
		subs:     make(map[int]chan State),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Start подписывается на события Identity Service и запускает
// первое чтение сессии в фоне. Повторный вызов ничего не делает.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.unsubscribe = r.auth.OnAuthStateChange(r.onAuthEvent)
	r.mu.Unlock()

	r.spawn(func(ctx context.Context) {
		r.refresh(ctx, string(identity.EventInitialSession))
	})
}

// Close отменяет незавершённые циклы, отписывается от событий
// и закрывает каналы подписчиков. Идемпотентен.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.gen++
	unsubscribe := r.unsubscribe
	r.mu.Unlock()

	r.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	r.wg.Wait()

	r.mu.Lock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.mu.Unlock()
}

// --- Наблюдение ---

// State возвращает снимок текущего состояния.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History возвращает последние переходы между фазами.
func (r *Reconciler) History() []phase.TransitionRecord {
	return r.machine.History()
}

// Subscribe возвращает канал состояний и функцию отписки.
// Канал сразу содержит текущее состояние; медленный читатель
// получает только последнее.
func (r *Reconciler) Subscribe() (<-chan State, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan State, 1)
	if r.closed {
		close(ch)
		return ch, func() {}
	}

	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.state

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			close(c)
			delete(r.subs, id)
		}
	}
}

// --- Операции ---

// Refresh перечитывает сессию и согласует профиль, ожидая завершения цикла.
// Цикл выполняется на контексте Reconciler: отмена ctx прекращает только
// ожидание, и цикл всё равно доходит до итоговой фазы.
func (r *Reconciler) Refresh(ctx context.Context) {
	r.await(ctx, func(base context.Context) {
		r.refresh(base, "refresh")
	})
}

// SignOut завершает сессию в Identity Service. Состояние становится
// unauthenticated при любом исходе; ошибка сервиса возвращается.
func (r *Reconciler) SignOut(ctx context.Context) error {
	err := r.auth.SignOut(ctx)
	r.reset("signout")
	if err != nil {
		r.logger.Warn("Ошибка выхода в Identity Service, локальное состояние сброшено",
			slog.String("error", err.Error()),
		)
	}
	return err
}

// handleAuthEvent — onAuthEvent с ожиданием завершения цикла (или отмены ctx).
func (r *Reconciler) handleAuthEvent(ctx context.Context, ev identity.AuthEvent) {
	gen, ident, ok := r.admit(ev)
	if !ok {
		return
	}
	r.await(ctx, func(base context.Context) {
		r.resolve(base, gen, ident, string(ev.Type))
	})
}

// onAuthEvent — обработчик подписки: решение принимается сразу,
// согласование выполняется в фоне.
func (r *Reconciler) onAuthEvent(ev identity.AuthEvent) {
	gen, ident, ok := r.admit(ev)
	if !ok {
		return
	}
	r.spawn(func(ctx context.Context) {
		r.resolve(ctx, gen, ident, string(ev.Type))
	})
}

// admit решает, что делать с событием. Возвращает поколение и Identity,
// если нужен новый цикл согласования.
func (r *Reconciler) admit(ev identity.AuthEvent) (uint64, model.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, model.Identity{}, false
	}

	reason := string(ev.Type)

	switch ev.Type {
	case identity.EventSignedOut:
		r.gen++
		r.setLocked(r.gen, State{Phase: phase.Unauthenticated}, reason)
		return 0, model.Identity{}, false

	case identity.EventTokenRefreshed, identity.EventUserUpdated:
		if ev.Session == nil {
			return 0, model.Identity{}, false
		}
		ident := ev.Session.User.Identity()
		if r.state.Identity != nil && r.state.Identity.ID == ident.ID {
			// Та же Identity: обновляем её на месте, профиль не перечитываем.
			st := r.state
			st.Identity = &ident
			r.state = st
			r.publishLocked()
			return 0, model.Identity{}, false
		}
		if r.state.Phase.IsLoading() {
			return 0, model.Identity{}, false
		}
	}

	if ev.Session == nil {
		r.gen++
		r.setLocked(r.gen, State{Phase: phase.Unauthenticated}, reason)
		return 0, model.Identity{}, false
	}

	r.gen++
	return r.gen, ev.Session.User.Identity(), true
}

// refresh читает сессию в новом поколении и согласует профиль.
func (r *Reconciler) refresh(ctx context.Context, reason string) {
	gen, ok := r.nextGeneration()
	if !ok {
		return
	}

	sess, err := r.auth.GetSession(ctx)
	if err != nil {
		r.logger.Warn("Не удалось прочитать сессию",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		r.apply(gen, State{Phase: phase.Unauthenticated}, "session_error")
		return
	}
	if sess == nil {
		r.apply(gen, State{Phase: phase.Unauthenticated}, "no_session")
		return
	}

	r.resolve(ctx, gen, sess.User.Identity(), reason)
}

// resolve — цикл согласования профиля для ident в поколении gen.
func (r *Reconciler) resolve(ctx context.Context, gen uint64, ident model.Identity, reason string) {
	ctx, span := r.tracer.Start(ctx, "reconciler.resolve",
		trace.WithAttributes(
			attribute.String("user.id", ident.ID),
			attribute.String("reconciler.reason", reason),
			attribute.Int64("reconciler.generation", int64(gen)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		resolutionDuration.WithLabelValues(sourceSession).Observe(time.Since(start).Seconds())
	}()

	identCopy := ident
	if !r.apply(gen, State{Phase: phase.ResolvingProfile, Identity: &identCopy}, reason) {
		resolutionsTotal.WithLabelValues(sourceSession, outcomeSuperseded).Inc()
		return
	}

	rows, err := r.lookup(ctx, gen, ident.ID)
	switch {
	case errors.Is(err, errSuperseded), ctx.Err() != nil:
		staleResultsTotal.Inc()
		resolutionsTotal.WithLabelValues(sourceSession, outcomeSuperseded).Inc()
		span.SetAttributes(attribute.String("reconciler.outcome", outcomeSuperseded))
		return

	case errors.Is(err, errNoProfile):
		r.create(ctx, span, gen, ident)
		return

	case err != nil:
		r.logger.Error("Профиль не получен после всех попыток",
			slog.String("user_id", ident.ID),
			slog.Int("attempts", r.policy.attempts()),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile lookup failed")
		r.finish(gen, State{Phase: phase.Degraded, Identity: &identCopy, Error: err.Error()}, outcomeDegraded)
		return
	}

	outcome := outcomeReady
	if len(rows) > 1 {
		duplicateProfilesTotal.WithLabelValues(sourceSession).Inc()
		r.logger.Warn("Найдено несколько профилей, используется первый",
			slog.String("user_id", ident.ID),
			slog.Int("count", len(rows)),
		)
		outcome = outcomeReadyDuplicates
	}

	profile := rows[0]
	span.SetAttributes(attribute.String("reconciler.outcome", outcome))
	r.finish(gen, State{Phase: phase.Ready, Identity: &identCopy, Profile: &profile}, outcome)
}

// lookup читает строки профиля под политикой повторов.
// Пустой результат считается неудачной попыткой.
func (r *Reconciler) lookup(ctx context.Context, gen uint64, userID string) ([]model.Profile, error) {
	var rows []model.Profile
	attempt := 0

	op := func() error {
		if !r.isCurrent(gen) {
			return backoff.Permanent(errSuperseded)
		}
		attempt++
		lookupAttemptsTotal.Inc()

		res, err := r.profiles.ListByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if len(res) == 0 {
			return errNoProfile
		}
		rows = res
		return nil
	}

	notify := func(err error, next time.Duration) {
		r.logger.Debug("Профиль не получен, повтор",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
			slog.Duration("next", next),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, r.policy.backOff(ctx), notify); err != nil {
		return nil, err
	}
	if !r.isCurrent(gen) {
		return nil, errSuperseded
	}
	return rows, nil
}

// create создаёт профиль по метаданным Identity (ровно одна попытка).
func (r *Reconciler) create(ctx context.Context, span trace.Span, gen uint64, ident model.Identity) {
	if !r.isCurrent(gen) {
		staleResultsTotal.Inc()
		resolutionsTotal.WithLabelValues(sourceSession, outcomeSuperseded).Inc()
		return
	}

	// Метаданные из сессии могут устареть, берём пользователя заново.
	source := ident
	if u, err := r.auth.GetUser(ctx); err != nil {
		r.logger.Debug("Не удалось получить пользователя, используются данные сессии",
			slog.String("user_id", ident.ID),
			slog.String("error", err.Error()),
		)
	} else if u != nil && u.ID == ident.ID {
		source = u.Identity()
	}

	profile := model.NewProfileFromIdentity(source, model.RoleLearner)
	identCopy := ident

	if err := r.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, context.Canceled) || !r.isCurrent(gen) {
			staleResultsTotal.Inc()
			resolutionsTotal.WithLabelValues(sourceSession, outcomeSuperseded).Inc()
			return
		}
		r.logger.Error("Не удалось создать профиль",
			slog.String("user_id", ident.ID),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile create failed")
		r.finish(gen, State{
			Phase:    phase.Degraded,
			Identity: &identCopy,
			Error:    fmt.Sprintf("создание профиля: %v", err),
		}, outcomeCreateFailed)
		return
	}

	r.logger.Info("Профиль создан",
		slog.String("user_id", profile.ID),
		slog.String("role", string(profile.Role)),
	)
	span.SetAttributes(attribute.String("reconciler.outcome", outcomeCreated))
	r.finish(gen, State{Phase: phase.Ready, Identity: &identCopy, Profile: profile}, outcomeCreated)
}

// finish применяет итог цикла и учитывает исход в метриках.
func (r *Reconciler) finish(gen uint64, st State, outcome string) {
	if r.apply(gen, st, outcome) {
		resolutionsTotal.WithLabelValues(sourceSession, outcome).Inc()
		return
	}
	resolutionsTotal.WithLabelValues(sourceSession, outcomeSuperseded).Inc()
}

// reset безусловно переводит сессию в unauthenticated в новом поколении.
func (r *Reconciler) reset(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.gen++
	r.setLocked(r.gen, State{Phase: phase.Unauthenticated}, reason)
	resolutionsTotal.WithLabelValues(sourceSession, outcomeUnauthenticated).Inc()
}

// --- Поколения и состояние ---

func (r *Reconciler) nextGeneration() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, false
	}
	r.gen++
	return r.gen, true
}

func (r *Reconciler) isCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && gen == r.gen
}

// apply применяет состояние, если gen всё ещё текущее.
func (r *Reconciler) apply(gen uint64, st State, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setLocked(gen, st, reason)
}

// setLocked — apply под уже захваченным r.mu.
func (r *Reconciler) setLocked(gen uint64, st State, reason string) bool {
	if r.closed || gen != r.gen {
		staleResultsTotal.Inc()
		return false
	}

	if err := r.machine.TransitionTo(st.Phase, reason); err != nil {
		r.logger.Error("Недопустимый переход фазы",
			slog.String("from", string(r.state.Phase)),
			slog.String("to", string(st.Phase)),
			slog.String("error", err.Error()),
		)
		return false
	}

	st.Generation = gen
	st.IsLoading = st.Phase.IsLoading()
	r.state = st
	r.publishLocked()

	r.logger.Debug("Фаза сессии изменена",
		slog.String("phase", string(st.Phase)),
		slog.String("reason", reason),
		slog.Uint64("generation", gen),
	)
	return true
}

// publishLocked отправляет состояние подписчикам без блокировки:
// в буфере остаётся только последнее.
func (r *Reconciler) publishLocked() {
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- r.state:
		default:
		}
	}
}

// spawn запускает фоновую работу на базовом контексте.
// Возвращает false, если Reconciler уже закрыт.
func (r *Reconciler) spawn(fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn(r.baseCtx)
	}()
	return true
}

// await запускает fn через spawn и ждёт её завершения либо отмены ctx.
// Отменить цикл может только Close; span вызывающего остаётся родителем.
func (r *Reconciler) await(ctx context.Context, fn func(ctx context.Context)) {
	done := make(chan struct{})
	parent := trace.SpanFromContext(ctx)
	started := r.spawn(func(base context.Context) {
		defer close(done)
		fn(trace.ContextWithSpan(base, parent))
	})
	if !started {
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}
