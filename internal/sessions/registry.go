package sessions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/J-Shotayo/skill-Forge/internal/identity"
	"github.com/J-Shotayo/skill-Forge/internal/reconciler"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sf_sessions_active",
		Help: "Количество сессий с активным согласователем в памяти",
	})
	sessionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_sessions_evicted_total",
		Help: "Количество сессий, вытесненных из реестра (TTL, размер, выход)",
	})
)

// Entry — клиентская сессия: клиент Identity Service и согласователь.
type Entry struct {
	ID         string
	Auth       *identity.AuthClient
	Reconciler *reconciler.Reconciler
}

// Deps — общие зависимости всех сессий.
type Deps struct {
	Client   *identity.Client
	Store    identity.Store
	Profiles reconciler.ProfileStore
	Policy   reconciler.Policy
	// TokenTTL — время хранения токенов в Store
	TokenTTL time.Duration
}

// Registry хранит согласователи сессий в LRU с TTL.
// Вытесненная запись закрывается; токены остаются в Store,
// и следующий запрос той же сессии поднимает согласователь заново.
type Registry struct {
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	cache   *expirable.LRU[string, *Entry]
	closing sync.WaitGroup
}

// NewRegistry создаёт реестр на size сессий с временем жизни ttl.
func NewRegistry(deps Deps, size int, ttl time.Duration, logger *slog.Logger) *Registry {
	r := &Registry{
		deps:   deps,
		logger: logger.With(slog.String("component", "session_registry")),
	}
	r.cache = expirable.NewLRU[string, *Entry](size, r.onEvict, ttl)
	return r
}

// Acquire возвращает сессию id, создавая и запуская её при отсутствии.
func (r *Registry) Acquire(id string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.cache.Get(id); ok {
		return e
	}

	auth := identity.NewAuthClient(r.deps.Client, r.deps.Store, id, r.deps.TokenTTL, r.logger)
	rec := reconciler.New(auth, r.deps.Profiles, r.deps.Policy, r.logger)
	e := &Entry{ID: id, Auth: auth, Reconciler: rec}
	r.cache.Add(id, e)
	rec.Start()

	sessionsActive.Set(float64(r.cache.Len()))
	r.logger.Debug("Сессия поднята", slog.Int("active", r.cache.Len()))
	return e
}

// Remove закрывает и удаляет сессию.
func (r *Registry) Remove(id string) {
	r.cache.Remove(id)
	sessionsActive.Set(float64(r.cache.Len()))
}

// Len — количество сессий в памяти (для диагностики).
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close закрывает все сессии и дожидается завершения их согласователей.
func (r *Registry) Close() {
	r.cache.Purge()
	r.closing.Wait()
	sessionsActive.Set(0)
	r.logger.Info("Реестр сессий очищен")
}

// onEvict вызывается под блокировкой LRU, поэтому Close уходит в горутину.
func (r *Registry) onEvict(_ string, e *Entry) {
	sessionsEvictedTotal.Inc()
	r.closing.Add(1)
	go func() {
		defer r.closing.Done()
		e.Reconciler.Close()
	}()
}
