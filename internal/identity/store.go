// store.go — хранилище токенов сессий и PKCE verifier.
// MemoryStore — expirable LRU в памяти процесса, RedisStore — общий для реплик.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ErrStoreMiss — ключ отсутствует в хранилище (или истёк).
var ErrStoreMiss = errors.New("ключ не найден в хранилище")

// Префиксы ключей хранилища.
const (
	sessionKeyPrefix = "session:"
	flowKeyPrefix    = "flow:"
)

// Store — хранилище сериализованных сессий и PKCE verifier.
type Store interface {
	// Get возвращает значение или ErrStoreMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set сохраняет значение на ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete удаляет ключ. Отсутствие ключа — не ошибка.
	Delete(ctx context.Context, key string) error
}

// --- MemoryStore ---

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore — хранилище в памяти на базе expirable LRU.
// Общий TTL LRU ограничивает сверху, индивидуальный ttl проверяется при чтении.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, memoryEntry]
}

// NewMemoryStore создаёт хранилище на size ключей с максимальным временем жизни maxTTL.
func NewMemoryStore(size int, maxTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrStoreMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, ErrStoreMiss
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.cache.Add(key, entry)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

// Len возвращает количество ключей (включая ещё не вычищенные истёкшие).
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// --- RedisStore ---

// RedisStore — хранилище в Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore создаёт хранилище в Redis с общим префиксом ключей.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("подключение к Redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStoreMiss
	}
	if err != nil {
		return nil, fmt.Errorf("чтение ключа из Redis: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("запись ключа в Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("удаление ключа из Redis: %w", err)
	}
	return nil
}

// CheckReady проверяет доступность Redis.
func (s *RedisStore) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}
