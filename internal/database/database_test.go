package database

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/J-Shotayo/skill-Forge/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers
// и возвращает конфигурацию для подключения к нему.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("skillforge_test"),
		postgres.WithUsername("skillforge"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("SF_DB_HOST", host)
	t.Setenv("SF_DB_PORT", port.Port())
	t.Setenv("SF_DB_NAME", "skillforge_test")
	t.Setenv("SF_DB_USER", "skillforge")
	t.Setenv("SF_DB_PASSWORD", "test-password")
	t.Setenv("SF_DB_SSL_MODE", "disable")
	t.Setenv("SF_IDENTITY_URL", "http://localhost:9999")
	t.Setenv("SF_IDENTITY_ANON_KEY", "test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestConnect проверяет подключение к PostgreSQL через pgxpool.
func TestConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	// До миграций сервис не готов.
	status, msg := NewReadinessChecker(pool).CheckReady()
	if status != "fail" || !strings.Contains(msg, "profiles") {
		t.Errorf("CheckReady() до миграций = %q (%s), ожидался fail с таблицей profiles", status, msg)
	}

	if err := Migrate(cfg, testLogger()); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if status, msg := NewReadinessChecker(pool).CheckReady(); status != "ok" {
		t.Errorf("CheckReady() после миграций = %q (%s), ожидался ok", status, msg)
	}
}

// TestConnect_Unreachable проверяет, что ожидание БД ограничено SF_DB_CONNECT_TIMEOUT.
func TestConnect_Unreachable(t *testing.T) {
	cfg := setupTestDB(t)
	cfg.DBPort = 1
	cfg.DBConnectTimeout = time.Second

	start := time.Now()
	if _, err := Connect(context.Background(), cfg, testLogger()); err == nil {
		t.Fatal("Connect() к закрытому порту должен вернуть ошибку")
	}
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("ожидание БД заняло %v", elapsed)
	}
}

// TestMigrate проверяет применение миграций и повторный запуск без изменений.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"profiles", "courses", "enrollments"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("проверка таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("таблица %s не создана", table)
		}
	}
}

// TestReadinessChecker_Closed проверяет статус fail для закрытого пула.
func TestReadinessChecker_Closed(t *testing.T) {
	cfg := setupTestDB(t)

	pool, err := Connect(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	pool.Close()

	if status, _ := NewReadinessChecker(pool).CheckReady(); status != "fail" {
		t.Errorf("CheckReady() = %q, ожидался fail", status)
	}
}
