// Точка входа SkillForge Session Service.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и хранилищу токенов, собирает клиента Identity Service, реестр сессий
// и HTTP API, запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/J-Shotayo/skill-Forge/internal/api/handlers"
	"github.com/J-Shotayo/skill-Forge/internal/api/middleware"
	"github.com/J-Shotayo/skill-Forge/internal/config"
	"github.com/J-Shotayo/skill-Forge/internal/database"
	"github.com/J-Shotayo/skill-Forge/internal/identity"
	"github.com/J-Shotayo/skill-Forge/internal/reconciler"
	"github.com/J-Shotayo/skill-Forge/internal/repository"
	"github.com/J-Shotayo/skill-Forge/internal/server"
	"github.com/J-Shotayo/skill-Forge/internal/service"
	"github.com/J-Shotayo/skill-Forge/internal/sessions"
	"github.com/J-Shotayo/skill-Forge/internal/telemetry"
)

// tokenStorePrefix — префикс ключей SkillForge в Redis.
const tokenStorePrefix = "skillforge:"

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("SkillForge Session Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Сервис остановлен с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// 3. Трейсинг (выключен без SF_OTEL_ENDPOINT)
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "skillforge", config.Version)
	if err != nil {
		logger.Warn("Трейсинг недоступен", slog.String("error", err.Error()))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Ошибка сброса трейсов", slog.String("error", err.Error()))
		}
	}()

	// 4. Миграции
	if cfg.DBMigrate {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return err
		}
	}

	// 5. PostgreSQL (pgxpool) и адаптер *sql.DB для topologymetrics
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 6. Хранилище токенов: Redis, если задан, иначе память процесса
	var tokenStore identity.Store
	var redisStore *identity.RedisStore
	if cfg.RedisAddr != "" {
		redisClient, err := identity.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		redisStore = identity.NewRedisStore(redisClient, tokenStorePrefix)
		tokenStore = redisStore
		logger.Info("Хранилище токенов: Redis", slog.String("addr", cfg.RedisAddr))
	} else {
		tokenStore = identity.NewMemoryStore(cfg.SessionCacheSize*2, cfg.TokenStoreTTL)
		logger.Warn("SF_REDIS_ADDR не задан, токены хранятся в памяти процесса")
	}

	// 7. Identity Service
	httpClient := &http.Client{Timeout: cfg.IdentityTimeout}
	idpClient := identity.New(cfg.IdentityURL, cfg.IdentityAnonKey, httpClient, logger)
	logger.Info("Клиент Identity Service создан", slog.String("url", cfg.IdentityURL))

	// 8. Репозитории и сервисы
	profileRepo := repository.NewProfileRepository(pool)
	enrollmentRepo := repository.NewEnrollmentRepository(pool)
	courseRepo := repository.NewCourseRepository(pool)

	policy := reconciler.Policy{
		MaxAttempts: cfg.ProfileMaxAttempts,
		Delay:       cfg.ProfileRetryDelay,
		HeadStart:   cfg.CallbackHeadStart,
	}
	callbackSvc := reconciler.NewCallbackService(profileRepo, policy, logger)
	maintenanceSvc := service.NewProfileMaintenance(profileRepo, logger)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, logger)
	catalogSvc := service.NewCatalogService(courseRepo, logger)

	// 9. topologymetrics
	var dephealthSvc *service.DephealthService
	dephealthSvc, err = service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "skillforge",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		IdentityURL:   cfg.IdentityURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		dephealthSvc = nil
	} else {
		defer dephealthSvc.Stop()
	}

	var deps func() map[string]bool
	if dephealthSvc != nil {
		deps = dephealthSvc.Health
	}
	diagnosticsSvc := service.NewDiagnosticsService(cfg,
		[]service.NamedProber{
			{Name: "profiles", Prober: profileRepo},
			{Name: "courses", Prober: courseRepo},
			{Name: "enrollments", Prober: enrollmentRepo},
		},
		profileRepo, deps, logger,
	)

	// 10. Сессии
	if cfg.SessionSecret == "" {
		logger.Warn("SF_SESSION_SECRET не задан, сессии не переживут рестарт")
	}
	cookies, err := sessions.NewCookieManager(cfg.SessionSecret, cfg.SecureCookies(), cfg.SessionTTL)
	if err != nil {
		return err
	}
	registry := sessions.NewRegistry(sessions.Deps{
		Client:   idpClient,
		Store:    tokenStore,
		Profiles: profileRepo,
		Policy:   policy,
		TokenTTL: cfg.TokenStoreTTL,
	}, cfg.SessionCacheSize, cfg.SessionTTL, logger)
	defer registry.Close()
	diagnosticsSvc.WithSessionCounter(registry.Len)

	// 11. JWT для maintenance API
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.IdentityJWKSURL,
		cfg.IdentityIssuer,
		cfg.MaintenanceRoles,
		httpClient,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		return err
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.IdentityJWKSURL),
		slog.Any("roles", cfg.MaintenanceRoles),
	)

	// 12. HTTP API
	health := handlers.NewHealthHandler(database.NewReadinessChecker(pool), idpClient)
	if redisStore != nil {
		health.WithTokenStore(redisStore)
	}
	router := server.NewRouter(server.Handlers{
		Health:      health,
		Auth:        handlers.NewAuthHandler(callbackSvc, cookies, registry, cfg.OAuthProviders, cfg.PublicURL, logger),
		Session:     handlers.NewSessionHandler(0, logger),
		Maintenance: handlers.NewMaintenanceHandler(maintenanceSvc, diagnosticsSvc, logger),
		Enrollments: handlers.NewEnrollmentHandler(enrollmentSvc, logger),
		Catalog:     handlers.NewCatalogHandler(catalogSvc, logger),
	}, middleware.NewSessionBinder(cookies, registry, logger), jwtAuth, logger)

	// 13. Сервер; после остановки defer закрывает реестр, topologymetrics и пул
	srv := server.New(cfg, logger, router)
	return srv.Run()
}
