// Пакет server — HTTP-сервер SkillForge с graceful shutdown.
// Без TLS: TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/J-Shotayo/skill-Forge/internal/api/handlers"
	"github.com/J-Shotayo/skill-Forge/internal/api/middleware"
	"github.com/J-Shotayo/skill-Forge/internal/config"
)

// Handlers — обработчики всех групп маршрутов.
type Handlers struct {
	Health      *handlers.HealthHandler
	Auth        *handlers.AuthHandler
	Session     *handlers.SessionHandler
	Maintenance *handlers.MaintenanceHandler
	Enrollments *handlers.EnrollmentHandler
	Catalog     *handlers.CatalogHandler
}

// NewRouter строит маршруты.
// Health, metrics и каталог — без сессии; /auth и остальной /api/v1 — с сессией браузера;
// /api/v1/maintenance — только Bearer токен service-роли.
func NewRouter(h Handlers, binder *middleware.SessionBinder, jwtAuth *middleware.JWTAuth, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.Metrics)

	router.Route("/auth", func(r chi.Router) {
		r.Use(binder.Middleware())
		r.Post("/signin", h.Auth.SignIn)
		r.Post("/signup", h.Auth.SignUp)
		r.Post("/resend", h.Auth.Resend)
		r.Post("/signout", h.Auth.SignOut)
		r.Get("/oauth/{provider}", h.Auth.OAuth)
		r.Get("/callback", h.Auth.Callback)
		r.Get("/confirm", h.Auth.Confirm)
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/courses", h.Catalog.ListCourses)
		r.Get("/categories", h.Catalog.ListCategories)

		r.Route("/maintenance", func(r chi.Router) {
			r.Use(jwtAuth.Middleware())
			r.Get("/diagnostics", h.Maintenance.Diagnostics)
			r.Get("/profiles/duplicates", h.Maintenance.ListDuplicates)
			r.Post("/profiles/deduplicate", h.Maintenance.DeduplicateAll)
			r.Post("/profiles/{userID}/deduplicate", h.Maintenance.DeduplicateProfile)
		})

		r.Group(func(r chi.Router) {
			r.Use(binder.Middleware())
			r.Get("/session", h.Session.Get)
			r.Get("/session/history", h.Session.History)
			r.Get("/session/events", h.Session.Events)
			r.Post("/session/refresh", h.Session.Refresh)
			r.Post("/enrollments", h.Enrollments.Enroll)
			r.Get("/enrollments", h.Enrollments.List)
		})
	})

	return otelhttp.NewHandler(router, "skillforge")
}

// Server — HTTP-сервер SkillForge.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер.
// Контексты запросов отменяются в начале shutdown, иначе потоки SSE
// удерживали бы соединения до истечения ShutdownTimeout.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	baseCtx, cancelBase := context.WithCancel(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает SIGINT/SIGTERM, затем graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
