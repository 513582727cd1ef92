// diagnostics.go — сводка состояния для maintenance API:
// наличие настроек, доступность таблиц, группы дубликатов, зависимости.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/J-Shotayo/skill-Forge/internal/config"
	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
)

// duplicatesLimit — сколько групп дубликатов показывает диагностика.
const duplicatesLimit = 50

// Prober — лёгкая проверка доступности таблицы.
type Prober interface {
	Probe(ctx context.Context) error
}

// DuplicateFinder — поиск групп дубликатов профилей.
type DuplicateFinder interface {
	FindDuplicates(ctx context.Context, limit int) ([]model.DuplicateGroup, error)
}

// ConfigCheck — наличие параметра конфигурации (значение не раскрывается).
type ConfigCheck struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

// TableCheck — результат проверки таблицы.
type TableCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// DiagnosticsReport — сводка диагностики.
type DiagnosticsReport struct {
	Config          []ConfigCheck          `json:"config"`
	Tables          []TableCheck           `json:"tables"`
	Duplicates      []model.DuplicateGroup `json:"duplicates"`
	DuplicatesError string                 `json:"duplicates_error,omitempty"`
	Dependencies    map[string]bool        `json:"dependencies,omitempty"`
	SessionsActive  *int                   `json:"sessions_active,omitempty"`
	Version         string                 `json:"version"`
	CheckedAt       time.Time              `json:"checked_at"`
}

// NamedProber — таблица и её проверка.
type NamedProber struct {
	Name   string
	Prober Prober
}

// DiagnosticsService собирает DiagnosticsReport.
type DiagnosticsService struct {
	config     []ConfigCheck
	tables     []NamedProber
	duplicates DuplicateFinder
	deps       func() map[string]bool
	sessions   func() int
	logger     *slog.Logger
}

// NewDiagnosticsService создаёт сервис диагностики.
// deps — текущее состояние зависимостей (может быть nil).
func NewDiagnosticsService(
	cfg *config.Config,
	tables []NamedProber,
	duplicates DuplicateFinder,
	deps func() map[string]bool,
	logger *slog.Logger,
) *DiagnosticsService {
	return &DiagnosticsService{
		config:     ConfigPresence(cfg),
		tables:     tables,
		duplicates: duplicates,
		deps:       deps,
		logger:     logger.With(slog.String("component", "diagnostics")),
	}
}

// WithSessionCounter добавляет в отчёт число сессий в памяти процесса.
func (s *DiagnosticsService) WithSessionCounter(count func() int) *DiagnosticsService {
	s.sessions = count
	return s
}

// ConfigPresence возвращает список ключевых параметров и признак их наличия.
func ConfigPresence(cfg *config.Config) []ConfigCheck {
	return []ConfigCheck{
		{Name: "SF_IDENTITY_URL", Present: cfg.IdentityURL != ""},
		{Name: "SF_IDENTITY_ANON_KEY", Present: cfg.IdentityAnonKey != ""},
		{Name: "SF_PUBLIC_URL", Present: cfg.PublicURL != ""},
		{Name: "SF_SESSION_SECRET", Present: cfg.SessionSecret != ""},
		{Name: "SF_REDIS_ADDR", Present: cfg.RedisAddr != ""},
		{Name: "SF_OTEL_ENDPOINT", Present: cfg.OTelEndpoint != ""},
	}
}

// Run выполняет все проверки. Отдельные сбои попадают в отчёт, а не в ошибку.
func (s *DiagnosticsService) Run(ctx context.Context) *DiagnosticsReport {
	report := &DiagnosticsReport{
		Config:    s.config,
		Tables:    make([]TableCheck, 0, len(s.tables)),
		Version:   config.Version,
		CheckedAt: time.Now().UTC(),
	}

	for _, t := range s.tables {
		check := TableCheck{Name: t.Name, OK: true}
		if err := t.Prober.Probe(ctx); err != nil {
			check.OK = false
			check.Error = err.Error()
			s.logger.Warn("Таблица недоступна",
				slog.String("table", t.Name),
				slog.String("error", err.Error()),
			)
		}
		report.Tables = append(report.Tables, check)
	}

	groups, err := s.duplicates.FindDuplicates(ctx, duplicatesLimit)
	if err != nil {
		report.DuplicatesError = err.Error()
	} else {
		report.Duplicates = groups
	}
	if report.Duplicates == nil {
		report.Duplicates = []model.DuplicateGroup{}
	}

	if s.deps != nil {
		report.Dependencies = s.deps()
	}
	if s.sessions != nil {
		n := s.sessions()
		report.SessionsActive = &n
	}
	return report
}
