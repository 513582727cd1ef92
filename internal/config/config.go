// Пакет config — загрузка и валидация конфигурации SkillForge Session Service
// из переменных окружения (префикс SF_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// envPrefix — общий префикс переменных окружения сервиса.
const envPrefix = "SF_"

// Config содержит все параметры конфигурации сервиса.
// Сырые значения читаются caarlos0/env по тегам, производные поля
// заполняются и проверяются в Load().
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8099)
	Port int `env:"PORT" envDefault:"8000"`
	// Уровень логирования (debug, info, warn, error)
	LogLevelName string `env:"LOG_LEVEL" envDefault:"info"`
	// Формат логов (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// Публичный URL сервиса для redirect-адресов (опционально)
	PublicURL string `env:"PUBLIC_URL"`

	// LogLevel — разобранный уровень логирования.
	LogLevel slog.Level `env:"-"`

	// --- PostgreSQL (Record Store) ---

	DBHost     string `env:"DB_HOST,required,notEmpty"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBName     string `env:"DB_NAME,required,notEmpty"`
	DBUser     string `env:"DB_USER,required,notEmpty"`
	DBPassword string `env:"DB_PASSWORD,required,notEmpty"`
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string `env:"DB_SSL_MODE" envDefault:"disable"`
	// Применять встроенные миграции при старте
	DBMigrate bool `env:"DB_MIGRATE" envDefault:"true"`
	// Размер пула подключений
	DBMaxConns int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	// Сколько ждать PostgreSQL при старте (повторы с экспоненциальной паузой)
	DBConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"30s"`

	// --- Identity Service ---

	// Базовый URL auth API (например, https://project.example.co/auth/v1)
	IdentityURL string `env:"IDENTITY_URL,required,notEmpty"`
	// Публичный (anon) ключ проекта, передаётся в заголовке apikey
	IdentityAnonKey string `env:"IDENTITY_ANON_KEY,required,notEmpty"`
	// URL JWKS (авто-вычисляется из IdentityURL, если не задан)
	IdentityJWKSURL string `env:"IDENTITY_JWKS_URL"`
	// Ожидаемый issuer access token (по умолчанию IdentityURL)
	IdentityIssuer string `env:"IDENTITY_ISSUER"`
	// Таймаут HTTP-клиента к Identity Service
	IdentityTimeout time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`
	// Разрешённые OAuth-провайдеры
	OAuthProviders []string `env:"OAUTH_PROVIDERS" envDefault:"google" envSeparator:","`

	// --- Политика согласования профиля ---

	// Количество попыток чтения профиля
	ProfileMaxAttempts int `env:"PROFILE_MAX_ATTEMPTS" envDefault:"3"`
	// Фиксированная пауза между попытками
	ProfileRetryDelay time.Duration `env:"PROFILE_RETRY_DELAY" envDefault:"1s"`
	// Пауза перед первой проверкой профиля в callback
	CallbackHeadStart time.Duration `env:"CALLBACK_HEAD_START" envDefault:"1500ms"`

	// --- Сессии ---

	// Ключ шифрования cookie (AES-256-GCM); пустой — случайный при старте
	SessionSecret string `env:"SESSION_SECRET"`
	// Время жизни записи в реестре сессий
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	// Максимальное количество сессий в памяти
	SessionCacheSize int `env:"SESSION_CACHE_SIZE" envDefault:"10000"`
	// Время хранения токенов в хранилище
	TokenStoreTTL time.Duration `env:"TOKEN_STORE_TTL" envDefault:"720h"`

	// --- Redis (хранилище токенов, опционально) ---

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// --- Обслуживание ---

	// Роли JWT (claim role), которым разрешены maintenance endpoints
	MaintenanceRoles []string `env:"MAINTENANCE_ROLES" envDefault:"service_role" envSeparator:","`
	// Допустимое отклонение часов при проверке JWT
	JWTLeeway time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration `env:"JWKS_REFRESH_INTERVAL" envDefault:"15m"`

	// --- topologymetrics ---

	DephealthGroup         string        `env:"DEPHEALTH_GROUP" envDefault:"skillforge"`
	DephealthCheckInterval time.Duration `env:"DEPHEALTH_CHECK_INTERVAL" envDefault:"15s"`

	// --- Трейсинг ---

	// OTLP/HTTP endpoint; пустой — трейсинг выключен
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load загружает конфигурацию из переменных окружения, валидирует
// поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("разбор переменных окружения: %w", err)
	}

	var err error

	// --- Сервер ---

	if cfg.Port < 8000 || cfg.Port > 8099 {
		return nil, fmt.Errorf("SF_PORT: значение %d вне допустимого диапазона 8000-8099", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(cfg.LogLevelName)
	if err != nil {
		return nil, fmt.Errorf("SF_LOG_LEVEL: %w", err)
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SF_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.PublicURL != "" {
		cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
		if _, err := url.ParseRequestURI(cfg.PublicURL); err != nil {
			return nil, fmt.Errorf("SF_PUBLIC_URL: некорректный URL %q", cfg.PublicURL)
		}
	}

	// --- PostgreSQL ---

	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("SF_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("SF_DB_MAX_CONNS: значение должно быть положительным")
	}
	if cfg.DBConnectTimeout <= 0 {
		return nil, fmt.Errorf("SF_DB_CONNECT_TIMEOUT: значение должно быть положительным")
	}

	// --- Identity Service ---

	cfg.IdentityURL = strings.TrimRight(cfg.IdentityURL, "/")
	if _, err := url.ParseRequestURI(cfg.IdentityURL); err != nil {
		return nil, fmt.Errorf("SF_IDENTITY_URL: некорректный URL %q", cfg.IdentityURL)
	}
	if cfg.IdentityJWKSURL == "" {
		cfg.IdentityJWKSURL = cfg.IdentityURL + "/.well-known/jwks.json"
	}
	if cfg.IdentityIssuer == "" {
		cfg.IdentityIssuer = cfg.IdentityURL
	}
	if cfg.IdentityTimeout <= 0 {
		return nil, fmt.Errorf("SF_IDENTITY_TIMEOUT: значение должно быть положительным")
	}
	cfg.OAuthProviders = normalizeList(cfg.OAuthProviders)

	// --- Политика согласования ---

	if cfg.ProfileMaxAttempts < 1 || cfg.ProfileMaxAttempts > 10 {
		return nil, fmt.Errorf("SF_PROFILE_MAX_ATTEMPTS: значение %d вне допустимого диапазона 1-10", cfg.ProfileMaxAttempts)
	}
	if cfg.ProfileRetryDelay < 0 {
		return nil, fmt.Errorf("SF_PROFILE_RETRY_DELAY: отрицательная длительность")
	}
	if cfg.CallbackHeadStart < 0 {
		return nil, fmt.Errorf("SF_CALLBACK_HEAD_START: отрицательная длительность")
	}
	// Callback и согласователь сессии создают профиль независимо. Проверка
	// в callback должна прийти раньше последнего чтения согласователя,
	// иначе оба увидят пустой результат и создадут по строке.
	if window := cfg.ResolutionWindow(); cfg.CallbackHeadStart >= window {
		return nil, fmt.Errorf(
			"SF_CALLBACK_HEAD_START (%s) должен быть меньше (SF_PROFILE_MAX_ATTEMPTS-1)*SF_PROFILE_RETRY_DELAY (%s)",
			cfg.CallbackHeadStart, window,
		)
	}

	// --- Сессии ---

	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SF_SESSION_TTL: значение должно быть положительным")
	}
	if cfg.SessionCacheSize < 1 {
		return nil, fmt.Errorf("SF_SESSION_CACHE_SIZE: значение должно быть положительным")
	}
	if cfg.TokenStoreTTL <= 0 {
		return nil, fmt.Errorf("SF_TOKEN_STORE_TTL: значение должно быть положительным")
	}

	cfg.MaintenanceRoles = normalizeList(cfg.MaintenanceRoles)
	if len(cfg.MaintenanceRoles) == 0 {
		return nil, fmt.Errorf("SF_MAINTENANCE_ROLES: нужна хотя бы одна роль")
	}

	if cfg.DephealthCheckInterval <= 0 {
		return nil, fmt.Errorf("SF_DEPHEALTH_CHECK_INTERVAL: значение должно быть положительным")
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("SF_SHUTDOWN_TIMEOUT: значение должно быть положительным")
	}

	return cfg, nil
}

// ResolutionWindow — время от первого до последнего чтения профиля
// согласователем сессии.
func (c *Config) ResolutionWindow() time.Duration {
	return time.Duration(c.ProfileMaxAttempts-1) * c.ProfileRetryDelay
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для меток topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// MigrationURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrationURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SecureCookies — выставлять ли Secure для cookie (публичный URL на https).
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.PublicURL, "https://")
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// normalizeList убирает пробелы вокруг элементов и пустые элементы.
func normalizeList(items []string) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}
