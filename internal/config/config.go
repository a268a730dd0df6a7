// Пакет config — загрузка и валидация конфигурации Image Server
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Image Server.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Идентификатор сервиса (вершина в topologymetrics)
	ServiceID string
	// Префикс маршрутов изображений (например, "/images")
	RoutePrefix string

	// Корень хранилища оригиналов
	UploadDir string
	// Корень кэша производных изображений
	CacheDir string
	// Разрешённые расширения загружаемых файлов (в нижнем регистре, без точки)
	AllowedExtensions []string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Максимальная ширина/высота производного изображения
	MaxDimension int
	// Максимальное число пикселей исходного изображения, допустимое к декодированию
	MaxSourcePixels int64
	// Качество по умолчанию, если параметр q не передан
	DefaultQuality int

	// Срок хранения производных изображений в кэше
	CacheRetention time.Duration
	// Интервал запуска очистки кэша
	SweepInterval time.Duration
	// Размер пула обработчиков (декодирование, ресайз, файловый I/O)
	WorkerPoolSize int
	// Число записей в кэше в памяти (0 — отключён)
	MemoryCacheEntries int
	// TTL записей кэша в памяти
	MemoryCacheTTL time.Duration

	// URL JWKS endpoint (пустой — аутентификация отключена)
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Пропуск проверки TLS-сертификата JWKS endpoint
	TLSSkipVerify bool
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Ожидаемый issuer токенов (пустой — не проверяется)
	JWTIssuer string

	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// IS_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("IS_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("IS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.ServiceID = getEnvDefault("IS_SERVICE_ID", "image-server")

	// IS_ROUTE_PREFIX — нормализуется к виду "/images" (без завершающего слеша)
	prefix := "/" + strings.Trim(getEnvDefault("IS_ROUTE_PREFIX", "/images"), "/")
	if prefix == "/" {
		return nil, fmt.Errorf("IS_ROUTE_PREFIX: префикс не может быть корнем")
	}
	if strings.HasPrefix(prefix, "/api") || strings.HasPrefix(prefix, "/health") || prefix == "/metrics" {
		return nil, fmt.Errorf("IS_ROUTE_PREFIX: префикс %q конфликтует со служебными маршрутами", prefix)
	}
	cfg.RoutePrefix = prefix

	cfg.UploadDir = getEnvDefault("IS_UPLOAD_DIR", "uploads")
	cfg.CacheDir = getEnvDefault("IS_CACHE_DIR", ".cache")

	// IS_ALLOWED_EXTENSIONS — список через запятую
	cfg.AllowedExtensions = parseExtensions(getEnvDefault("IS_ALLOWED_EXTENSIONS", "jpg,jpeg,png,gif,webp,bmp"))
	if len(cfg.AllowedExtensions) == 0 {
		return nil, fmt.Errorf("IS_ALLOWED_EXTENSIONS: список расширений пуст")
	}

	// IS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 20 MB)
	cfg.MaxFileSize, err = getEnvInt64("IS_MAX_FILE_SIZE", 20*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("IS_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("IS_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.MaxDimension, err = getEnvInt("IS_MAX_DIMENSION", 5000)
	if err != nil {
		return nil, fmt.Errorf("IS_MAX_DIMENSION: %w", err)
	}
	if cfg.MaxDimension <= 0 {
		return nil, fmt.Errorf("IS_MAX_DIMENSION: значение должно быть положительным")
	}

	// IS_MAX_SOURCE_PIXELS — предел ширина×высота оригинала (по умолчанию 40 Мп)
	cfg.MaxSourcePixels, err = getEnvInt64("IS_MAX_SOURCE_PIXELS", 40_000_000)
	if err != nil {
		return nil, fmt.Errorf("IS_MAX_SOURCE_PIXELS: %w", err)
	}
	if cfg.MaxSourcePixels <= 0 {
		return nil, fmt.Errorf("IS_MAX_SOURCE_PIXELS: значение должно быть положительным")
	}

	cfg.DefaultQuality, err = getEnvInt("IS_DEFAULT_QUALITY", 85)
	if err != nil {
		return nil, fmt.Errorf("IS_DEFAULT_QUALITY: %w", err)
	}
	if cfg.DefaultQuality < 1 || cfg.DefaultQuality > 100 {
		return nil, fmt.Errorf("IS_DEFAULT_QUALITY: значение %d вне диапазона 1-100", cfg.DefaultQuality)
	}

	// IS_CACHE_RETENTION — срок хранения кэша (по умолчанию 7 дней)
	cfg.CacheRetention, err = getEnvDuration("IS_CACHE_RETENTION", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IS_CACHE_RETENTION: %w", err)
	}
	if cfg.CacheRetention <= 0 {
		return nil, fmt.Errorf("IS_CACHE_RETENTION: значение должно быть положительным")
	}

	cfg.SweepInterval, err = getEnvDuration("IS_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IS_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("IS_SWEEP_INTERVAL: значение должно быть положительным")
	}

	cfg.WorkerPoolSize, err = getEnvInt("IS_WORKER_POOL_SIZE", 2*runtime.NumCPU())
	if err != nil {
		return nil, fmt.Errorf("IS_WORKER_POOL_SIZE: %w", err)
	}
	if cfg.WorkerPoolSize <= 0 {
		return nil, fmt.Errorf("IS_WORKER_POOL_SIZE: значение должно быть положительным")
	}

	cfg.MemoryCacheEntries, err = getEnvInt("IS_MEMORY_CACHE_ENTRIES", 256)
	if err != nil {
		return nil, fmt.Errorf("IS_MEMORY_CACHE_ENTRIES: %w", err)
	}
	if cfg.MemoryCacheEntries < 0 {
		return nil, fmt.Errorf("IS_MEMORY_CACHE_ENTRIES: значение не может быть отрицательным")
	}

	cfg.MemoryCacheTTL, err = getEnvDuration("IS_MEMORY_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IS_MEMORY_CACHE_TTL: %w", err)
	}

	// IS_JWKS_URL — опциональный; без него upload/delete доступны без токена
	cfg.JWKSUrl = getEnvDefault("IS_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("IS_JWKS_CA_CERT", "")

	cfg.TLSSkipVerify, err = getEnvBool("IS_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("IS_TLS_SKIP_VERIFY: %w", err)
	}

	cfg.JWKSClientTimeout, err = getEnvDuration("IS_JWKS_CLIENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IS_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("IS_JWKS_REFRESH_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IS_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("IS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IS_JWT_LEEWAY: %w", err)
	}
	cfg.JWTIssuer = getEnvDefault("IS_JWT_ISSUER", "")

	// IS_TLS_CERT / IS_TLS_KEY — задаются парой
	cfg.TLSCert = getEnvDefault("IS_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("IS_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("IS_TLS_CERT и IS_TLS_KEY должны задаваться вместе")
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("IS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IS_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("IS_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("IS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IS_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("IS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// IS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IS_LOG_LEVEL: %w", err)
	}

	// IS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("IS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("IS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("IS_DEPHEALTH_GROUP", "image-server")

	return cfg, nil
}

// AuthEnabled сообщает, включена ли JWT-аутентификация.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
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

// parseExtensions разбирает список расширений: нижний регистр, без точек,
// без пустых элементов и дубликатов.
func parseExtensions(raw string) []string {
	seen := make(map[string]bool)
	var exts []string
	for _, part := range strings.Split(raw, ",") {
		ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(part), "."))
		if ext == "" || seen[ext] {
			continue
		}
		seen[ext] = true
		exts = append(exts, ext)
	}
	return exts
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 168h)", val)
	}
	return d, nil
}

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
