package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	TelegramModePolling = "polling"
	TelegramModeWebhook = "webhook"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	HistoryBackendRedis  = "redis"
	HistoryBackendMemory = "memory"
)

type Config struct {
	TelegramBotToken       string
	TelegramMode           string
	TelegramWebhookURL     string
	TelegramPollTimeout    int
	TelegramMsgMaxLen      int
	TelegramMaxConcurrency int

	CompletionProvider    string
	OpenAIAPIKey          string
	OpenAIModel           string
	OpenAIBaseURL         string
	GeminiAPIKey          string
	GeminiModel           string
	CompletionTemperature float32

	AdminUserID  int64
	AllowedRoles []string
	DefaultRole  string

	DatabaseDriver string
	DatabaseURL    string

	HistoryBackend         string
	RedisURL               string
	ChatMaxHistoryMessages int
	ChatMaxStoredMessages  int
	ChatTTL                time.Duration
	PersonaPromptsFile     string

	UserCacheSize int
	UserCacheTTL  time.Duration

	HTTPPort  string
	LogLevel  string
	JWTSecret string
}

// proxyVars are checked for schemes the HTTP clients cannot dial.
var proxyVars = []string{"ALL_PROXY", "HTTP_PROXY", "HTTPS_PROXY", "all_proxy", "http_proxy", "https_proxy"}

// LoadConfig reads .env (if present) and the process environment.
// The logger is only used for bootstrap notices.
func LoadConfig(logger *zap.Logger) (*Config, error) {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		logger.Info("No .env file found, relying on environment variables")
	}
	sanitizeProxyEnv(logger)

	var errs []string
	intVar := func(key string, def int) int {
		v, err := getEnvAsInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := &Config{
		TelegramBotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramMode:           strings.ToLower(getEnv("TELEGRAM_MODE", TelegramModePolling)),
		TelegramWebhookURL:     getEnv("TELEGRAM_WEBHOOK_URL", ""),
		TelegramPollTimeout:    intVar("TELEGRAM_POLL_TIMEOUT", 60),
		TelegramMsgMaxLen:      intVar("TELEGRAM_MSG_MAX_LEN", 4000),
		TelegramMaxConcurrency: intVar("TELEGRAM_MAX_CONCURRENT_UPDATES", 16),

		CompletionProvider: strings.ToLower(getEnv("COMPLETION_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),

		AllowedRoles: getEnvAsList("ALLOWED_ROLES", []string{"admin", "user"}),
		DefaultRole:  getEnv("DEFAULT_ROLE", "guest"),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", DriverSQLite)),
		DatabaseURL:    getEnv("DATABASE_URL", "ezbot.db"),

		HistoryBackend:         strings.ToLower(getEnv("HISTORY_BACKEND", HistoryBackendRedis)),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ChatMaxHistoryMessages: intVar("CHAT_MAX_HISTORY_MESSAGES", 10),
		ChatMaxStoredMessages:  intVar("CHAT_MAX_STORED_MESSAGES", 200),
		ChatTTL:                time.Duration(intVar("CHAT_TTL_SECONDS", 30*24*60*60)) * time.Second,
		PersonaPromptsFile:     getEnv("PERSONA_PROMPTS_FILE", ""),

		UserCacheSize: intVar("USER_CACHE_SIZE", 1024),
		UserCacheTTL:  time.Duration(intVar("USER_CACHE_TTL_SECONDS", 3600)) * time.Second,

		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		LogLevel:  strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		JWTSecret: getEnv("JWT_SECRET", ""),
	}

	adminID, err := strconv.ParseInt(getEnv("ADMIN_USER_ID", "161638965"), 10, 64)
	if err != nil {
		errs = append(errs, "ADMIN_USER_ID must be an integer")
	}
	cfg.AdminUserID = adminID

	temp, err := strconv.ParseFloat(getEnv("COMPLETION_TEMPERATURE", "0.7"), 32)
	if err != nil {
		errs = append(errs, "COMPLETION_TEMPERATURE must be a number")
	}
	cfg.CompletionTemperature = float32(temp)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required credentials and limits.
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is required")
	}

	switch c.TelegramMode {
	case TelegramModePolling:
	case TelegramModeWebhook:
		if c.TelegramWebhookURL == "" {
			return fmt.Errorf("TELEGRAM_WEBHOOK_URL is required when TELEGRAM_MODE=webhook")
		}
	default:
		return fmt.Errorf("TELEGRAM_MODE must be %q or %q, got %q", TelegramModePolling, TelegramModeWebhook, c.TelegramMode)
	}

	switch c.CompletionProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required when COMPLETION_PROVIDER=openai")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required when COMPLETION_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("COMPLETION_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.CompletionProvider)
	}

	if c.DatabaseDriver != DriverSQLite && c.DatabaseDriver != DriverPostgres {
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DatabaseDriver)
	}
	if c.HistoryBackend != HistoryBackendRedis && c.HistoryBackend != HistoryBackendMemory {
		return fmt.Errorf("HISTORY_BACKEND must be %q or %q, got %q", HistoryBackendRedis, HistoryBackendMemory, c.HistoryBackend)
	}

	positives := []struct {
		key   string
		value int
	}{
		{"TELEGRAM_POLL_TIMEOUT", c.TelegramPollTimeout},
		{"TELEGRAM_MSG_MAX_LEN", c.TelegramMsgMaxLen},
		{"TELEGRAM_MAX_CONCURRENT_UPDATES", c.TelegramMaxConcurrency},
		{"CHAT_MAX_HISTORY_MESSAGES", c.ChatMaxHistoryMessages},
		{"CHAT_MAX_STORED_MESSAGES", c.ChatMaxStoredMessages},
		{"CHAT_TTL_SECONDS", int(c.ChatTTL / time.Second)},
		{"USER_CACHE_SIZE", c.UserCacheSize},
		{"USER_CACHE_TTL_SECONDS", int(c.UserCacheTTL / time.Second)},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %d", p.key, p.value)
		}
	}

	if c.ChatMaxHistoryMessages > c.ChatMaxStoredMessages {
		return fmt.Errorf("CHAT_MAX_HISTORY_MESSAGES (%d) must not exceed CHAT_MAX_STORED_MESSAGES (%d)",
			c.ChatMaxHistoryMessages, c.ChatMaxStoredMessages)
	}
	if len(c.AllowedRoles) == 0 {
		return fmt.Errorf("ALLOWED_ROLES must list at least one role")
	}
	if strings.TrimSpace(c.DefaultRole) == "" {
		return fmt.Errorf("DEFAULT_ROLE must not be empty")
	}
	return nil
}

// WebhookEnabled reports whether updates arrive over HTTP instead of long polling.
func (c *Config) WebhookEnabled() bool {
	return c.TelegramMode == TelegramModeWebhook
}

// AdminAPIEnabled reports whether the JWT-protected admin routes are mounted.
func (c *Config) AdminAPIEnabled() bool {
	return c.JWTSecret != ""
}

func sanitizeProxyEnv(logger *zap.Logger) {
	for _, key := range proxyVars {
		val := os.Getenv(key)
		if strings.Contains(strings.ToLower(val), "socks://") {
			logger.Warn("Invalid proxy scheme detected, unsetting it", zap.String("var", key), zap.String("value", val))
			os.Unsetenv(key)
		}
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be an integer, got %q", key, valueStr)
	}
	return value, nil
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
