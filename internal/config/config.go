// Package config provides environment configuration for the outreach engine.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSEnabled  bool

	// Persistence
	DatabaseURL string

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	Dispatch  DispatchConfig
	Responder ResponderConfig
	Analytics AnalyticsConfig
	Vault     VaultConfig
	Webhook   WebhookConfig

	// RulesFile is an optional YAML file of auto-response rules seeded
	// into every new campaign.
	RulesFile string
}

// DispatchConfig controls sending, pacing and retries.
type DispatchConfig struct {
	// MinSendInterval is the campaign-wide minimum delay between two sends.
	MinSendInterval time.Duration
	// DefaultDailyCap applies when the vault holds no per-channel limit.
	DefaultDailyCap int
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	Workers         int
	BulkConcurrency int
	PollInterval    time.Duration
}

// ResponderConfig controls automated replies.
type ResponderConfig struct {
	HistoryWindow  int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	FallbackReply  string
	MaxTokens      int
	Temperature    float64
	DelayEnabled   bool
	InboundWorkers int
}

// AnalyticsConfig controls the analytics cache. CacheSize caps the number
// of cached query windows.
type AnalyticsConfig struct {
	CacheTTL       time.Duration
	CacheSize      int
	TimeSeriesDays int
}

// VaultConfig holds the master secret for credential encryption.
type VaultConfig struct {
	MasterKey string
}

// WebhookConfig holds per-channel webhook signing secrets.
type WebhookConfig struct {
	Secrets map[string]string
}

// Load reads configuration from environment variables, after loading an
// optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSEnabled:  getBoolEnv("NATS_ENABLED", true),

		// Persistence
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:        getEnv("LLM_MODEL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),

		Dispatch: DispatchConfig{
			MinSendInterval: getDurationEnv("DISPATCH_MIN_SEND_INTERVAL", 2*time.Second),
			DefaultDailyCap: getIntEnv("DISPATCH_DEFAULT_DAILY_CAP", 200),
			MaxAttempts:     getIntEnv("DISPATCH_MAX_ATTEMPTS", 4),
			InitialBackoff:  getDurationEnv("DISPATCH_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:      getDurationEnv("DISPATCH_MAX_BACKOFF", 30*time.Second),
			Workers:         getIntEnv("DISPATCH_WORKERS", 4),
			BulkConcurrency: getIntEnv("DISPATCH_BULK_CONCURRENCY", 8),
			PollInterval:    getDurationEnv("DISPATCH_POLL_INTERVAL", 10*time.Second),
		},

		Responder: ResponderConfig{
			HistoryWindow:  getIntEnv("RESPONDER_HISTORY_WINDOW", 10),
			MinDelay:       getDurationEnv("RESPONDER_MIN_DELAY", 5*time.Minute),
			MaxDelay:       getDurationEnv("RESPONDER_MAX_DELAY", 30*time.Minute),
			FallbackReply:  getEnv("RESPONDER_FALLBACK_REPLY", "Thanks for getting back to me, {{first_name}}. I'll follow up shortly."),
			MaxTokens:      getIntEnv("RESPONDER_MAX_TOKENS", 600),
			Temperature:    getFloatEnv("RESPONDER_TEMPERATURE", 0.7),
			DelayEnabled:   getBoolEnv("RESPONDER_DELAY_ENABLED", true),
			InboundWorkers: getIntEnv("RESPONDER_INBOUND_WORKERS", 8),
		},

		Analytics: AnalyticsConfig{
			CacheTTL:       getDurationEnv("ANALYTICS_CACHE_TTL", 15*time.Minute),
			CacheSize:      getIntEnv("ANALYTICS_CACHE_SIZE", 256),
			TimeSeriesDays: getIntEnv("ANALYTICS_TIME_SERIES_DAYS", 30),
		},

		Vault: VaultConfig{
			MasterKey: getEnv("VAULT_MASTER_KEY", "development-vault-key-change-in-production"),
		},

		Webhook: WebhookConfig{
			Secrets: parseSecrets(getEnv("WEBHOOK_SECRETS", "")),
		},

		RulesFile: getEnv("RULES_FILE", ""),
	}
}

// parseSecrets parses "email=abc,whatsapp=def".
func parseSecrets(raw string) map[string]string {
	secrets := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			continue
		}
		secrets[strings.ToLower(k)] = v
	}
	return secrets
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
