package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Data backends the service can read users and transactions from.
const (
	BackendSupabase = "supabase"
	BackendHTTP     = "http"
	BackendSQLite   = "sqlite"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port               int
	LogLevel           string
	CORSAllowedOrigins []string

	// Detection
	BufferDays int
	DateLayout string

	// Data backend
	DataBackend string

	// HTTP APIs
	UsersAPIURL        string
	TransactionsAPIURL string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// SQLite
	SQLiteDBPath string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string
	LogEmailKey  string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:               getEnvInt("PORT", 8000),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		BufferDays: getEnvInt("BUFFER_DAYS", 5),
		DateLayout: getEnv("PREDICTION_DATE_LAYOUT", "1/2/2006"),

		DataBackend: getEnv("DATA_BACKEND", BackendSQLite),

		UsersAPIURL:        getEnv("USERS_API_URL", "http://localhost:8081"),
		TransactionsAPIURL: getEnv("TRANSACTIONS_API_URL", "http://localhost:8082"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/income.db"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogEmailKey:  getEnv("LOG_EMAIL_KEY", ""),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", c.Port))
	}
	if c.BufferDays < 0 {
		problems = append(problems, fmt.Sprintf("invalid BUFFER_DAYS %d: must be non-negative", c.BufferDays))
	}
	if c.MaxConcurrency < 1 {
		problems = append(problems, fmt.Sprintf("invalid MAX_CONCURRENCY %d: must be positive", c.MaxConcurrency))
	}
	if c.CacheTTL <= 0 {
		problems = append(problems, "CACHE_TTL must be positive")
	}

	switch c.DataBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" {
			problems = append(problems, "SUPABASE_URL is required for the supabase backend")
		}
		if c.SupabaseServiceKey == "" {
			problems = append(problems, "SUPABASE_SERVICE_ROLE_KEY is required for the supabase backend")
		}
	case BackendHTTP:
		if c.UsersAPIURL == "" || c.TransactionsAPIURL == "" {
			problems = append(problems, "USERS_API_URL and TRANSACTIONS_API_URL are required for the http backend")
		}
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			problems = append(problems, "SQLITE_DB_PATH is required for the sqlite backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid DATA_BACKEND %q: must be one of %s, %s, %s",
			c.DataBackend, BackendSupabase, BackendHTTP, BackendSQLite))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
