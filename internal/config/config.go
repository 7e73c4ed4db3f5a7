package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Compilers CompilersConfig
	Verifier  VerifierConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Proxy     ProxyConfig
	CORS      CORSConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// CompilersConfig holds one binary source per language.
type CompilersConfig struct {
	Solidity FetcherConfig
	Vyper    FetcherConfig
}

// FetcherConfig describes where compiler binaries come from.
type FetcherConfig struct {
	Enabled         bool
	Type            string // "list" or "bucket"
	URL             string
	Dir             string
	RefreshInterval time.Duration // 0 disables refresh
	FetchTimeout    time.Duration
	Validate        bool // run the binary with --version before caching it
}

// VerifierConfig bounds compilation work.
type VerifierConfig struct {
	MaxThreads     int
	CompileTimeout time.Duration
	PersistMatches bool
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled         bool
	RequestsPerMin  int
	BurstSize       int
	VerifyPerMin    int // stricter limit for compile-heavy endpoints
	VerifyBurstSize int
	CleanupMinutes  int
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// CORSConfig holds cross-origin settings for browser clients.
type CORSConfig struct {
	AllowedOrigins []string
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8050),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 120),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 90),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/verifier.db"),
			},
		},
		Compilers: CompilersConfig{
			Solidity: FetcherConfig{
				Enabled:         getEnvBool("SOLIDITY_ENABLED", true),
				Type:            getEnv("SOLIDITY_FETCHER_TYPE", "list"),
				URL:             getEnv("SOLIDITY_FETCHER_URL", "https://binaries.soliditylang.org/linux-amd64/list.json"),
				Dir:             getEnv("SOLIDITY_COMPILERS_DIR", "./data/compilers/solc"),
				RefreshInterval: getEnvDuration("SOLIDITY_REFRESH_INTERVAL", time.Hour),
				FetchTimeout:    getEnvDuration("SOLIDITY_FETCH_TIMEOUT", 5*time.Minute),
				Validate:        getEnvBool("SOLIDITY_VALIDATE_BINARIES", false),
			},
			Vyper: FetcherConfig{
				Enabled:         getEnvBool("VYPER_ENABLED", true),
				Type:            getEnv("VYPER_FETCHER_TYPE", "list"),
				URL:             getEnv("VYPER_FETCHER_URL", "https://raw.githubusercontent.com/blockscout/solc-bin/main/vyper.list.json"),
				Dir:             getEnv("VYPER_COMPILERS_DIR", "./data/compilers/vyper"),
				RefreshInterval: getEnvDuration("VYPER_REFRESH_INTERVAL", time.Hour),
				FetchTimeout:    getEnvDuration("VYPER_FETCH_TIMEOUT", 5*time.Minute),
				Validate:        getEnvBool("VYPER_VALIDATE_BINARIES", false),
			},
		},
		Verifier: VerifierConfig{
			MaxThreads:     getEnvInt("VERIFIER_MAX_THREADS", runtime.NumCPU()),
			CompileTimeout: getEnvDuration("VERIFIER_COMPILE_TIMEOUT", time.Minute),
			PersistMatches: getEnvBool("VERIFIER_PERSIST_MATCHES", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin:  getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:       getEnvInt("RATE_LIMIT_BURST", 50),
			VerifyPerMin:    getEnvInt("RATE_LIMIT_VERIFY_RPM", 30),
			VerifyBurstSize: getEnvInt("RATE_LIMIT_VERIFY_BURST", 5),
			CleanupMinutes:  getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeMB: getEnvInt("SECURITY_MAX_BODY_SIZE_MB", 50),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, f := range map[string]FetcherConfig{"SOLIDITY": c.Compilers.Solidity, "VYPER": c.Compilers.Vyper} {
		if !f.Enabled {
			continue
		}
		if f.Type != "list" && f.Type != "bucket" {
			return fmt.Errorf("%s_FETCHER_TYPE must be list or bucket, got %q", name, f.Type)
		}
		if f.URL == "" {
			return fmt.Errorf("%s_FETCHER_URL is required", name)
		}
	}
	if c.Verifier.MaxThreads < 1 {
		return fmt.Errorf("VERIFIER_MAX_THREADS must be positive, got %d", c.Verifier.MaxThreads)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
