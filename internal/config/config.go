// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Storage backends for the document store.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSupabase = "supabase"
)

// Identity providers.
const (
	AuthLocal    = "local"
	AuthSupabase = "supabase"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Storage  StorageConfig
	Supabase SupabaseConfig
	Auth     AuthConfig
	Features FeatureConfig
}

type ServerConfig struct {
	Port            int           `env:"PORT,default=8080"`
	BasePath        string        `env:"API_BASE_PATH"`
	CORSOrigins     string        `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RateLimitRPS    int           `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=40"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
}

type LoggingConfig struct {
	Level        string `env:"LOG_LEVEL,default=info"`
	Format       string `env:"LOG_FORMAT,default=json"`
	AuditLogPath string `env:"AUDIT_LOG_PATH"`
}

type StorageConfig struct {
	Backend     string `env:"STORAGE_BACKEND,default=memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	KVTable     string `env:"SUPABASE_KV_TABLE,default=kv_store"`
	MaxOpenConn int    `env:"DB_MAX_OPEN_CONNS,default=10"`
	MaxIdleConn int    `env:"DB_MAX_IDLE_CONNS,default=5"`
}

type SupabaseConfig struct {
	URL            string `env:"SUPABASE_URL"`
	ServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	JWTSecret      string `env:"SUPABASE_JWT_SECRET"`
}

type AuthConfig struct {
	Provider        string        `env:"AUTH_PROVIDER,default=local"`
	LocalJWTSecret  string        `env:"LOCAL_JWT_SECRET"`
	TokenTTL        time.Duration `env:"LOCAL_TOKEN_TTL,default=1h"`
	AdminInviteCode string        `env:"ADMIN_INVITE_CODE,default=ADTU-ADMIN-2024"`
}

type FeatureConfig struct {
	DemoEndpoints   bool   `env:"DEMO_ENDPOINTS_ENABLED,default=false"`
	BackfillCron    string `env:"BACKFILL_SCHEDULE,default=@daily"`
	RealtimeBridge  bool   `env:"REALTIME_BRIDGE_ENABLED,default=false"`
	NotificationCap int    `env:"NOTIFICATION_LIMIT,default=100"`
}

// Load reads an optional .env file and decodes the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv decodes the current environment without touching .env files.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Auth.Provider = strings.ToLower(strings.TrimSpace(c.Auth.Provider))
	c.Server.BasePath = "/" + strings.Trim(strings.TrimSpace(c.Server.BasePath), "/")
	if c.Server.BasePath == "/" {
		c.Server.BasePath = ""
	}
	c.Supabase.URL = strings.TrimSuffix(strings.TrimSpace(c.Supabase.URL), "/")
}

// ValidationError lists every invalid setting.
type ValidationError struct {
	Problems map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Problems))
	for k := range e.Problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Problems[k])
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	problems := map[string]string{}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems["PORT"] = "must be between 1 and 65535"
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		problems["RATE_LIMIT_RPS"] = "rate limit values must not be negative"
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			problems["DATABASE_URL"] = "required for the postgres backend"
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			problems["REDIS_URL"] = "required for the redis backend"
		}
	case BackendSupabase:
		c.requireSupabase(problems)
	default:
		problems["STORAGE_BACKEND"] = "must be one of memory, postgres, redis, supabase"
	}

	switch c.Auth.Provider {
	case AuthLocal:
		if c.Auth.LocalJWTSecret == "" {
			problems["LOCAL_JWT_SECRET"] = "required for the local identity provider"
		} else if len(c.Auth.LocalJWTSecret) < 32 {
			problems["LOCAL_JWT_SECRET"] = "must be at least 32 characters"
		}
	case AuthSupabase:
		c.requireSupabase(problems)
	default:
		problems["AUTH_PROVIDER"] = "must be local or supabase"
	}

	if c.Features.RealtimeBridge {
		c.requireSupabase(problems)
	}
	if c.Features.NotificationCap <= 0 {
		problems["NOTIFICATION_LIMIT"] = "must be positive"
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c *Config) requireSupabase(problems map[string]string) {
	if c.Supabase.URL == "" {
		problems["SUPABASE_URL"] = "required when Supabase is used"
	}
	if c.Supabase.ServiceRoleKey == "" {
		problems["SUPABASE_SERVICE_ROLE_KEY"] = "required when Supabase is used"
	}
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (s ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// UsesSupabase reports whether any component talks to Supabase.
func (c *Config) UsesSupabase() bool {
	return c.Storage.Backend == BackendSupabase || c.Auth.Provider == AuthSupabase || c.Features.RealtimeBridge
}
