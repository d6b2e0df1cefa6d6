// Package config reads process configuration from the environment.
// A .env file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fiscalhub/internal/core/tenant"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/infrastructure/gateway"
)

// Config is shared by the server, the worker and fiscalctl.
type Config struct {
	Env      string
	LogLevel string
	Port     string

	MetaDatabaseURL string
	Tenants         tenant.ManagerConfig

	JWTSecret string
	// CredentialsKey is the hex 32-byte key sealing provider credentials.
	CredentialsKey string
	// MunicipalityRules is the YAML file of NFS-e dialect rules. Empty uses
	// the built-in city table.
	MunicipalityRules string

	Gateway gateway.Timeouts
	Webhook fiscal.DispatcherConfig

	ContingencyInterval time.Duration
	StatusPollInterval  time.Duration
	OutboxPollInterval  time.Duration
	OutboxRetention     time.Duration
}

// Development reports whether APP_ENV is development.
func (c *Config) Development() bool {
	return c.Env == "development"
}

// Load reads the environment. Every missing required key is reported at once.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var missing []string
	must := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	tenants := tenant.DefaultManagerConfig()
	tenants.DBUser = must("TENANT_DB_USER")
	tenants.DBPassword = must("TENANT_DB_PASSWORD")
	if n := getEnvInt("TENANT_MAX_POOLS", 100); n > 0 {
		tenants.MaxTotalPools = n
	}
	if n := getEnvInt("TENANT_MAX_CONNS_PER_POOL", 10); n > 0 {
		tenants.MaxConnsPerTenant = int32(n)
	}
	tenants.PoolIdleTimeout = getEnvDuration("TENANT_POOL_IDLE_TIMEOUT", 30*time.Minute)

	cfg := &Config{
		Env:             getEnv("APP_ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            getEnv("APP_PORT", "8080"),
		MetaDatabaseURL: must("META_DATABASE_URL"),
		Tenants:         tenants,

		JWTSecret:         must("JWT_SECRET"),
		CredentialsKey:    must("CREDENTIALS_KEY"),
		MunicipalityRules: getEnv("MUNICIPALITY_RULES", ""),

		Gateway: gateway.Timeouts{
			Emit:  getEnvDuration("GATEWAY_EMIT_TIMEOUT", gateway.DefaultEmitTimeout),
			Query: getEnvDuration("GATEWAY_QUERY_TIMEOUT", gateway.DefaultQueryTimeout),
		},
		Webhook: fiscal.DispatcherConfig{
			Timeout:          getEnvDuration("WEBHOOK_TIMEOUT", fiscal.DefaultWebhookTimeout),
			FailureThreshold: getEnvInt("WEBHOOK_FAILURE_THRESHOLD", fiscal.DefaultFailureThreshold),
			MaxConcurrent:    getEnvInt("WEBHOOK_MAX_CONCURRENT", 8),
		},

		ContingencyInterval: getEnvDuration("CONTINGENCY_INTERVAL", 5*time.Minute),
		StatusPollInterval:  getEnvDuration("STATUS_POLL_INTERVAL", time.Minute),
		OutboxPollInterval:  getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxRetention:     getEnvDuration("OUTBOX_RETENTION", 7*24*time.Hour),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	if cfg.Webhook.FailureThreshold < 1 {
		return nil, fmt.Errorf("WEBHOOK_FAILURE_THRESHOLD must be positive")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
