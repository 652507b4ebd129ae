package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Store     StoreConfig
	Backend   BackendConfig
	Terminal  TerminalConfig
	Heartbeat HeartbeatConfig
	Sync      SyncConfig
	AdminAPI  AdminAPIConfig
	Flags     FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Terminal.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TERMINALD_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"TERMINALD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TERMINALD_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// StoreConfig points at the terminal-local sqlite database. The store is
// the durability boundary for queued orders, so the path must survive
// restarts; ":memory:" is only for tests.
type StoreConfig struct {
	Path        string        `envconfig:"TERMINALD_STORE_PATH" default:"terminald.db"`
	BusyTimeout time.Duration `envconfig:"TERMINALD_STORE_BUSY_TIMEOUT" default:"5s"`
}

type BackendConfig struct {
	BaseURL        string        `envconfig:"TERMINALD_BACKEND_BASE_URL" required:"true"`
	RequestTimeout time.Duration `envconfig:"TERMINALD_BACKEND_REQUEST_TIMEOUT" default:"10s"`
	// CatalogRetryBudget bounds in-call retries for idempotent catalog
	// reads. Order posts are never retried inside a single call.
	CatalogRetryBudget time.Duration `envconfig:"TERMINALD_BACKEND_CATALOG_RETRY_BUDGET" default:"8s"`
	// TokenRefreshMargin re-registers the terminal when the stored bearer
	// token is within this margin of its expiry.
	TokenRefreshMargin time.Duration `envconfig:"TERMINALD_BACKEND_TOKEN_REFRESH_MARGIN" default:"10m"`
}

type TerminalConfig struct {
	TenantID string `envconfig:"TERMINALD_TENANT_ID" required:"true"`
	StoreID  string `envconfig:"TERMINALD_STORE_ID" required:"true"`
	StaffID  string `envconfig:"TERMINALD_STAFF_ID"`
}

func (t TerminalConfig) validate() error {
	if strings.TrimSpace(t.TenantID) == "" {
		return fmt.Errorf("%s must not be blank", EnvTenantID)
	}
	if strings.TrimSpace(t.StoreID) == "" {
		return fmt.Errorf("%s must not be blank", EnvStoreID)
	}
	return nil
}

type HeartbeatConfig struct {
	Interval time.Duration `envconfig:"TERMINALD_HEARTBEAT_INTERVAL" default:"30s"`
}

type SyncConfig struct {
	PollInterval time.Duration `envconfig:"TERMINALD_SYNC_POLL_INTERVAL" default:"15s"`
	// BaseRetryDelay scales per-item backoff: an item with N failed
	// attempts is skipped until N*BaseRetryDelay after its last attempt.
	BaseRetryDelay time.Duration `envconfig:"TERMINALD_SYNC_BASE_RETRY_DELAY" default:"30s"`
	MaxAttempts    int           `envconfig:"TERMINALD_SYNC_MAX_ATTEMPTS" default:"10"`
	BatchSize      int           `envconfig:"TERMINALD_SYNC_BATCH_SIZE" default:"25"`
	// SyncedRetention keeps synced rows around for audit before purge.
	SyncedRetention time.Duration `envconfig:"TERMINALD_SYNC_SYNCED_RETENTION" default:"24h"`
}

type AdminAPIConfig struct {
	Port string `envconfig:"TERMINALD_ADMIN_PORT" default:"7377"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TERMINALD_AUTO_MIGRATE" default:"false"`
}
