// Package config defines all configuration for the auction daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via AUCTION_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Signer    SignerConfig    `mapstructure:"signer"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Fees      FeesConfig      `mapstructure:"fees"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// SignerConfig holds the chain id used as the EIP-712 domain separator for
// placement authorizations, and the fee-authority wallet used to authorize
// SetFee calls. The daemon never holds bidder private keys.
type SignerConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int64  `mapstructure:"chain_id"`
}

// LedgerConfig points at the external ledger collaborator that moves funds
// once an auction clears.
type LedgerConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// FeesConfig seeds the process-wide fee module at startup.
type FeesConfig struct {
	Numerator       uint64 `mapstructure:"numerator"`
	ReceiverAddress string `mapstructure:"receiver_address"`
}

// StoreConfig sets where auction state is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the observability dashboard server.
type DashboardConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SnapshotPeriod time.Duration `mapstructure:"snapshot_period"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: AUCTION_PRIVATE_KEY, AUCTION_LEDGER_URL,
// AUCTION_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("AUCTION_PRIVATE_KEY"); key != "" {
		cfg.Signer.PrivateKey = key
	}
	if url := os.Getenv("AUCTION_LEDGER_URL"); url != "" {
		cfg.Ledger.BaseURL = url
	}
	if os.Getenv("AUCTION_DRY_RUN") == "true" || os.Getenv("AUCTION_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Signer.ChainID == 0 {
		return fmt.Errorf("signer.chain_id is required")
	}
	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger.base_url is required")
	}
	if c.Fees.Numerator > 15 {
		return fmt.Errorf("fees.numerator must be <= 15")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	return nil
}
