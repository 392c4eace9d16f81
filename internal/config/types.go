package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Store          StoreConfig          `yaml:"store"`
	Treasury       TreasuryConfig       `yaml:"treasury"`
	Solana         SolanaConfig         `yaml:"solana"`
	Oracle         OracleConfig         `yaml:"oracle"`
	Basket         BasketConfig         `yaml:"basket"`
	Messenger      MessengerConfig      `yaml:"messenger"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// MessengerConfig holds the Telegram bot credentials and webhook surface
// configuration (component I).
type MessengerConfig struct {
	BotToken       string `yaml:"bot_token"`        // Telegram bot API token; also the secret path segment of the webhook route
	PrimaryAdminID string `yaml:"primary_admin_id"` // Telegram user ID alerted on critical errors
	WebhookBaseURL string `yaml:"webhook_base_url"` // public base URL the bot registers its webhook against
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout         Duration `yaml:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
	RoutePrefix         string   `yaml:"route_prefix"`           // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey  string   `yaml:"admin_metrics_api_key"`  // Optional API key to protect /metrics (empty disables protection)
	WebhookRateLimit    int      `yaml:"webhook_rate_limit"`     // Requests per minute allowed on the messenger webhook, per IP
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// StoreConfig holds persistence backend configuration (component A).
type StoreConfig struct {
	Backend      string             `yaml:"backend"` // "memory" or "postgres"
	PostgresURL  string             `yaml:"postgres_url"`
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default: 25
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default: 5
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default: 5m
}

// TreasuryConfig holds the operator wallets that ultimately receive swept funds.
type TreasuryConfig struct {
	TreasuryAddress string `yaml:"treasury_address"` // where swept SOL accumulates
	RecoveryAddress string `yaml:"recovery_address"` // optional fallback for stuck-wallet recovery
}

// SolanaConfig holds Solana RPC connectivity configuration (component C).
type SolanaConfig struct {
	Network                string   `yaml:"network"` // mainnet-beta, devnet, testnet
	RPCURL                 string   `yaml:"rpc_url"`
	WSURL                  string   `yaml:"ws_url"`
	Commitment             string   `yaml:"commitment"`
	SweepDustFloorLamports uint64   `yaml:"sweep_dust_floor_lamports"` // a sweep is skipped unless the balance exceeds this plus TxFeeLamports (default: 5000)
	TxFeeLamports          uint64   `yaml:"tx_fee_lamports"`           // reserved for the sweep's own network fee (default: 5000)
	ConfirmationTimeout    Duration `yaml:"confirmation_timeout"`      // loaded and defaulted only; sweeps do not await confirmation
}

// OracleConfig holds price oracle configuration (component B).
type OracleConfig struct {
	Upstreams         []string `yaml:"upstreams"`           // ordered list of EUR/SOL quote upstreams, rotated on failure
	MemoryCacheTTL    Duration `yaml:"memory_cache_ttl"`    // layer 1: in-process cache (default: 300s)
	PersistentMaxAge  Duration `yaml:"persistent_max_age"`  // layer 2: DB-backed setting considered fresh under this age (default: 600s)
	StaleMaxAge       Duration `yaml:"stale_max_age"`       // layer 4: last-resort stale quote usable under this age (default: 3600s)
	RefreshInterval   Duration `yaml:"refresh_interval"`    // background refresh cadence (default: 4m)
	SanityMinEURPerSOL float64 `yaml:"sanity_min_eur_per_sol"`
	SanityMaxEURPerSOL float64 `yaml:"sanity_max_eur_per_sol"`
}

// BasketConfig holds reservation/checkout tunables (components D, E, G).
type BasketConfig struct {
	ReservationTimeout   Duration `yaml:"reservation_timeout"`    // how long a basket reservation is held (default: 20m)
	MinRefillEUR         float64 `yaml:"min_refill_eur"`          // minimum balance top-up; validated as non-negative, not enforced by any component
	FeeAdjustmentPercent float64 `yaml:"fee_adjustment_percent"`  // not applied: quotes are used without adjustment
	SupportHandle        string  `yaml:"support_handle"`          // human contact handle; not read by any component
	UnderpaymentTolerancePercent float64 `yaml:"underpayment_tolerance_percent"` // not read: the wallet engine's 0.995 tolerance is fixed
	OverpaymentCreditEnabled     bool    `yaml:"overpayment_credit_enabled"`     // not read: the wallet engine always credits overpayment to the balance ledger
}

// SchedulerConfig holds the six periodic job intervals (component H).
// Defaults mirror the original bot's job-queue schedule exactly.
type SchedulerConfig struct {
	ClearExpiredBaskets    JobScheduleConfig `yaml:"clear_expired_baskets"`
	CleanExpiredPayments   JobScheduleConfig `yaml:"clean_expired_payments"`
	CleanAbandonedReservations JobScheduleConfig `yaml:"clean_abandoned_reservations"`
	PaymentRecovery        JobScheduleConfig `yaml:"payment_recovery"`
	SolanaDepositsCheck    JobScheduleConfig `yaml:"solana_deposits_check"`
	PriceRefresh           JobScheduleConfig `yaml:"price_refresh"`
}

// JobScheduleConfig configures a single scheduler job.
type JobScheduleConfig struct {
	Interval Duration `yaml:"interval"`
	First    Duration `yaml:"first"` // delay before the first run
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	SolanaRPC   BreakerServiceConfig `yaml:"solana_rpc"`
	PriceOracle BreakerServiceConfig `yaml:"price_oracle"`
	Messenger   BreakerServiceConfig `yaml:"messenger"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
