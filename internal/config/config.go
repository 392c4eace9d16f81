package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults. Scheduler intervals
// and first-run delays match the original bot's job-queue schedule.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:          ":8080",
			ReadTimeout:      Duration{Duration: 15 * time.Second},
			WriteTimeout:     Duration{Duration: 15 * time.Second},
			IdleTimeout:      Duration{Duration: 60 * time.Second},
			WebhookRateLimit: 60,
		},
		Store: StoreConfig{
			Backend: "memory",
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		Solana: SolanaConfig{
			Network:                "mainnet-beta",
			RPCURL:                 "https://api.mainnet-beta.solana.com",
			Commitment:             "confirmed",
			SweepDustFloorLamports: 5000,
			TxFeeLamports:          5000,
			ConfirmationTimeout:    Duration{Duration: 30 * time.Second},
		},
		Oracle: OracleConfig{
			MemoryCacheTTL:     Duration{Duration: 300 * time.Second},
			PersistentMaxAge:   Duration{Duration: 600 * time.Second},
			StaleMaxAge:        Duration{Duration: 3600 * time.Second},
			RefreshInterval:    Duration{Duration: 4 * time.Minute},
			SanityMinEURPerSOL: 1,
			SanityMaxEURPerSOL: 10000,
		},
		Basket: BasketConfig{
			ReservationTimeout:           Duration{Duration: 20 * time.Minute},
			MinRefillEUR:                 1,
			FeeAdjustmentPercent:         0,
			UnderpaymentTolerancePercent: 0,
			OverpaymentCreditEnabled:     true,
		},
		Scheduler: SchedulerConfig{
			ClearExpiredBaskets: JobScheduleConfig{
				Interval: Duration{Duration: 5 * time.Minute},
				First:    Duration{Duration: 10 * time.Second},
			},
			CleanExpiredPayments: JobScheduleConfig{
				Interval: Duration{Duration: 10 * time.Minute},
				First:    Duration{Duration: 1 * time.Minute},
			},
			CleanAbandonedReservations: JobScheduleConfig{
				Interval: Duration{Duration: 3 * time.Minute},
				First:    Duration{Duration: 2 * time.Minute},
			},
			PaymentRecovery: JobScheduleConfig{
				Interval: Duration{Duration: 5 * time.Minute},
				First:    Duration{Duration: 3 * time.Minute},
			},
			SolanaDepositsCheck: JobScheduleConfig{
				Interval: Duration{Duration: 1 * time.Minute},
				First:    Duration{Duration: 30 * time.Second},
			},
			PriceRefresh: JobScheduleConfig{
				Interval: Duration{Duration: 4 * time.Minute},
				First:    Duration{Duration: 1 * time.Minute},
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			SolanaRPC: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			PriceOracle: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Messenger: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
