package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}

	if c.Oracle.MemoryCacheTTL.Duration == 0 {
		c.Oracle.MemoryCacheTTL = Duration{Duration: 300 * time.Second}
	}
	if c.Oracle.PersistentMaxAge.Duration == 0 {
		c.Oracle.PersistentMaxAge = Duration{Duration: 600 * time.Second}
	}
	if c.Oracle.StaleMaxAge.Duration == 0 {
		c.Oracle.StaleMaxAge = Duration{Duration: 3600 * time.Second}
	}
	if c.Oracle.RefreshInterval.Duration == 0 {
		c.Oracle.RefreshInterval = Duration{Duration: 4 * time.Minute}
	}

	if c.Basket.ReservationTimeout.Duration == 0 {
		c.Basket.ReservationTimeout = Duration{Duration: 20 * time.Minute}
	}

	if c.Solana.Commitment == "" {
		c.Solana.Commitment = string(rpc.CommitmentConfirmed)
	}
	switch strings.ToLower(c.Solana.Commitment) {
	case "processed", "confirmed", "finalized", "finalised":
	default:
		c.Solana.Commitment = string(rpc.CommitmentConfirmed)
	}

	// Auto-derive WebSocket URL if not set.
	if c.Solana.WSURL == "" && c.Solana.RPCURL != "" {
		wsURL, err := deriveWebsocketURL(c.Solana.RPCURL)
		if err != nil {
			return fmt.Errorf("derive websocket url: %w", err)
		}
		c.Solana.WSURL = wsURL
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresURL == "" {
			errs = append(errs, "store.postgres_url is required when store.backend is 'postgres'")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend %q is not supported (use 'memory' or 'postgres')", c.Store.Backend))
	}

	if c.Treasury.TreasuryAddress == "" {
		errs = append(errs, "treasury.treasury_address is required")
	}
	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana.rpc_url is required")
	}
	if len(c.Oracle.Upstreams) == 0 {
		errs = append(errs, "oracle.upstreams must name at least one EUR/SOL quote source")
	}
	if c.Oracle.SanityMinEURPerSOL > 0 && c.Oracle.SanityMaxEURPerSOL > 0 &&
		c.Oracle.SanityMinEURPerSOL >= c.Oracle.SanityMaxEURPerSOL {
		errs = append(errs, "oracle.sanity_min_eur_per_sol must be less than oracle.sanity_max_eur_per_sol")
	}
	if c.Basket.MinRefillEUR < 0 {
		errs = append(errs, "basket.min_refill_eur must not be negative")
	}
	if c.Messenger.BotToken == "" {
		errs = append(errs, "messenger.bot_token is required")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// deriveWebsocketURL converts an HTTP(S) RPC URL to WS(S) format.
func deriveWebsocketURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("rpc url empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
		return raw, nil
	case "":
		return "", errors.New("rpc url missing scheme")
	default:
		return "", fmt.Errorf("unsupported rpc url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
