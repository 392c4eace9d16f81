package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. All env
// vars use the CHECKOUT_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "CHECKOUT_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "CHECKOUT_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "CHECKOUT_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Store config
	setIfEnv(&c.Store.Backend, "CHECKOUT_STORE_BACKEND")
	setIfEnv(&c.Store.PostgresURL, "CHECKOUT_STORE_POSTGRES_URL")

	// Treasury config
	setIfEnv(&c.Treasury.TreasuryAddress, "CHECKOUT_TREASURY_ADDRESS")
	setIfEnv(&c.Treasury.RecoveryAddress, "CHECKOUT_RECOVERY_ADDRESS")

	// Solana config
	setIfEnv(&c.Solana.Network, "CHECKOUT_SOLANA_NETWORK")
	setIfEnv(&c.Solana.RPCURL, "CHECKOUT_SOLANA_RPC_URL")
	setIfEnv(&c.Solana.WSURL, "CHECKOUT_SOLANA_WS_URL")
	setIfEnv(&c.Solana.Commitment, "CHECKOUT_SOLANA_COMMITMENT")
	setUint64IfEnv(&c.Solana.SweepDustFloorLamports, "CHECKOUT_SWEEP_DUST_FLOOR_LAMPORTS")

	// Oracle config
	if v := os.Getenv("CHECKOUT_ORACLE_UPSTREAMS"); v != "" {
		c.Oracle.Upstreams = strings.Split(v, ",")
	}
	setDurationIfEnv(&c.Oracle.RefreshInterval, "CHECKOUT_ORACLE_REFRESH_INTERVAL")

	// Basket config
	setFloatIfEnv(&c.Basket.MinRefillEUR, "CHECKOUT_MIN_REFILL_EUR")
	setFloatIfEnv(&c.Basket.FeeAdjustmentPercent, "CHECKOUT_FEE_ADJUSTMENT_PERCENT")
	setIfEnv(&c.Basket.SupportHandle, "CHECKOUT_SUPPORT_HANDLE")
	setDurationIfEnv(&c.Basket.ReservationTimeout, "CHECKOUT_RESERVATION_TIMEOUT")

	// Messenger config
	setIfEnv(&c.Messenger.BotToken, "CHECKOUT_BOT_TOKEN")
	setIfEnv(&c.Messenger.PrimaryAdminID, "CHECKOUT_PRIMARY_ADMIN_ID")
	setIfEnv(&c.Messenger.WebhookBaseURL, "CHECKOUT_WEBHOOK_BASE_URL")

	// Logging config
	setIfEnv(&c.Logging.Level, "CHECKOUT_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "CHECKOUT_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "CHECKOUT_ENVIRONMENT")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setFloatIfEnv sets a float64 pointer from an environment variable.
func setFloatIfEnv(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// setUint64IfEnv sets a uint64 pointer from an environment variable.
func setUint64IfEnv(target *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*target = n
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api".
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
