package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv()
	defer clearEnv()

	// No treasury address, no oracle upstreams configured -> validation fails.
	cfg, err := Load("")
	if err == nil {
		t.Fatal("expected error when required fields are missing, got nil")
	}
	if cfg != nil {
		t.Fatal("expected nil config when validation fails")
	}
}

func TestLoadConfig_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
	}{
		{
			name: "missing treasury address",
			envVars: map[string]string{
				"CHECKOUT_SOLANA_RPC_URL":   "https://api.mainnet-beta.solana.com",
				"CHECKOUT_ORACLE_UPSTREAMS": "https://quotes.example.com",
			},
			wantErr: "treasury.treasury_address is required",
		},
		{
			name: "missing oracle upstreams",
			envVars: map[string]string{
				"CHECKOUT_TREASURY_ADDRESS": "11111111111111111111111111111111",
				"CHECKOUT_SOLANA_RPC_URL":   "https://api.mainnet-beta.solana.com",
				"CHECKOUT_BOT_TOKEN":        "123:abc",
			},
			wantErr: "oracle.upstreams must name at least one EUR/SOL quote source",
		},
		{
			name: "missing bot token",
			envVars: map[string]string{
				"CHECKOUT_TREASURY_ADDRESS": "11111111111111111111111111111111",
				"CHECKOUT_SOLANA_RPC_URL":   "https://api.mainnet-beta.solana.com",
				"CHECKOUT_ORACLE_UPSTREAMS": "https://quotes.example.com",
			},
			wantErr: "messenger.bot_token is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer clearEnv()

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadConfig_ValidMinimal(t *testing.T) {
	clearEnv()
	os.Setenv("CHECKOUT_TREASURY_ADDRESS", "11111111111111111111111111111111")
	os.Setenv("CHECKOUT_SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("CHECKOUT_ORACLE_UPSTREAMS", "https://quotes.example.com")
	os.Setenv("CHECKOUT_BOT_TOKEN", "123:abc")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error with valid config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address :8080, got %s", cfg.Server.Address)
	}
	if cfg.Oracle.RefreshInterval.Duration != 4*time.Minute {
		t.Errorf("expected default oracle refresh interval 4m, got %v", cfg.Oracle.RefreshInterval.Duration)
	}
	if cfg.Basket.ReservationTimeout.Duration != 20*time.Minute {
		t.Errorf("expected default reservation timeout 20m, got %v", cfg.Basket.ReservationTimeout.Duration)
	}

	// WebSocket URL auto-derived from RPC URL.
	if cfg.Solana.WSURL != "wss://api.mainnet-beta.solana.com" {
		t.Errorf("expected wss URL, got %s", cfg.Solana.WSURL)
	}
}

func TestLoadConfig_PostgresRequiresURL(t *testing.T) {
	clearEnv()
	os.Setenv("CHECKOUT_TREASURY_ADDRESS", "11111111111111111111111111111111")
	os.Setenv("CHECKOUT_SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("CHECKOUT_ORACLE_UPSTREAMS", "https://quotes.example.com")
	os.Setenv("CHECKOUT_BOT_TOKEN", "123:abc")
	os.Setenv("CHECKOUT_STORE_BACKEND", "postgres")
	defer clearEnv()

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when postgres backend configured without URL")
	}
	if !strings.Contains(err.Error(), "store.postgres_url is required") {
		t.Errorf("expected error about store.postgres_url, got: %v", err)
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"  /api/  ", "/api"},
		{"checkout-bot", "/checkout-bot"},
		{"/v1/checkout", "/v1/checkout"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeRoutePrefix(tt.input)
			if got != tt.want {
				t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestOracleSanityBoundsValidation(t *testing.T) {
	clearEnv()
	os.Setenv("CHECKOUT_TREASURY_ADDRESS", "11111111111111111111111111111111")
	os.Setenv("CHECKOUT_SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("CHECKOUT_ORACLE_UPSTREAMS", "https://quotes.example.com")
	defer clearEnv()

	cfg := defaultConfig()
	cfg.Treasury.TreasuryAddress = "11111111111111111111111111111111"
	cfg.Solana.RPCURL = "https://api.mainnet-beta.solana.com"
	cfg.Oracle.Upstreams = []string{"https://quotes.example.com"}
	cfg.Messenger.BotToken = "123:abc"
	cfg.Oracle.SanityMinEURPerSOL = 500
	cfg.Oracle.SanityMaxEURPerSOL = 100

	if err := cfg.finalize(); err == nil {
		t.Fatal("expected error when sanity min >= max")
	}
}

// Test helpers

func clearEnv() {
	envVars := []string{
		"CHECKOUT_SERVER_ADDRESS", "CHECKOUT_ROUTE_PREFIX", "CHECKOUT_ADMIN_METRICS_API_KEY",
		"CHECKOUT_STORE_BACKEND", "CHECKOUT_STORE_POSTGRES_URL",
		"CHECKOUT_TREASURY_ADDRESS", "CHECKOUT_RECOVERY_ADDRESS",
		"CHECKOUT_SOLANA_NETWORK", "CHECKOUT_SOLANA_RPC_URL", "CHECKOUT_SOLANA_WS_URL",
		"CHECKOUT_SOLANA_COMMITMENT", "CHECKOUT_SWEEP_DUST_FLOOR_LAMPORTS",
		"CHECKOUT_ORACLE_UPSTREAMS", "CHECKOUT_ORACLE_REFRESH_INTERVAL",
		"CHECKOUT_MIN_REFILL_EUR", "CHECKOUT_FEE_ADJUSTMENT_PERCENT", "CHECKOUT_SUPPORT_HANDLE",
		"CHECKOUT_RESERVATION_TIMEOUT",
		"CHECKOUT_BOT_TOKEN", "CHECKOUT_PRIMARY_ADMIN_ID", "CHECKOUT_WEBHOOK_BASE_URL",
		"CHECKOUT_LOG_LEVEL", "CHECKOUT_LOG_FORMAT", "CHECKOUT_ENVIRONMENT",
	}
	for _, key := range envVars {
		os.Unsetenv(key)
	}
}
