package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validConfig returns defaults patched to pass validation.
func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.KeypairPath = "/tmp/wallet.json"
	cfg.Pool.Address = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
	cfg.Position.BudgetLamports = 1_000_000_000
	return cfg
}

func TestDefaultsValidateWithRequiredFields(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing keypair", func(c *Config) { c.Wallet.KeypairPath = "" }},
		{"bad mode", func(c *Config) { c.Mode = "yolo" }},
		{"bad pool address", func(c *Config) { c.Pool.Address = "not-base58!" }},
		{"zero budget", func(c *Config) { c.Position.BudgetLamports = 0 }},
		{"bad strategy", func(c *Config) { c.Position.Strategy = "martingale" }},
		{"bad fee mode", func(c *Config) { c.Position.FeeMode = "burn" }},
		{"descending ladder", func(c *Config) { c.Position.SlippageLadderBps = []int{300, 50} }},
		{"empty ladder", func(c *Config) { c.Position.SlippageLadderBps = nil }},
		{"haircut too large", func(c *Config) { c.Position.HaircutBps = 1_000 }},
		{"bad commitment", func(c *Config) { c.RPC.Commitment = "hopeful" }},
		{"bad tier", func(c *Config) { c.Fees.Tier = "turbo" }},
		{"tip floor above ceiling", func(c *Config) {
			c.Jito.TipFloorLamports = 5_000_000
			c.Jito.TipCeilingLamports = 1_000_000
		}},
		{"zero out-of-range checks", func(c *Config) { c.Monitor.OutOfRangeChecks = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "open"

[wallet]
keypair_path = "/tmp/wallet.json"

[pool]
address = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"

[position]
budget_lamports = 2000000000
bin_span = 40

[rpc]
settle_delay = "5s"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "open" {
		t.Errorf("mode = %q, want open", cfg.Mode)
	}
	if cfg.Position.BudgetLamports != 2_000_000_000 {
		t.Errorf("budget = %d", cfg.Position.BudgetLamports)
	}
	if cfg.Position.BinSpan != 40 {
		t.Errorf("bin span = %d, want 40", cfg.Position.BinSpan)
	}
	if cfg.RPC.SettleDelay.Duration != 5*time.Second {
		t.Errorf("settle delay = %s, want 5s", cfg.RPC.SettleDelay.Duration)
	}

	// Untouched fields keep their defaults.
	if cfg.Position.Strategy != "spot" {
		t.Errorf("strategy = %q, want default spot", cfg.Position.Strategy)
	}
	if cfg.Pool.MaxBinsPerTx != 69 {
		t.Errorf("max bins per tx = %d, want default 69", cfg.Pool.MaxBinsPerTx)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[wallet]
keypair_path = "/from/file"

[pool]
address = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"

[position]
budget_lamports = 1000000000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DLMMBOT_WALLET_KEYPAIR_PATH", "/from/env")
	t.Setenv("DLMMBOT_POSITION_BUDGET_LAMPORTS", "3000000000")
	t.Setenv("DLMMBOT_MODE", "status")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wallet.KeypairPath != "/from/env" {
		t.Errorf("keypair = %q, want env override", cfg.Wallet.KeypairPath)
	}
	if cfg.Position.BudgetLamports != 3_000_000_000 {
		t.Errorf("budget = %d, want env override", cfg.Position.BudgetLamports)
	}
	if cfg.Mode != "status" {
		t.Errorf("mode = %q, want status", cfg.Mode)
	}
}
