package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func clearBrokerEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"KIS_APP_KEY", "KIS_APP_SECRET", "KIS_ACCOUNT_NO", "KIS_ACCOUNT_CODE",
		"KIS_BASE_URL", "KIS_EXCHANGE_SEGMENTS", "KISTRADE_DATA_DIR",
		"MAX_ORDER_VALUE", "MAX_POSITION_PCT", "MIN_CASH_RESERVE", "QUOTE_SOURCE",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	clearBrokerEnv(t)

	cfg := DefaultConfig()

	if cfg.KISBaseURL != "https://openapi.koreainvestment.com:9443" {
		t.Errorf("unexpected base url: %s", cfg.KISBaseURL)
	}
	if cfg.MaxOrderValue != 10000 {
		t.Errorf("max order value = %v, want 10000", cfg.MaxOrderValue)
	}
	if cfg.MaxPositionPct != 0.30 {
		t.Errorf("max position pct = %v, want 0.30", cfg.MaxPositionPct)
	}
	if cfg.MinCashReserve != 100 {
		t.Errorf("min cash reserve = %v, want 100", cfg.MinCashReserve)
	}
	if cfg.InitialCash != 100000 {
		t.Errorf("initial cash = %v, want 100000", cfg.InitialCash)
	}
	if len(cfg.ExchangeSegments) != 3 || cfg.ExchangeSegments[0] != "NASD" {
		t.Errorf("unexpected segments: %v", cfg.ExchangeSegments)
	}
	if cfg.QuoteSource != "kis" {
		t.Errorf("quote source = %s, want kis", cfg.QuoteSource)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearBrokerEnv(t)
	t.Setenv("KIS_APP_KEY", "test-key")
	t.Setenv("KIS_ACCOUNT_NO", "12345678")
	t.Setenv("KIS_EXCHANGE_SEGMENTS", "NASD, NYSE")
	t.Setenv("MAX_ORDER_VALUE", "5000")
	t.Setenv("KISTRADE_DATA_DIR", "/tmp/kistrade-test")

	cfg := DefaultConfig()

	if cfg.KISAppKey != "test-key" {
		t.Errorf("app key = %s, want test-key", cfg.KISAppKey)
	}
	if cfg.KISAccountNo != "12345678" {
		t.Errorf("account no = %s", cfg.KISAccountNo)
	}
	if len(cfg.ExchangeSegments) != 2 || cfg.ExchangeSegments[1] != "NYSE" {
		t.Errorf("segments = %v, want [NASD NYSE]", cfg.ExchangeSegments)
	}
	if cfg.MaxOrderValue != 5000 {
		t.Errorf("max order value = %v, want 5000", cfg.MaxOrderValue)
	}
	if cfg.DataDir != "/tmp/kistrade-test" {
		t.Errorf("data dir = %s", cfg.DataDir)
	}
	if cfg.CacheDir != filepath.Join("/tmp/kistrade-test", "cache") {
		t.Errorf("cache dir = %s", cfg.CacheDir)
	}
	if cfg.LedgerPath() != filepath.Join("/tmp/kistrade-test", "portfolio.json") {
		t.Errorf("ledger path = %s", cfg.LedgerPath())
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	clearBrokerEnv(t)

	cfg := DefaultConfig()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	for _, key := range []string{"KIS_APP_KEY", "KIS_APP_SECRET", "KIS_ACCOUNT_NO", "KIS_ACCOUNT_CODE"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
}

func TestValidateGuardrails(t *testing.T) {
	clearBrokerEnv(t)

	cfg := DefaultConfig()
	cfg.KISAppKey = "k"
	cfg.KISAppSecret = "s"
	cfg.KISAccountNo = "1"
	cfg.KISAccountCode = "01"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg.MaxPositionPct = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for max position pct > 1")
	}
	cfg.MaxPositionPct = 0.3

	cfg.QuoteSource = "bloomberg"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown quote source")
	}

	cfg.QuoteSource = "longport"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for longport source without credentials")
	}
}

func TestEnsureDirectories(t *testing.T) {
	clearBrokerEnv(t)

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.CacheDir = filepath.Join(dir, "data", "cache")
	cfg.ResultsDir = filepath.Join(dir, "results")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories twice: %v", err)
	}
}
