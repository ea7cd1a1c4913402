package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Screener.Window != time.Minute {
		t.Fatalf("expected 1m window, got %s", c.Screener.Window)
	}
	if c.Screener.Rule.Multiplier != "10" || c.Screener.Rule.LookbackDays != 5 {
		t.Fatalf("unexpected rule defaults %+v", c.Screener.Rule)
	}
	if c.Rates.Fallbacks["INR"] != "83" || c.Screener.OverflowPolicy != "drop_oldest" {
		t.Fatalf("unexpected defaults: fallbacks=%v policy=%s", c.Rates.Fallbacks, c.Screener.OverflowPolicy)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	yml := `
environment: prod
screener:
  window: 30s
  max_windows: 10
catalog:
  symbols: [BTCUSDT, ETHUSDT]
`
	c, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Screener.Window != 30*time.Second || c.Screener.MaxWindows != 10 {
		t.Fatalf("unexpected screener config %+v", c.Screener)
	}
	if len(c.Catalog.Symbols) != 2 {
		t.Fatalf("unexpected symbols %v", c.Catalog.Symbols)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"window":        "screener:\n  window: 7m\n",
		"policy":        "screener:\n  overflow_policy: block\n",
		"baseline":      "baseline:\n  source: clickhouse\n",
		"kafka":         "kafka:\n  enabled: true\n",
		"fallback":      "rates:\n  fallbacks:\n    EUR: abc\n",
		"zero fallback": "rates:\n  fallbacks:\n    INR: \"0\"\n",
		"neg fallback":  "rates:\n  fallbacks:\n    EUR: \"-0.9\"\n",
	}
	for name, yml := range cases {
		if _, err := Parse([]byte(yml)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestRateFallbacksPerCurrency(t *testing.T) {
	c, err := Parse([]byte("rates:\n  fallbacks:\n    eur: \"0.92\"\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fb, err := c.RateFallbacks()
	if err != nil {
		t.Fatalf("fallbacks: %v", err)
	}
	if !fb["EUR"].Equal(decimal.RequireFromString("0.92")) || !fb["INR"].Equal(decimal.NewFromInt(83)) {
		t.Fatalf("unexpected fallbacks %v", fb)
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("environment: dev\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("FINSCREEN_SYMBOLS", "btcusdt, ethusdt")
	t.Setenv("FINSCREEN_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(c.Catalog.Symbols, ",") != "btcusdt,ethusdt" {
		t.Fatalf("unexpected symbols %v", c.Catalog.Symbols)
	}
	if c.Server.Port != 9090 || !c.Kafka.Enabled || len(c.Kafka.Brokers) != 2 {
		t.Fatalf("env overrides not applied: %+v %+v", c.Server, c.Kafka.Brokers)
	}
}
