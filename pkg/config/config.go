package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Logger      struct {
		Level   string `yaml:"level" default:"info"`
		Format  string `yaml:"format" default:"console"`
		Output  string `yaml:"output" default:"stdout"`
		Collect struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"finscreen.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collect"`
	} `yaml:"logger"`
	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		RuleUpdatesRPS  float64       `yaml:"rule_updates_rps" default:"1"`
	} `yaml:"server"`
	Screener struct {
		Window         time.Duration `yaml:"window" default:"1m"`
		BufferSize     int           `yaml:"buffer_size" default:"8192"`
		OverflowPolicy string        `yaml:"overflow_policy" default:"drop_oldest"`
		MaxWindows     int           `yaml:"max_windows" default:"1440"`
		MaxPageSize    int           `yaml:"max_page_size" default:"200"`
		Rule           RuleConfig    `yaml:"rule"`
	} `yaml:"screener"`
	Binance struct {
		RestURL        string        `yaml:"rest_url" default:"https://fapi.binance.com"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://fstream.binance.com/stream"`
		StreamsPerConn int           `yaml:"streams_per_conn" default:"200"`
		DialTimeout    time.Duration `yaml:"dial_timeout" default:"10s"`
		ReadTimeout    time.Duration `yaml:"read_timeout" default:"30s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"15s"`
		ReconnectMin   time.Duration `yaml:"reconnect_min" default:"500ms"`
		ReconnectMax   time.Duration `yaml:"reconnect_max" default:"30s"`
		RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
		KlineInterval  string        `yaml:"kline_interval" default:"1h"`
	} `yaml:"binance"`
	Catalog struct {
		Symbols         []string      `yaml:"symbols"`
		QuoteAsset      string        `yaml:"quote_asset" default:"USDT"`
		MaxSymbols      int           `yaml:"max_symbols" default:"0"`
		RefreshInterval time.Duration `yaml:"refresh_interval" default:"1h"`
	} `yaml:"catalog"`
	Baseline struct {
		Source          string        `yaml:"source" default:"binance"`
		MinBars         int           `yaml:"min_bars" default:"24"`
		RefreshInterval time.Duration `yaml:"refresh_interval" default:"30m"`
		FetchTimeout    time.Duration `yaml:"fetch_timeout" default:"15s"`
		Concurrency     int           `yaml:"concurrency" default:"8"`
		Table           string        `yaml:"table" default:"finscreen.candles_1h"`
	} `yaml:"baseline"`
	Rates struct {
		URL             string            `yaml:"url" default:"https://api.exchangerate.host/latest"`
		Base            string            `yaml:"base" default:"USD"`
		Fallbacks       map[string]string `yaml:"fallbacks" default:"{\"INR\":\"83\"}"`
		RefreshInterval time.Duration     `yaml:"refresh_interval" default:"10m"`
		Timeout         time.Duration     `yaml:"timeout" default:"5s"`
		CacheTTL        time.Duration     `yaml:"cache_ttl" default:"24h"`
	} `yaml:"rates"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"finscreen.matches"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finscreen"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		MatchTable       string        `yaml:"match_table" default:"matches"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"finscreen"`
	} `yaml:"redis"`
}

// RuleConfig is the screening rule active at startup.
type RuleConfig struct {
	Kind         string `yaml:"kind" default:"volume_multiple"`
	Multiplier   string `yaml:"multiplier" default:"10"`
	LookbackDays int    `yaml:"lookback_days" default:"5"`
	Threshold    string `yaml:"threshold" default:"40000000"`
	Currency     string `yaml:"currency" default:"INR"`
}

// RateFallbacks parses rates.fallbacks. Every rate must be positive.
func (c *Config) RateFallbacks() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(c.Rates.Fallbacks))
	for quote, raw := range c.Rates.Fallbacks {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("rates.fallbacks.%s: %w", quote, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rates.fallbacks.%s must be positive, got %s", quote, raw)
		}
		out[strings.ToUpper(strings.TrimSpace(quote))] = rate
	}
	return out, nil
}

// Default returns a config populated from struct defaults only.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FINSCREEN_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("FINSCREEN_LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := os.Getenv("FINSCREEN_SYMBOLS"); v != "" {
		c.Catalog.Symbols = splitList(v)
	}
	if v := os.Getenv("FINSCREEN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FINSCREEN_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Screener.Window < time.Second || time.Hour%c.Screener.Window != 0 {
		return fmt.Errorf("screener.window must divide one hour evenly, got %s", c.Screener.Window)
	}
	if c.Screener.BufferSize <= 0 {
		return fmt.Errorf("screener.buffer_size must be positive")
	}
	switch c.Screener.OverflowPolicy {
	case "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("screener.overflow_policy must be 'drop_oldest' or 'drop_newest', got '%s'", c.Screener.OverflowPolicy)
	}
	if c.Screener.MaxWindows < 0 {
		return fmt.Errorf("screener.max_windows cannot be negative")
	}
	if c.Binance.ReconnectMin <= 0 || c.Binance.ReconnectMax < c.Binance.ReconnectMin {
		return fmt.Errorf("binance.reconnect_min/max are invalid")
	}
	if c.Binance.StreamsPerConn <= 0 {
		return fmt.Errorf("binance.streams_per_conn must be positive")
	}
	if c.Baseline.Source != "binance" && c.Baseline.Source != "clickhouse" {
		return fmt.Errorf("baseline.source must be 'binance' or 'clickhouse', got '%s'", c.Baseline.Source)
	}
	if c.Baseline.Source == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("baseline.source 'clickhouse' requires clickhouse.enabled")
	}
	if _, err := c.RateFallbacks(); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Logger.Collect.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("logger.collect requires kafka.enabled")
	}
	return nil
}
