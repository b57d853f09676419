package infra

import (
	"fmt"
	"os"
	"strings"

	"trigger_go/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the core consumes. Secrets can be
// overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Binance struct {
		WSURL     string   `yaml:"ws_url"`
		RestURL   string   `yaml:"rest_url"`
		APIKey    string   `yaml:"api_key"`
		APISecret string   `yaml:"api_secret"`
		Testnet   bool     `yaml:"testnet"`
		Symbols   []string `yaml:"symbols"`
	} `yaml:"binance"`

	Stream struct {
		ChannelCapacity      int `yaml:"channel_capacity"`
		AccountPushTimeoutMS int `yaml:"account_push_timeout_ms"`
		ReconnectBaseSec     int `yaml:"reconnect_base_sec"`
		ReconnectMaxSec      int `yaml:"reconnect_max_sec"`
		WarmupKlines         int `yaml:"warmup_klines"`
	} `yaml:"stream"`

	Detector struct {
		WindowSec        int             `yaml:"window_sec"`
		DeltaPct         decimal.Decimal `yaml:"delta_pct"`
		RangePct         decimal.Decimal `yaml:"range_pct"`
		VolLookback      int             `yaml:"vol_lookback"`
		VolMult          decimal.Decimal `yaml:"vol_mult"`
		UseQuoteVolume   bool            `yaml:"use_quote_volume"`
		EnableMarkDelta  bool            `yaml:"enable_mark_delta"`
		EnableKlineRange bool            `yaml:"enable_kline_range"`
		EnableVolSurge   bool            `yaml:"enable_vol_surge"`
	} `yaml:"detector"`

	Trigger struct {
		Mode          string          `yaml:"mode"` // "kline", "timer", "event"
		IntervalSec   int             `yaml:"interval_sec"`
		CooldownSec   int             `yaml:"cooldown_sec"`
		BackoffMaxSec int             `yaml:"backoff_max_sec"`
		NotionalUSD   decimal.Decimal `yaml:"notional_usd"`
	} `yaml:"trigger"`

	Archive struct {
		Path             string `yaml:"path"`
		GracePeriodSec   int    `yaml:"grace_period_sec"`
		SweepIntervalSec int    `yaml:"sweep_interval_sec"`
	} `yaml:"archive"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Binance.WSURL == "" || (!strings.HasPrefix(c.Binance.WSURL, "ws://") && !strings.HasPrefix(c.Binance.WSURL, "wss://")) {
		return domain.NewConfigError("binance.ws_url", fmt.Errorf("invalid URL: %q", c.Binance.WSURL))
	}
	if c.Binance.RestURL == "" || (!strings.HasPrefix(c.Binance.RestURL, "http://") && !strings.HasPrefix(c.Binance.RestURL, "https://")) {
		return domain.NewConfigError("binance.rest_url", fmt.Errorf("invalid URL: %q", c.Binance.RestURL))
	}
	if len(c.Binance.Symbols) == 0 {
		return domain.NewConfigError("binance.symbols", fmt.Errorf("at least one symbol is required"))
	}

	switch c.Trigger.Mode {
	case "kline", "timer", "event":
	default:
		return domain.NewConfigError("trigger.mode", fmt.Errorf("%q is not one of kline, timer, event", c.Trigger.Mode))
	}
	if c.Trigger.Mode == "timer" && c.Trigger.IntervalSec <= 0 {
		return domain.NewConfigError("trigger.interval_sec", fmt.Errorf("timer mode requires a positive interval"))
	}
	if c.Trigger.CooldownSec < 0 {
		return domain.NewConfigError("trigger.cooldown_sec", fmt.Errorf("cooldown must not be negative"))
	}

	if c.Stream.ChannelCapacity <= 0 {
		return domain.NewConfigError("stream.channel_capacity", fmt.Errorf("must be positive"))
	}
	if c.Stream.AccountPushTimeoutMS <= 0 {
		return domain.NewConfigError("stream.account_push_timeout_ms", fmt.Errorf("must be positive"))
	}

	if c.Detector.WindowSec <= 0 {
		return domain.NewConfigError("detector.window_sec", fmt.Errorf("must be positive"))
	}
	if c.Detector.VolLookback <= 0 {
		return domain.NewConfigError("detector.vol_lookback", fmt.Errorf("must be positive"))
	}

	return nil
}

// overrideWithEnv applies environment overrides for secrets.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("TRIGGER_BINANCE_KEY"); key != "" {
		cfg.Binance.APIKey = key
	}
	if secret := os.Getenv("TRIGGER_BINANCE_SECRET"); secret != "" {
		cfg.Binance.APISecret = secret
	}
	if mode := os.Getenv("TRIGGER_MODE"); mode != "" {
		cfg.Trigger.Mode = mode
	}
}
