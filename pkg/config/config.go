package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/helix-lab/helix/bookfeed/pkg/pricing"
	"github.com/helix-lab/helix/bookfeed/pkg/ws"
)

const envPrefix = "BOOKFEED"

type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	HTTPAddr string       `mapstructure:"http_addr"`
	Feeds    []FeedConfig `mapstructure:"feeds"`
	Solver   SolverConfig `mapstructure:"solver"`
}

// FeedConfig is one venue's streaming connection plus the fee schedule its
// books are priced with. Durations are in milliseconds.
type FeedConfig struct {
	Platform         string   `mapstructure:"platform"`
	URL              string   `mapstructure:"url"`
	APIKey           string   `mapstructure:"api_key"`
	Channel          string   `mapstructure:"channel"`
	HeartbeatMs      int      `mapstructure:"heartbeat_ms"`
	ReconnectMinMs   int      `mapstructure:"reconnect_min_ms"`
	ReconnectMaxMs   int      `mapstructure:"reconnect_max_ms"`
	ReadTimeoutMs    int      `mapstructure:"read_timeout_ms"`
	StaleTimeoutMs   int      `mapstructure:"stale_timeout_ms"`
	MaxDepthLevels   int      `mapstructure:"max_depth_levels"`
	ResetOnReconnect bool     `mapstructure:"reset_on_reconnect"`
	FeeBps           float64  `mapstructure:"fee_bps"`
	FeeCurveRate     *float64 `mapstructure:"fee_curve_rate"`
	FeeCurveExponent *float64 `mapstructure:"fee_curve_exponent"`
	SlippageBps      float64  `mapstructure:"slippage_bps"`
	Markets          []string `mapstructure:"markets"`
}

type SolverConfig struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	TimeoutMs int      `mapstructure:"timeout_ms"`
}

func (f FeedConfig) Heartbeat() time.Duration    { return ms(f.HeartbeatMs) }
func (f FeedConfig) ReconnectMin() time.Duration { return ms(f.ReconnectMinMs) }
func (f FeedConfig) ReconnectMax() time.Duration { return ms(f.ReconnectMaxMs) }
func (f FeedConfig) ReadTimeout() time.Duration  { return ms(f.ReadTimeoutMs) }
func (f FeedConfig) StaleTimeout() time.Duration { return ms(f.StaleTimeoutMs) }
func (s SolverConfig) Timeout() time.Duration    { return ms(s.TimeoutMs) }

// PricingParams turns the fee keys into pricer inputs. The curve is only
// used when both curve keys are present.
func (f FeedConfig) PricingParams() pricing.Params {
	p := pricing.Params{Fee: pricing.FeeModel{FeeBps: f.FeeBps}, SlippageBps: f.SlippageBps}
	if f.FeeCurveRate != nil && f.FeeCurveExponent != nil {
		p.Fee.Curve = &pricing.Curve{Rate: *f.FeeCurveRate, Exponent: *f.FeeCurveExponent}
	}
	return p
}

// Connection is the websocket half of the feed settings.
func (f FeedConfig) Connection() ws.Config {
	return ws.Config{
		URL:              f.URL,
		APIKey:           f.APIKey,
		Heartbeat:        f.Heartbeat(),
		ReconnectMin:     f.ReconnectMin(),
		ReconnectMax:     f.ReconnectMax(),
		ReadTimeout:      f.ReadTimeout(),
		StaleTimeout:     f.StaleTimeout(),
		MaxDepthLevels:   f.MaxDepthLevels,
		ResetOnReconnect: f.ResetOnReconnect,
	}
}

// Feed looks up the feed configured for platform.
func (c *Config) Feed(platform string) (FeedConfig, bool) {
	for _, f := range c.Feeds {
		if f.Platform == platform {
			return f, true
		}
	}
	return FeedConfig{}, false
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Load reads .env (if any), then the YAML file at path (or ./config.yaml),
// then BOOKFEED_* environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	for i := range cfg.Feeds {
		cfg.Feeds[i].applyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("solver.timeout_ms", 10000)
}

// applyDefaults fills per-feed zero values; viper defaults do not reach
// into list elements.
func (f *FeedConfig) applyDefaults() {
	if f.HeartbeatMs <= 0 {
		f.HeartbeatMs = 10000
	}
	if f.ReconnectMinMs <= 0 {
		f.ReconnectMinMs = 500
	}
	if f.ReconnectMaxMs <= 0 {
		f.ReconnectMaxMs = 30000
	}
	if f.StaleTimeoutMs <= 0 {
		f.StaleTimeoutMs = 15000
	}
}

func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Feeds))
	for i, f := range c.Feeds {
		if f.Platform == "" {
			return fmt.Errorf("feeds[%d]: platform is required", i)
		}
		if _, dup := seen[f.Platform]; dup {
			return fmt.Errorf("feeds[%d]: duplicate platform %q", i, f.Platform)
		}
		seen[f.Platform] = struct{}{}
		if _, err := ws.AdapterFor(f.Platform, f.Channel); err != nil {
			return fmt.Errorf("feeds[%d]: %w", i, err)
		}
		if f.URL == "" {
			return fmt.Errorf("feeds[%d] %s: url is required", i, f.Platform)
		}
		if f.ReconnectMinMs > f.ReconnectMaxMs {
			return fmt.Errorf("feeds[%d] %s: reconnect_min_ms %d exceeds reconnect_max_ms %d",
				i, f.Platform, f.ReconnectMinMs, f.ReconnectMaxMs)
		}
		if err := f.PricingParams().Validate(); err != nil {
			return fmt.Errorf("feeds[%d] %s: %w", i, f.Platform, err)
		}
	}
	return nil
}
