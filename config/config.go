// Package config loads application configuration from a YAML file merged
// with environment overrides. The YAML file is the primary source; a .env
// file and process environment variables override individual fields, which
// keeps credentials out of checked-in configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"papertrader/internal/adapters/logger"
	"papertrader/internal/domain"
)

// Config is the top-level configuration for the paper trading engine.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Execution ExecutionConfig `yaml:"execution"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Limits    LimitsConfig    `yaml:"limits"`
	Feed      FeedConfig      `yaml:"feed"`
	Storage   StorageConfig   `yaml:"storage"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Decision  DecisionConfig  `yaml:"decision"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging"`
	Agents    []AgentSpec     `yaml:"agents"`
}

// EngineConfig tunes the tick pipeline.
type EngineConfig struct {
	Workers       int `yaml:"workers"`
	EvalTimeoutMS int `yaml:"eval_timeout_ms"`
	EventBuffer   int `yaml:"event_buffer"`
	HistorySize   int `yaml:"history_size"`
	MirrorQueue   int `yaml:"mirror_queue"`
}

// EvalTimeout returns the per-agent evaluation bound as a duration.
func (c EngineConfig) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

// ExecutionConfig holds the simulated market frictions.
type ExecutionConfig struct {
	SlippageRate   float64 `yaml:"slippage_rate"`
	CommissionRate float64 `yaml:"commission_rate"`
}

// MetricsConfig holds performance-metric parameters.
type MetricsConfig struct {
	RiskFreeRate float64 `yaml:"risk_free_rate"`
}

// LimitsConfig mirrors domain.RiskLimits in YAML form. Zero values disable
// the corresponding rule.
type LimitsConfig struct {
	MaxPositionSize   float64  `yaml:"max_position_size"`
	MaxDailyLoss      float64  `yaml:"max_daily_loss"`
	MaxDrawdown       float64  `yaml:"max_drawdown"`
	MaxLeverage       float64  `yaml:"max_leverage"`
	AllowedSymbols    []string `yaml:"allowed_symbols"`
	StopLossEnabled   bool     `yaml:"stop_loss_enabled"`
	TakeProfitEnabled bool     `yaml:"take_profit_enabled"`
}

// ToDomain converts the YAML form into the domain type.
func (c LimitsConfig) ToDomain() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize:   c.MaxPositionSize,
		MaxDailyLoss:      c.MaxDailyLoss,
		MaxDrawdown:       c.MaxDrawdown,
		MaxLeverage:       c.MaxLeverage,
		AllowedSymbols:    append([]string(nil), c.AllowedSymbols...),
		StopLossEnabled:   c.StopLossEnabled,
		TakeProfitEnabled: c.TakeProfitEnabled,
	}
}

// Feed sources understood by the composition root.
const (
	FeedBinance = "binance"
	FeedReplay  = "replay"
)

// FeedConfig selects and configures the price feed.
type FeedConfig struct {
	Source  string        `yaml:"source"`  // "binance" or "replay"
	Symbols []string      `yaml:"symbols"` // Extra symbols beyond agent subscriptions (recorder, quote warmup)
	Binance BinanceConfig `yaml:"binance"`
	Replay  ReplayConfig  `yaml:"replay"`
}

// BinanceConfig configures the live websocket feed.
type BinanceConfig struct {
	APIKey                string `yaml:"api_key"`
	SecretKey             string `yaml:"secret_key"`
	Testnet               bool   `yaml:"testnet"`
	Interval              string `yaml:"interval"`
	BufferSize            int    `yaml:"buffer_size"`
	ReconnectDelaySeconds int    `yaml:"reconnect_delay_seconds"`
	MaxReconnectAttempts  int    `yaml:"max_reconnect_attempts"`
}

// ReconnectDelay returns the base reconnect delay as a duration.
func (c BinanceConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// ReplayConfig configures CSV tick playback.
type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
}

// StorageConfig holds paths for local persistence.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MirrorConfig configures the REST persistence fallback. An empty base URL
// disables the sink.
type MirrorConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Enabled reports whether a backend is configured.
func (c MirrorConfig) Enabled() bool { return c.BaseURL != "" }

// Timeout returns the per-request timeout as a duration.
func (c MirrorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DecisionConfig configures the external decision service used by
// external_ai agents. An empty base URL disables the client; creating an
// external_ai agent then fails with a configuration error.
type DecisionConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Enabled reports whether a decision service is configured.
func (c DecisionConfig) Enabled() bool { return c.BaseURL != "" }

// Timeout returns the per-request timeout as a duration.
func (c DecisionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GatewayConfig holds the HTTP/WebSocket listener settings.
type GatewayConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LogLevel parses the configured level, defaulting to INFO.
func (c LoggingConfig) LogLevel() logger.LogLevel {
	return logger.ParseLevel(c.Level)
}

// AgentSpec declares one trading agent to create at startup.
type AgentSpec struct {
	Name           string             `yaml:"name"`
	Strategy       string             `yaml:"strategy"`
	Params         map[string]float64 `yaml:"params"`
	Symbols        []string           `yaml:"symbols"`
	InitialCapital float64            `yaml:"initial_capital"`
	Limits         *LimitsConfig      `yaml:"limits"`
}

// Load reads the YAML configuration at path, applies .env/environment
// overrides, fills defaults and validates the result. An empty path skips
// the file and configures from environment and defaults alone.
func Load(path string) (*Config, error) {
	// Load .env if present; pure environment variables still apply without one.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding fields when set. Credentials are expected to arrive this
// way rather than through the YAML file.
func applyEnvOverrides(cfg *Config) {
	cfg.Feed.Source = getEnv("FEED_SOURCE", cfg.Feed.Source)
	if v := getEnv("SYMBOLS", ""); v != "" {
		cfg.Feed.Symbols = splitList(v)
	}

	cfg.Feed.Binance.APIKey = getEnv("BINANCE_API_KEY", cfg.Feed.Binance.APIKey)
	cfg.Feed.Binance.SecretKey = getEnv("BINANCE_API_SECRET", cfg.Feed.Binance.SecretKey)
	cfg.Feed.Binance.Testnet = getEnvAsBool("IS_TESTNET", cfg.Feed.Binance.Testnet)

	cfg.Feed.Replay.Path = getEnv("REPLAY_PATH", cfg.Feed.Replay.Path)
	cfg.Feed.Replay.Speed = getEnvAsFloat("REPLAY_SPEED", cfg.Feed.Replay.Speed)

	cfg.Engine.Workers = getEnvAsInt("ENGINE_WORKERS", cfg.Engine.Workers)

	cfg.Storage.SQLitePath = getEnv("DB_PATH", cfg.Storage.SQLitePath)

	cfg.Mirror.BaseURL = getEnv("MIRROR_BASE_URL", cfg.Mirror.BaseURL)
	cfg.Mirror.APIKey = getEnv("MIRROR_API_KEY", cfg.Mirror.APIKey)

	cfg.Decision.BaseURL = getEnv("DECISION_BASE_URL", cfg.Decision.BaseURL)
	cfg.Decision.APIKey = getEnv("DECISION_API_KEY", cfg.Decision.APIKey)
	cfg.Decision.Model = getEnv("DECISION_MODEL", cfg.Decision.Model)

	cfg.Gateway.Addr = getEnv("GATEWAY_ADDR", cfg.Gateway.Addr)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
}

// applyDefaults fills unset fields with the documented defaults. Component
// constructors re-apply the same defaults, so a zero here is never fatal;
// the config layer makes them visible in one place.
func (c *Config) applyDefaults() {
	if c.Engine.Workers == 0 {
		c.Engine.Workers = 8
	}
	if c.Engine.EvalTimeoutMS == 0 {
		c.Engine.EvalTimeoutMS = 5000
	}
	if c.Engine.EventBuffer == 0 {
		c.Engine.EventBuffer = 64
	}
	if c.Engine.HistorySize == 0 {
		c.Engine.HistorySize = 256
	}
	if c.Engine.MirrorQueue == 0 {
		c.Engine.MirrorQueue = 256
	}

	if c.Execution.SlippageRate == 0 {
		c.Execution.SlippageRate = 0.0005
	}
	if c.Execution.CommissionRate == 0 {
		c.Execution.CommissionRate = 0.001
	}
	if c.Metrics.RiskFreeRate == 0 {
		c.Metrics.RiskFreeRate = 0.02
	}

	if c.Feed.Source == "" {
		c.Feed.Source = FeedBinance
	}
	if c.Feed.Binance.Interval == "" {
		c.Feed.Binance.Interval = "1m"
	}
	if c.Feed.Binance.BufferSize == 0 {
		c.Feed.Binance.BufferSize = 512
	}
	if c.Feed.Binance.ReconnectDelaySeconds == 0 {
		c.Feed.Binance.ReconnectDelaySeconds = 1
	}
	if c.Feed.Binance.MaxReconnectAttempts == 0 {
		c.Feed.Binance.MaxReconnectAttempts = 10
	}
	if c.Feed.Replay.Speed == 0 {
		c.Feed.Replay.Speed = 1
	}

	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/papertrader.db"
	}
	if c.Mirror.TimeoutSeconds == 0 {
		c.Mirror.TimeoutSeconds = 10
	}
	if c.Decision.TimeoutSeconds == 0 {
		c.Decision.TimeoutSeconds = 30
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
}

// validate collects every violation before failing so one run surfaces all
// problems at once.
func (c *Config) validate() error {
	var errs []string

	if c.Engine.Workers <= 0 {
		errs = append(errs, "engine.workers must be positive")
	}
	if c.Engine.EvalTimeoutMS <= 0 {
		errs = append(errs, "engine.eval_timeout_ms must be positive")
	}
	if c.Engine.EventBuffer <= 0 {
		errs = append(errs, "engine.event_buffer must be positive")
	}
	if c.Engine.HistorySize <= 0 {
		errs = append(errs, "engine.history_size must be positive")
	}
	if c.Engine.MirrorQueue <= 0 {
		errs = append(errs, "engine.mirror_queue must be positive")
	}

	if c.Execution.SlippageRate < 0 || c.Execution.SlippageRate >= 1 {
		errs = append(errs, "execution.slippage_rate must be in [0, 1)")
	}
	if c.Execution.CommissionRate < 0 || c.Execution.CommissionRate >= 1 {
		errs = append(errs, "execution.commission_rate must be in [0, 1)")
	}
	if c.Metrics.RiskFreeRate < 0 {
		errs = append(errs, "metrics.risk_free_rate cannot be negative")
	}

	errs = append(errs, c.Limits.check("limits")...)

	switch c.Feed.Source {
	case FeedBinance:
		if c.Feed.Binance.Interval == "" {
			errs = append(errs, "feed.binance.interval must be set")
		}
		if c.Feed.Binance.ReconnectDelaySeconds <= 0 {
			errs = append(errs, "feed.binance.reconnect_delay_seconds must be positive")
		}
		if c.Feed.Binance.MaxReconnectAttempts < 0 {
			errs = append(errs, "feed.binance.max_reconnect_attempts cannot be negative")
		}
	case FeedReplay:
		if c.Feed.Replay.Path == "" {
			errs = append(errs, "feed.replay.path must be set when feed.source is replay")
		}
		if c.Feed.Replay.Speed <= 0 {
			errs = append(errs, "feed.replay.speed must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("feed.source %q must be %q or %q", c.Feed.Source, FeedBinance, FeedReplay))
	}

	if c.Storage.SQLitePath == "" {
		errs = append(errs, "storage.sqlite_path must be set")
	}
	if c.Mirror.TimeoutSeconds <= 0 {
		errs = append(errs, "mirror.timeout_seconds must be positive")
	}
	if c.Decision.TimeoutSeconds <= 0 {
		errs = append(errs, "decision.timeout_seconds must be positive")
	}
	if c.Gateway.Addr == "" {
		errs = append(errs, "gateway.addr must be set")
	}

	for i, agent := range c.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if agent.Name == "" {
			errs = append(errs, prefix+".name must be set")
		}
		if agent.Strategy == "" {
			errs = append(errs, prefix+".strategy must be set")
		}
		if len(agent.Symbols) == 0 {
			errs = append(errs, prefix+".symbols needs at least one symbol")
		}
		if agent.InitialCapital <= 0 {
			errs = append(errs, prefix+".initial_capital must be positive")
		}
		if agent.Limits != nil {
			errs = append(errs, agent.Limits.check(prefix+".limits")...)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// check validates one limits block; prefix names it in error messages.
func (c LimitsConfig) check(prefix string) []string {
	var errs []string
	if c.MaxPositionSize < 0 {
		errs = append(errs, prefix+".max_position_size cannot be negative")
	}
	if c.MaxDailyLoss < 0 {
		errs = append(errs, prefix+".max_daily_loss cannot be negative")
	}
	if c.MaxDrawdown < 0 || c.MaxDrawdown > 1 {
		errs = append(errs, prefix+".max_drawdown must be in [0, 1]")
	}
	if c.MaxLeverage < 0 {
		errs = append(errs, prefix+".max_leverage cannot be negative")
	}
	return errs
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// splitList parses a comma-separated environment value.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
