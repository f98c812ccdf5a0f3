package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/adapters/logger"
)

// clearEnv neutralizes every override so ambient shell state cannot leak
// into assertions. t.Setenv restores the previous values after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"FEED_SOURCE", "SYMBOLS",
		"BINANCE_API_KEY", "BINANCE_API_SECRET", "IS_TESTNET",
		"REPLAY_PATH", "REPLAY_SPEED",
		"ENGINE_WORKERS", "DB_PATH",
		"MIRROR_BASE_URL", "MIRROR_API_KEY",
		"DECISION_BASE_URL", "DECISION_API_KEY", "DECISION_MODEL",
		"GATEWAY_ADDR", "LOG_LEVEL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papertrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 5*time.Second, cfg.Engine.EvalTimeout())
	assert.Equal(t, 64, cfg.Engine.EventBuffer)
	assert.Equal(t, 256, cfg.Engine.HistorySize)
	assert.Equal(t, 256, cfg.Engine.MirrorQueue)

	assert.Equal(t, 0.0005, cfg.Execution.SlippageRate)
	assert.Equal(t, 0.001, cfg.Execution.CommissionRate)
	assert.Equal(t, 0.02, cfg.Metrics.RiskFreeRate)

	assert.Equal(t, FeedBinance, cfg.Feed.Source)
	assert.Equal(t, "1m", cfg.Feed.Binance.Interval)
	assert.Equal(t, time.Second, cfg.Feed.Binance.ReconnectDelay())
	assert.Equal(t, 10, cfg.Feed.Binance.MaxReconnectAttempts)

	assert.Equal(t, "./data/papertrader.db", cfg.Storage.SQLitePath)
	assert.False(t, cfg.Mirror.Enabled())
	assert.False(t, cfg.Decision.Enabled())
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
	assert.Equal(t, logger.LevelInfo, cfg.Logging.LogLevel())
	assert.Empty(t, cfg.Agents)
}

func TestLoadParsesFullFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
engine:
  workers: 4
  eval_timeout_ms: 750
  event_buffer: 16
  history_size: 128
  mirror_queue: 64
execution:
  slippage_rate: 0.001
  commission_rate: 0.002
metrics:
  risk_free_rate: 0.03
limits:
  max_position_size: 0.25
  max_daily_loss: 500
  max_drawdown: 0.2
  max_leverage: 3
  allowed_symbols: ["BTCUSDT", "ETHUSDT"]
  stop_loss_enabled: true
  take_profit_enabled: true
feed:
  source: binance
  symbols: ["BTCUSDT"]
  binance:
    api_key: "file-key"
    secret_key: "file-secret"
    testnet: true
    interval: "1m"
    buffer_size: 256
    reconnect_delay_seconds: 2
    max_reconnect_attempts: 5
storage:
  sqlite_path: "/tmp/papertrader-test.db"
mirror:
  base_url: "https://backend.example.com/api/v1"
  api_key: "mirror-token"
  timeout_seconds: 15
decision:
  base_url: "https://llm.example.com"
  api_key: "llm-token"
  model: "gpt-4o-mini"
  timeout_seconds: 45
gateway:
  addr: ":9090"
logging:
  level: "debug"
agents:
  - name: "sma-cross"
    strategy: "momentum"
    params:
      fast_period: 5
      slow_period: 20
      order_qty: 0.5
    symbols: ["BTCUSDT"]
    initial_capital: 10000
    limits:
      max_position_size: 0.1
  - name: "dip-buyer"
    strategy: "dca"
    symbols: ["ETHUSDT"]
    initial_capital: 5000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.EvalTimeout())
	assert.Equal(t, 64, cfg.Engine.MirrorQueue)
	assert.Equal(t, 0.001, cfg.Execution.SlippageRate)
	assert.Equal(t, 0.002, cfg.Execution.CommissionRate)
	assert.Equal(t, 0.03, cfg.Metrics.RiskFreeRate)

	limits := cfg.Limits.ToDomain()
	assert.Equal(t, 0.25, limits.MaxPositionSize)
	assert.Equal(t, 500.0, limits.MaxDailyLoss)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, limits.AllowedSymbols)
	assert.True(t, limits.StopLossEnabled)

	assert.Equal(t, "file-key", cfg.Feed.Binance.APIKey)
	assert.True(t, cfg.Feed.Binance.Testnet)
	assert.Equal(t, 2*time.Second, cfg.Feed.Binance.ReconnectDelay())

	assert.Equal(t, "/tmp/papertrader-test.db", cfg.Storage.SQLitePath)
	assert.True(t, cfg.Mirror.Enabled())
	assert.Equal(t, 15*time.Second, cfg.Mirror.Timeout())
	assert.True(t, cfg.Decision.Enabled())
	assert.Equal(t, "gpt-4o-mini", cfg.Decision.Model)
	assert.Equal(t, 45*time.Second, cfg.Decision.Timeout())
	assert.Equal(t, ":9090", cfg.Gateway.Addr)
	assert.Equal(t, logger.LevelDebug, cfg.Logging.LogLevel())

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "sma-cross", cfg.Agents[0].Name)
	assert.Equal(t, "momentum", cfg.Agents[0].Strategy)
	assert.Equal(t, 5.0, cfg.Agents[0].Params["fast_period"])
	require.NotNil(t, cfg.Agents[0].Limits)
	assert.Equal(t, 0.1, cfg.Agents[0].Limits.MaxPositionSize)
	assert.Nil(t, cfg.Agents[1].Limits)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
feed:
  binance:
    api_key: "yaml-key"
    secret_key: "yaml-secret"
storage:
  sqlite_path: "/yaml/path.db"
`)

	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("DB_PATH", "/env/path.db")
	t.Setenv("SYMBOLS", "BTCUSDT, ETHUSDT,")
	t.Setenv("IS_TESTNET", "true")
	t.Setenv("ENGINE_WORKERS", "3")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Feed.Binance.APIKey)
	assert.Equal(t, "yaml-secret", cfg.Feed.Binance.SecretKey, "untouched fields keep their file values")
	assert.Equal(t, "/env/path.db", cfg.Storage.SQLitePath)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Feed.Symbols)
	assert.True(t, cfg.Feed.Binance.Testnet)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, logger.LevelWarn, cfg.Logging.LogLevel())
}

func TestValidationCollectsAllErrors(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
engine:
  workers: -1
execution:
  slippage_rate: 1.5
feed:
  source: "carrier-pigeon"
agents:
  - name: ""
    strategy: ""
    symbols: []
    initial_capital: 0
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "engine.workers")
	assert.Contains(t, err.Error(), "execution.slippage_rate")
	assert.Contains(t, err.Error(), "feed.source")
	assert.Contains(t, err.Error(), "agents[0].name")
	assert.Contains(t, err.Error(), "agents[0].symbols")
	assert.Contains(t, err.Error(), "agents[0].initial_capital")
}

func TestReplaySourceRequiresPath(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
feed:
  source: replay
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed.replay.path")
}

func TestMissingFileFails(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
