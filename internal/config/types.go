package config

import "time"

// Config is the top-level configuration for a meanrev instance.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Alpaca     AlpacaConfig     `mapstructure:"alpaca"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type AppConfig struct {
	InstanceName string `mapstructure:"instance_name"`
	LogLevel     string `mapstructure:"log_level"`
	LogPath      string `mapstructure:"log_path"`
	HTTPAddr     string `mapstructure:"http_addr"`
}

// AlpacaConfig describes broker API access. Paper trading is the default;
// going live requires base_url to be set explicitly.
type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url"`
	DataURL   string `mapstructure:"data_url"`
	Feed      string `mapstructure:"feed"`
}

type EngineConfig struct {
	Symbol            string `mapstructure:"symbol"`
	QueueSize         int    `mapstructure:"queue_size"`
	DrainLimit        int    `mapstructure:"drain_limit"`
	StaleAfterSeconds int    `mapstructure:"stale_after_seconds"`
}

func (e EngineConfig) StaleAfter() time.Duration {
	return time.Duration(e.StaleAfterSeconds) * time.Second
}

// StrategyConfig holds the rolling z-score parameters. Thresholds are static
// for the lifetime of a run so replays stay deterministic.
type StrategyConfig struct {
	Period         int     `mapstructure:"period"`
	LowerThreshold float64 `mapstructure:"lower_threshold"`
	UpperThreshold float64 `mapstructure:"upper_threshold"`
	ExitThreshold  float64 `mapstructure:"exit_threshold"`
	OrderSize      float64 `mapstructure:"order_size"`
	EpsilonQty     float64 `mapstructure:"epsilon_qty"`
}

type RiskConfig struct {
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
	MaxVolumeRatio float64 `mapstructure:"max_volume_ratio"`
	VarWindow      int     `mapstructure:"var_window"`
	VarConfidence  float64 `mapstructure:"var_confidence"`
	MaxVarPct      float64 `mapstructure:"max_var_pct"`
}

type ResilienceConfig struct {
	MaxRetries            int `mapstructure:"max_retries"`
	BaseDelayMs           int `mapstructure:"base_delay_ms"`
	MaxDelayMs            int `mapstructure:"max_delay_ms"`
	BreakerThreshold      int `mapstructure:"breaker_threshold"`
	BreakerTimeoutSeconds int `mapstructure:"breaker_timeout_seconds"`
}

func (r ResilienceConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

func (r ResilienceConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

func (r ResilienceConfig) BreakerTimeout() time.Duration {
	return time.Duration(r.BreakerTimeoutSeconds) * time.Second
}

// ReconcileConfig controls the poll loop that cross-checks streamed state
// against broker snapshots.
type ReconcileConfig struct {
	IntervalSeconds   int     `mapstructure:"interval_seconds"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	PositionTolerance float64 `mapstructure:"position_tolerance"`
	ValueTolerancePct float64 `mapstructure:"value_tolerance_pct"`
	// AdoptAfterDrifts is the number of consecutive out-of-tolerance position
	// snapshots after which the polled quantity is adopted as authoritative.
	// Zero disables adoption entirely.
	AdoptAfterDrifts int `mapstructure:"adopt_after_drifts"`
}

func (r ReconcileConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

func (r ReconcileConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}
