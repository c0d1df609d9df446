package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads a YAML config file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	// Zero is a meaningful value here (adoption disabled), so the default has
	// to be applied before decoding, where unset and explicit 0 still differ.
	v.SetDefault("reconcile.adopt_after_drifts", defaultAdoptAfterDrifts)
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const (
	defaultInstanceName      = "meanrev"
	defaultLogLevel          = "info"
	defaultHTTPAddr          = ":9985"
	defaultAlpacaBaseURL     = "https://paper-api.alpaca.markets"
	defaultAlpacaFeed        = "iex"
	defaultQueueSize         = 256
	defaultDrainLimit        = 64
	defaultStaleAfterSeconds = 60
	defaultPeriod            = 20
	defaultLowerThreshold    = -2.0
	defaultUpperThreshold    = 2.0
	defaultExitThreshold     = 0.0
	defaultOrderSize         = 10
	defaultEpsilonQty        = 0.01
	defaultMaxPositionPct    = 0.10
	defaultMaxVolumeRatio    = 0.05
	defaultVarWindow         = 252
	defaultVarConfidence     = 0.05
	defaultMaxVarPct         = 0.02
	defaultMaxRetries        = 3
	defaultBaseDelayMs       = 1000
	defaultMaxDelayMs        = 60000
	defaultBreakerThreshold  = 5
	defaultBreakerTimeoutSec = 60
	defaultReconcileInterval = 30
	defaultReconcileTimeout  = 10
	defaultPositionTolerance = 0.001
	defaultValueTolerancePct = 0.01
	defaultAdoptAfterDrifts  = 3
	defaultJournalPath       = "data/meanrev.db"
)

func (c *Config) applyDefaults() {
	if c.App.InstanceName == "" {
		c.App.InstanceName = defaultInstanceName
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultHTTPAddr
	}
	if c.Alpaca.BaseURL == "" {
		c.Alpaca.BaseURL = defaultAlpacaBaseURL
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = defaultAlpacaFeed
	}
	if c.Engine.QueueSize <= 0 {
		c.Engine.QueueSize = defaultQueueSize
	}
	if c.Engine.DrainLimit <= 0 {
		c.Engine.DrainLimit = defaultDrainLimit
	}
	if c.Engine.StaleAfterSeconds <= 0 {
		c.Engine.StaleAfterSeconds = defaultStaleAfterSeconds
	}
	if c.Strategy.Period <= 0 {
		c.Strategy.Period = defaultPeriod
	}
	if c.Strategy.LowerThreshold == 0 {
		c.Strategy.LowerThreshold = defaultLowerThreshold
	}
	if c.Strategy.UpperThreshold == 0 {
		c.Strategy.UpperThreshold = defaultUpperThreshold
	}
	// exit_threshold defaults to 0 which is also a meaningful value; leave as is.
	if c.Strategy.OrderSize <= 0 {
		c.Strategy.OrderSize = defaultOrderSize
	}
	if c.Strategy.EpsilonQty <= 0 {
		c.Strategy.EpsilonQty = defaultEpsilonQty
	}
	if c.Risk.MaxPositionPct <= 0 {
		c.Risk.MaxPositionPct = defaultMaxPositionPct
	}
	if c.Risk.MaxVolumeRatio <= 0 {
		c.Risk.MaxVolumeRatio = defaultMaxVolumeRatio
	}
	if c.Risk.VarWindow <= 0 {
		c.Risk.VarWindow = defaultVarWindow
	}
	if c.Risk.VarConfidence <= 0 {
		c.Risk.VarConfidence = defaultVarConfidence
	}
	if c.Risk.MaxVarPct <= 0 {
		c.Risk.MaxVarPct = defaultMaxVarPct
	}
	if c.Resilience.MaxRetries <= 0 {
		c.Resilience.MaxRetries = defaultMaxRetries
	}
	if c.Resilience.BaseDelayMs <= 0 {
		c.Resilience.BaseDelayMs = defaultBaseDelayMs
	}
	if c.Resilience.MaxDelayMs <= 0 {
		c.Resilience.MaxDelayMs = defaultMaxDelayMs
	}
	if c.Resilience.BreakerThreshold <= 0 {
		c.Resilience.BreakerThreshold = defaultBreakerThreshold
	}
	if c.Resilience.BreakerTimeoutSeconds <= 0 {
		c.Resilience.BreakerTimeoutSeconds = defaultBreakerTimeoutSec
	}
	if c.Reconcile.IntervalSeconds <= 0 {
		c.Reconcile.IntervalSeconds = defaultReconcileInterval
	}
	if c.Reconcile.TimeoutSeconds <= 0 {
		c.Reconcile.TimeoutSeconds = defaultReconcileTimeout
	}
	if c.Reconcile.PositionTolerance <= 0 {
		c.Reconcile.PositionTolerance = defaultPositionTolerance
	}
	if c.Reconcile.ValueTolerancePct <= 0 {
		c.Reconcile.ValueTolerancePct = defaultValueTolerancePct
	}
	// adopt_after_drifts is defaulted through viper in Load; a negative value
	// still collapses to disabled rather than the default.
	if c.Reconcile.AdoptAfterDrifts < 0 {
		c.Reconcile.AdoptAfterDrifts = 0
	}
	if c.Journal.Path == "" {
		c.Journal.Path = defaultJournalPath
	}
}

func validate(c *Config) error {
	if c.Engine.Symbol == "" {
		return fmt.Errorf("engine.symbol is required")
	}
	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		return fmt.Errorf("alpaca.api_key and alpaca.api_secret are required")
	}
	if c.Strategy.LowerThreshold >= 0 {
		return fmt.Errorf("strategy.lower_threshold must be negative, got %v", c.Strategy.LowerThreshold)
	}
	if c.Strategy.UpperThreshold <= 0 {
		return fmt.Errorf("strategy.upper_threshold must be positive, got %v", c.Strategy.UpperThreshold)
	}
	if c.Strategy.ExitThreshold <= c.Strategy.LowerThreshold || c.Strategy.ExitThreshold >= c.Strategy.UpperThreshold {
		return fmt.Errorf("strategy.exit_threshold must lie between the entry thresholds")
	}
	if c.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("risk.max_position_pct must be <= 1, got %v", c.Risk.MaxPositionPct)
	}
	if c.Risk.VarConfidence >= 1 {
		return fmt.Errorf("risk.var_confidence must be < 1, got %v", c.Risk.VarConfidence)
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
