package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BrokerConfig       BrokerConfig       `json:"broker"`
	EngineConfig       EngineConfig       `json:"engine"`
	ValidationConfig   ValidationConfig   `json:"validation"`
	ExecutionConfig    ExecutionConfig    `json:"execution"`
	PortfolioConfig    PortfolioConfig    `json:"portfolio"`
	PyramidConfig      PyramidConfig      `json:"pyramid"`
	MarginConfig       MarginConfig       `json:"margin"`
	HedgeConfig        HedgeConfig        `json:"hedge"`
	ConfirmationConfig ConfirmationConfig `json:"confirmation"`
	NotificationConfig NotificationConfig `json:"notification"`
	CircuitConfig      CircuitConfig      `json:"circuit_breaker"`
	ServerConfig       ServerConfig       `json:"server"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	VaultConfig        VaultConfig        `json:"vault"`
	RedisConfig        RedisConfig        `json:"redis"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
}

// BrokerConfig holds broker gateway configuration
type BrokerConfig struct {
	APIKey         string  `json:"api_key"`
	AccessToken    string  `json:"access_token"`
	BaseURL        string  `json:"base_url"`
	SimMode        bool    `json:"sim_mode"`         // Use the simulator gateway instead of the live broker
	RequestTimeout int     `json:"request_timeout"`  // Seconds, default 10
	QuoteTimeout   int     `json:"quote_timeout"`    // Seconds, default 5
	RateLimitRPS   float64 `json:"rate_limit_rps"`   // Requests per second to the broker
	CacheTTL       int     `json:"cache_ttl"`        // Funds/positions cache TTL in seconds
}

// EngineConfig holds signal engine configuration
type EngineConfig struct {
	DuplicateWindowSecs int  `json:"duplicate_window_secs"` // Fingerprint match window (default 60)
	DuplicateCapacity   int  `json:"duplicate_capacity"`    // Rolling fingerprint set size (default 1000)
	QueueSize           int  `json:"queue_size"`            // Webhook intake queue depth
	WebhookSecret       string `json:"webhook_secret"`      // Shared secret for inbound signals
}

// ValidationConfig holds two-stage signal validation configuration
type ValidationConfig struct {
	WarningThresholdPct   float64 `json:"warning_threshold_pct"`    // |divergence| below this always accepts (default 0.1)
	BaseEntryMaxDivPct    float64 `json:"base_entry_max_div_pct"`   // Unfavourable divergence limit for base entries
	PyramidMaxDivPct      float64 `json:"pyramid_max_div_pct"`      // Unfavourable divergence limit for pyramids
	ExitMaxDivPct         float64 `json:"exit_max_div_pct"`         // Divergence limit for exits
	ElevatedMaxDivPct     float64 `json:"elevated_max_div_pct"`     // Stale signals reject above this
	MaxRiskIncreasePct    float64 `json:"max_risk_increase_pct"`    // Risk-increase limit before resize
	AllowResize           bool    `json:"allow_resize"`             // Shrink lots instead of rejecting on risk increase
	MinLotsAfterAdjust    int     `json:"min_lots_after_adjust"`    // Floor for resized lots
	RejectChaseForPyramid bool    `json:"reject_chase_for_pyramid"` // Reject pyramids when price surged past signal
	WarningAgeSecs        int     `json:"warning_age_secs"`         // Signal age tiers
	ElevatedAgeSecs       int     `json:"elevated_age_secs"`
	StaleAgeSecs          int     `json:"stale_age_secs"`
	QuoteRetries          int     `json:"quote_retries"`            // Broker quote attempts before bypass (default 3)
}

// ExecutionConfig holds order executor configuration
type ExecutionConfig struct {
	DefaultStrategy     string  `json:"default_strategy"`      // "simple_limit" or "progressive"
	LimitBufferPct      float64 `json:"limit_buffer_pct"`      // Limit price buffer for SimpleLimit
	OrderTimeoutSecs    int     `json:"order_timeout_secs"`    // Per-order deadline
	PollIntervalSecs    int     `json:"poll_interval_secs"`    // Status poll cadence
	PartialFillStrategy string  `json:"partial_fill_strategy"` // "cancel", "wait", "reattempt"
	InitialBufferPct    float64 `json:"initial_buffer_pct"`    // Progressive: first price buffer
	IncrementPct        float64 `json:"increment_pct"`         // Progressive: widening step
	MaxRetries          int     `json:"max_retries"`           // Progressive: re-price attempts
	RetryIntervalSecs   int     `json:"retry_interval_secs"`   // Progressive: seconds between re-prices
	MarketFallback      bool    `json:"market_fallback"`       // Progressive: final market order on timeout
}

// PortfolioConfig holds portfolio aggregate configuration
type PortfolioConfig struct {
	InitialCapital   float64 `json:"initial_capital"`
	EquityMode       string  `json:"equity_mode"`        // "closed", "open", "blended"
	BlendedWeight    float64 `json:"blended_weight"`     // Weight of open equity in blended mode
	MaxRiskPct       float64 `json:"max_risk_pct"`       // Hard admission cap (default 15)
	MaxMarginUtilPct float64 `json:"max_margin_util_pct"` // Margin limiter input for sizing
}

// PyramidConfig holds pyramid gate configuration
type PyramidConfig struct {
	ATRSpacing      float64 `json:"atr_spacing"`       // Min ATR multiples since last pyramid (default 0.5)
	RiskBlockPct    float64 `json:"risk_block_pct"`    // Portfolio risk ceiling for pyramids (default 12)
	VolBlockPct     float64 `json:"vol_block_pct"`     // Portfolio volatility ceiling (default 4)
}

// MarginConfig holds margin monitor configuration
type MarginConfig struct {
	IntervalMins       int     `json:"interval_mins"`        // Snapshot cadence (default 5)
	BaselineDelayMins  int     `json:"baseline_delay_mins"`  // Minutes after open for baseline capture
	ExcludedMargin     float64 `json:"excluded_margin"`      // Carve-out outside the intraday universe
	NumBaskets         int     `json:"num_baskets"`
	BudgetPerBasket    float64 `json:"budget_per_basket"`
}

// HedgeConfig holds auto-hedge orchestrator configuration
type HedgeConfig struct {
	Enabled           bool    `json:"enabled"`
	IntervalSecs      int     `json:"interval_secs"`        // Orchestrator cadence
	EntryTriggerPct   float64 `json:"entry_trigger_pct"`    // Buy hedges above this projected util (default 95)
	EntryTargetPct    float64 `json:"entry_target_pct"`     // Reduce projected util to this (default 85)
	ExitTriggerPct    float64 `json:"exit_trigger_pct"`     // Consider exits below this current util (default 70)
	MinPremium        float64 `json:"min_premium"`          // Candidate LTP band (default 2)
	MaxPremium        float64 `json:"max_premium"`          // (default 6)
	MaxCostPerDay     float64 `json:"max_cost_per_day"`     // Daily hedge spend budget
	CooldownSecs      int     `json:"cooldown_secs"`        // Min seconds between hedge actions
	MinExitValue      float64 `json:"min_exit_value"`       // Skip exits worth less than this
	LookaheadMins     int     `json:"lookahead_mins"`       // Entry imminence window (default 5)
	ExitBufferMins    int     `json:"exit_buffer_mins"`     // Hold hedges when entry within this (default 15)
	FullPair          bool    `json:"full_pair"`            // Buy one CE and one PE per action
}

// ConfirmationConfig holds confirmation bus configuration
type ConfirmationConfig struct {
	TimeoutSecs    int `json:"timeout_secs"`     // Default wait before returning the default decision
	QueueSize      int `json:"queue_size"`       // Bounded pending-request queue
	RateLimitSecs  int `json:"rate_limit_secs"`  // Min seconds between dispatched requests
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// CircuitConfig holds the trading circuit breaker configuration
type CircuitConfig struct {
	Enabled                bool    `json:"enabled"`
	MaxGatewayFailures     int     `json:"max_gateway_failures"` // Consecutive gateway failures before trip
	MaxDailyLossPct        float64 `json:"max_daily_loss_pct"`   // Realized daily loss % before trip
	CooldownMinutes        int     `json:"cooldown_minutes"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// VaultConfig holds HashiCorp Vault configuration for broker credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// RedisConfig holds Redis configuration for the funds/positions cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BrokerConfig.RequestTimeout == 0 {
		cfg.BrokerConfig.RequestTimeout = 10
	}
	if cfg.BrokerConfig.QuoteTimeout == 0 {
		cfg.BrokerConfig.QuoteTimeout = 5
	}
	if cfg.BrokerConfig.RateLimitRPS == 0 {
		cfg.BrokerConfig.RateLimitRPS = 3
	}
	if cfg.BrokerConfig.CacheTTL == 0 {
		cfg.BrokerConfig.CacheTTL = 30
	}
	if cfg.EngineConfig.DuplicateWindowSecs == 0 {
		cfg.EngineConfig.DuplicateWindowSecs = 60
	}
	if cfg.EngineConfig.DuplicateCapacity == 0 {
		cfg.EngineConfig.DuplicateCapacity = 1000
	}
	if cfg.EngineConfig.QueueSize == 0 {
		cfg.EngineConfig.QueueSize = 64
	}
	if cfg.ValidationConfig.WarningThresholdPct == 0 {
		cfg.ValidationConfig.WarningThresholdPct = 0.1
	}
	if cfg.ValidationConfig.BaseEntryMaxDivPct == 0 {
		cfg.ValidationConfig.BaseEntryMaxDivPct = 0.5
	}
	if cfg.ValidationConfig.PyramidMaxDivPct == 0 {
		cfg.ValidationConfig.PyramidMaxDivPct = 0.3
	}
	if cfg.ValidationConfig.ExitMaxDivPct == 0 {
		cfg.ValidationConfig.ExitMaxDivPct = 1.0
	}
	if cfg.ValidationConfig.ElevatedMaxDivPct == 0 {
		cfg.ValidationConfig.ElevatedMaxDivPct = 0.3
	}
	if cfg.ValidationConfig.MaxRiskIncreasePct == 0 {
		cfg.ValidationConfig.MaxRiskIncreasePct = 20
	}
	if cfg.ValidationConfig.MinLotsAfterAdjust == 0 {
		cfg.ValidationConfig.MinLotsAfterAdjust = 1
	}
	if cfg.ValidationConfig.WarningAgeSecs == 0 {
		cfg.ValidationConfig.WarningAgeSecs = 30
	}
	if cfg.ValidationConfig.ElevatedAgeSecs == 0 {
		cfg.ValidationConfig.ElevatedAgeSecs = 120
	}
	if cfg.ValidationConfig.StaleAgeSecs == 0 {
		cfg.ValidationConfig.StaleAgeSecs = 300
	}
	if cfg.ValidationConfig.QuoteRetries == 0 {
		cfg.ValidationConfig.QuoteRetries = 3
	}
	if cfg.ExecutionConfig.DefaultStrategy == "" {
		cfg.ExecutionConfig.DefaultStrategy = "simple_limit"
	}
	if cfg.ExecutionConfig.LimitBufferPct == 0 {
		cfg.ExecutionConfig.LimitBufferPct = 0.05
	}
	if cfg.ExecutionConfig.OrderTimeoutSecs == 0 {
		cfg.ExecutionConfig.OrderTimeoutSecs = 60
	}
	if cfg.ExecutionConfig.PollIntervalSecs == 0 {
		cfg.ExecutionConfig.PollIntervalSecs = 2
	}
	if cfg.ExecutionConfig.PartialFillStrategy == "" {
		cfg.ExecutionConfig.PartialFillStrategy = "cancel"
	}
	if cfg.ExecutionConfig.InitialBufferPct == 0 {
		cfg.ExecutionConfig.InitialBufferPct = 0.02
	}
	if cfg.ExecutionConfig.IncrementPct == 0 {
		cfg.ExecutionConfig.IncrementPct = 0.05
	}
	if cfg.ExecutionConfig.MaxRetries == 0 {
		cfg.ExecutionConfig.MaxRetries = 5
	}
	if cfg.ExecutionConfig.RetryIntervalSecs == 0 {
		cfg.ExecutionConfig.RetryIntervalSecs = 3
	}
	if cfg.PortfolioConfig.InitialCapital == 0 {
		cfg.PortfolioConfig.InitialCapital = 5000000
	}
	if cfg.PortfolioConfig.EquityMode == "" {
		cfg.PortfolioConfig.EquityMode = "closed"
	}
	if cfg.PortfolioConfig.MaxRiskPct == 0 {
		cfg.PortfolioConfig.MaxRiskPct = 15
	}
	if cfg.PortfolioConfig.MaxMarginUtilPct == 0 {
		cfg.PortfolioConfig.MaxMarginUtilPct = 80
	}
	if cfg.PyramidConfig.ATRSpacing == 0 {
		cfg.PyramidConfig.ATRSpacing = 0.5
	}
	if cfg.PyramidConfig.RiskBlockPct == 0 {
		cfg.PyramidConfig.RiskBlockPct = 12
	}
	if cfg.PyramidConfig.VolBlockPct == 0 {
		cfg.PyramidConfig.VolBlockPct = 4
	}
	if cfg.MarginConfig.IntervalMins == 0 {
		cfg.MarginConfig.IntervalMins = 5
	}
	if cfg.MarginConfig.BaselineDelayMins == 0 {
		cfg.MarginConfig.BaselineDelayMins = 5
	}
	if cfg.MarginConfig.NumBaskets == 0 {
		cfg.MarginConfig.NumBaskets = 15
	}
	if cfg.MarginConfig.BudgetPerBasket == 0 {
		cfg.MarginConfig.BudgetPerBasket = 1000000
	}
	if cfg.HedgeConfig.IntervalSecs == 0 {
		cfg.HedgeConfig.IntervalSecs = 60
	}
	if cfg.HedgeConfig.EntryTriggerPct == 0 {
		cfg.HedgeConfig.EntryTriggerPct = 95
	}
	if cfg.HedgeConfig.EntryTargetPct == 0 {
		cfg.HedgeConfig.EntryTargetPct = 85
	}
	if cfg.HedgeConfig.ExitTriggerPct == 0 {
		cfg.HedgeConfig.ExitTriggerPct = 70
	}
	if cfg.HedgeConfig.MinPremium == 0 {
		cfg.HedgeConfig.MinPremium = 2
	}
	if cfg.HedgeConfig.MaxPremium == 0 {
		cfg.HedgeConfig.MaxPremium = 6
	}
	if cfg.HedgeConfig.MaxCostPerDay == 0 {
		cfg.HedgeConfig.MaxCostPerDay = 50000
	}
	if cfg.HedgeConfig.CooldownSecs == 0 {
		cfg.HedgeConfig.CooldownSecs = 300
	}
	if cfg.HedgeConfig.MinExitValue == 0 {
		cfg.HedgeConfig.MinExitValue = 500
	}
	if cfg.HedgeConfig.LookaheadMins == 0 {
		cfg.HedgeConfig.LookaheadMins = 5
	}
	if cfg.HedgeConfig.ExitBufferMins == 0 {
		cfg.HedgeConfig.ExitBufferMins = 15
	}
	if cfg.ConfirmationConfig.TimeoutSecs == 0 {
		cfg.ConfirmationConfig.TimeoutSecs = 60
	}
	if cfg.ConfirmationConfig.QueueSize == 0 {
		cfg.ConfirmationConfig.QueueSize = 16
	}
	if cfg.ConfirmationConfig.RateLimitSecs == 0 {
		cfg.ConfirmationConfig.RateLimitSecs = 5
	}
	if cfg.CircuitConfig.MaxGatewayFailures == 0 {
		cfg.CircuitConfig.MaxGatewayFailures = 5
	}
	if cfg.CircuitConfig.MaxDailyLossPct == 0 {
		cfg.CircuitConfig.MaxDailyLossPct = 5
	}
	if cfg.CircuitConfig.CooldownMinutes == 0 {
		cfg.CircuitConfig.CooldownMinutes = 30
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over config.json values.
func applyEnvOverrides(cfg *Config) {
	cfg.BrokerConfig.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.AccessToken = getEnvOrDefault("BROKER_ACCESS_TOKEN", cfg.BrokerConfig.AccessToken)
	cfg.BrokerConfig.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.BrokerConfig.BaseURL)
	if cfg.BrokerConfig.BaseURL == "" {
		cfg.BrokerConfig.BaseURL = "https://api.kite.trade"
	}
	cfg.BrokerConfig.SimMode = getEnvOrDefault("BROKER_SIM_MODE", boolString(cfg.BrokerConfig.SimMode)) == "true"

	cfg.EngineConfig.WebhookSecret = getEnvOrDefault("WEBHOOK_SECRET", cfg.EngineConfig.WebhookSecret)
	cfg.EngineConfig.DuplicateWindowSecs = getEnvIntOrDefault("DUPLICATE_WINDOW_SECS", cfg.EngineConfig.DuplicateWindowSecs)

	cfg.PortfolioConfig.InitialCapital = getEnvFloatOrDefault("PORTFOLIO_INITIAL_CAPITAL", cfg.PortfolioConfig.InitialCapital)
	cfg.PortfolioConfig.EquityMode = getEnvOrDefault("PORTFOLIO_EQUITY_MODE", cfg.PortfolioConfig.EquityMode)

	cfg.HedgeConfig.Enabled = getEnvOrDefault("HEDGE_ENABLED", boolString(cfg.HedgeConfig.Enabled)) == "true"
	cfg.HedgeConfig.MaxCostPerDay = getEnvFloatOrDefault("HEDGE_MAX_COST_PER_DAY", cfg.HedgeConfig.MaxCostPerDay)
	cfg.HedgeConfig.EntryTriggerPct = getEnvFloatOrDefault("HEDGE_ENTRY_TRIGGER_PCT", cfg.HedgeConfig.EntryTriggerPct)

	cfg.MarginConfig.NumBaskets = getEnvIntOrDefault("MARGIN_NUM_BASKETS", cfg.MarginConfig.NumBaskets)
	cfg.MarginConfig.BudgetPerBasket = getEnvFloatOrDefault("MARGIN_BUDGET_PER_BASKET", cfg.MarginConfig.BudgetPerBasket)

	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", boolString(cfg.NotificationConfig.Enabled)) == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", boolString(cfg.NotificationConfig.Telegram.Enabled)) == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", boolString(cfg.LoggingConfig.IncludeFile)) == "true"

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolString(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "trading-bot/broker"))

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "trading_bot"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "trading_bot"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.BrokerConfig.APIKey = "your_api_key_here"
	cfg.BrokerConfig.AccessToken = "your_access_token_here"
	cfg.BrokerConfig.BaseURL = "https://api.kite.trade"
	cfg.BrokerConfig.SimMode = true
	cfg.EngineConfig.WebhookSecret = "change_me"
	cfg.LoggingConfig = LoggingConfig{Level: "INFO", Output: "stdout", JSONFormat: true}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// Duration helpers used by subsystems that take time.Duration directly.

func (c BrokerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c BrokerConfig) QuoteTimeoutDuration() time.Duration {
	return time.Duration(c.QuoteTimeout) * time.Second
}
