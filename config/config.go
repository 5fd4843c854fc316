package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level configuration for the collaborative trading engine.
type Config struct {
	ExchangeConfig ExchangeConfig `json:"exchange"`
	EngineConfig   EngineConfig   `json:"engine"`
	RiskConfig     RiskConfig     `json:"risk"`
	CircuitConfig  CircuitConfig  `json:"circuit_breaker"`
	AIConfig       AIConfig       `json:"ai"`
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// ExchangeConfig holds perpetual-futures exchange API configuration
type ExchangeConfig struct {
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	Passphrase string `json:"passphrase"`
	BaseURL    string `json:"base_url"`
	WSURL      string `json:"ws_url"`
	MockMode   bool   `json:"mock_mode"` // Use simulated exchange when API is unavailable
}

// EngineConfig holds the collaborative engine loop configuration
type EngineConfig struct {
	CycleInterval     time.Duration `json:"cycle_interval"`       // Base interval between cycles
	MinTradeInterval  time.Duration `json:"min_trade_interval"`   // Minimum time between executed trades
	MaxRetries        int           `json:"max_retries"`          // Retries for position/balance seeding
	MinBalanceToTrade float64       `json:"min_balance_to_trade"` // USDT floor below which no orders go out
	MinConfidence     float64       `json:"min_confidence"`       // Champion confidence floor (0-100)
	DryRun            bool          `json:"dry_run"`              // Full pipeline, no exchange orders
	DebateFrequency   int           `json:"debate_frequency"`     // Run the full debate every N cycles
	CacheTradingRules bool          `json:"cache_trading_rules"`  // Cache rules text in redis
	ApprovedSymbols   []string      `json:"approved_symbols"`
}

// RiskConfig holds the risk council's hard limits
type RiskConfig struct {
	MaxPositionPercent  float64            `json:"max_position_percent"`   // % of balance a single trade may use
	MaxLeverage         int                `json:"max_leverage"`
	DefaultLeverage     int                `json:"default_leverage"`
	MaxStopLossDistance float64            `json:"max_stop_loss_distance"` // Fraction of entry, e.g. 0.10
	TakeProfitPercent   float64            `json:"take_profit_percent"`    // Default TP when champion omits one
	MaxConcurrent       int                `json:"max_concurrent_positions"`
	MaxSameDirection    int                `json:"max_same_direction"`
	MaxWeeklyDrawdown   float64            `json:"max_weekly_drawdown"` // % veto threshold
	MaxFundingAgainst   float64            `json:"max_funding_against"` // Funding rate against direction, per 8h
	FundingWarnRate     float64            `json:"funding_warn_rate"`
	NetExposureLongs    float64            `json:"net_exposure_longs"`  // Max margin % in longs
	NetExposureShorts   float64            `json:"net_exposure_shorts"` // Max margin % in shorts
	StopLossCaps        map[string]float64 `json:"stop_loss_caps"`      // Per-methodology SL distance caps
}

// CircuitConfig holds global circuit breaker thresholds
type CircuitConfig struct {
	Enabled              bool    `json:"enabled"`
	BTCDropYellow        float64 `json:"btc_drop_yellow"` // % over 4h, negative
	BTCDropOrange        float64 `json:"btc_drop_orange"`
	BTCDropRed           float64 `json:"btc_drop_red"`
	DrawdownYellow       float64 `json:"drawdown_yellow"` // portfolio % over 24h
	DrawdownOrange       float64 `json:"drawdown_orange"`
	DrawdownRed          float64 `json:"drawdown_red"`
	FundingExtremeYellow float64 `json:"funding_extreme_yellow"` // |rate| per 8h
	FundingExtremeOrange float64 `json:"funding_extreme_orange"`
}

// AIConfig holds LLM analyst configuration
type AIConfig struct {
	Provider       string        `json:"provider"` // "claude", "openai", or "deepseek"
	APIKey         string        `json:"api_key"`
	Model          string        `json:"model"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	RequestTimeout time.Duration `json:"request_timeout"`
	JudgeWeights   JudgeWeights  `json:"judge_weights"`
}

// JudgeWeights are the championship scoring weights; they must sum to 100.
type JudgeWeights struct {
	DataQuality     int `json:"data_quality"`
	Logic           int `json:"logic"`
	RiskAwareness   int `json:"risk_awareness"`
	CatalystClarity int `json:"catalyst_clarity"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                     int    `json:"port"`
	Host                     string `json:"host"`
	ProductionMode           bool   `json:"production_mode"`
	AllowedOrigins           string `json:"allowed_origins"`
	ShutdownTimeout          int    `json:"shutdown_timeout"` // seconds
	AllowLegacySSETokenParam bool   `json:"allow_legacy_sse_token_param"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret            string        `json:"jwt_secret"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration"`
	MinPasswordLength    int           `json:"min_password_length"`
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

// RedisConfig holds redis cache configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// VaultConfig holds optional HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// LoggingConfig holds structured logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// DefaultApprovedSymbols is the fixed universe of tradeable perpetual contracts.
var DefaultApprovedSymbols = []string{
	"cmt_btcusdt",
	"cmt_ethusdt",
	"cmt_solusdt",
	"cmt_bnbusdt",
	"cmt_xrpusdt",
	"cmt_dogeusdt",
	"cmt_adausdt",
	"cmt_ltcusdt",
}

// Load reads configuration from config.json (if present) and applies
// environment variable overrides on top.
func Load() (*Config, error) {
	cfg := defaults()

	path := getEnvOrDefault("CONFIG_FILE", "config.json")
	if fileCfg, err := loadFromFile(path); err == nil {
		cfg = fileCfg
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if len(cfg.EngineConfig.ApprovedSymbols) == 0 {
		cfg.EngineConfig.ApprovedSymbols = DefaultApprovedSymbols
	}
	if w := cfg.AIConfig.JudgeWeights; w.DataQuality+w.Logic+w.RiskAwareness+w.CatalystClarity != 100 {
		return nil, fmt.Errorf("judge weights must sum to 100, got %+v", cfg.AIConfig.JudgeWeights)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ExchangeConfig: ExchangeConfig{
			BaseURL: "https://capi.bitmoon.example",
			WSURL:   "wss://capi.bitmoon.example/ws",
		},
		EngineConfig: EngineConfig{
			CycleInterval:     15 * time.Minute,
			MinTradeInterval:  30 * time.Minute,
			MaxRetries:        3,
			MinBalanceToTrade: 50,
			MinConfidence:     55,
			DebateFrequency:   1,
			CacheTradingRules: true,
		},
		RiskConfig: RiskConfig{
			MaxPositionPercent:  20,
			MaxLeverage:         20,
			DefaultLeverage:     3,
			MaxStopLossDistance: 0.10,
			TakeProfitPercent:   8.0,
			MaxConcurrent:       3,
			MaxSameDirection:    2,
			MaxWeeklyDrawdown:   15,
			MaxFundingAgainst:   0.001,
			FundingWarnRate:     0.0005,
			NetExposureLongs:    60,
			NetExposureShorts:   40,
			StopLossCaps: map[string]float64{
				"value":      0.08,
				"growth":     0.10,
				"technical":  0.06,
				"macro":      0.10,
				"sentiment":  0.07,
				"risk":       0.05,
				"quant":      0.06,
				"contrarian": 0.10,
			},
		},
		CircuitConfig: CircuitConfig{
			Enabled:              true,
			BTCDropYellow:        -4,
			BTCDropOrange:        -7,
			BTCDropRed:           -10,
			DrawdownYellow:       -5,
			DrawdownOrange:       -8,
			DrawdownRed:          -12,
			FundingExtremeYellow: 0.003,
			FundingExtremeOrange: 0.005,
		},
		AIConfig: AIConfig{
			Provider:       "claude",
			Model:          "claude-sonnet-4-20250514",
			MaxTokens:      2048,
			Temperature:    0.3,
			RequestTimeout: 60 * time.Second,
			JudgeWeights: JudgeWeights{
				DataQuality:     30,
				Logic:           30,
				RiskAwareness:   25,
				CatalystClarity: 15,
			},
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ShutdownTimeout: 10,
		},
		AuthConfig: AuthConfig{
			AccessTokenDuration:  15 * time.Minute,
			RefreshTokenDuration: 7 * 24 * time.Hour,
			MinPasswordLength:    8,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "collab_bot",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Addr: "localhost:6379",
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "collab-bot/api-keys",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	// Exchange
	cfg.ExchangeConfig.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", cfg.ExchangeConfig.APIKey)
	cfg.ExchangeConfig.SecretKey = getEnvOrDefault("EXCHANGE_SECRET_KEY", cfg.ExchangeConfig.SecretKey)
	cfg.ExchangeConfig.Passphrase = getEnvOrDefault("EXCHANGE_PASSPHRASE", cfg.ExchangeConfig.Passphrase)
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.ExchangeConfig.BaseURL)
	cfg.ExchangeConfig.WSURL = getEnvOrDefault("EXCHANGE_WS_URL", cfg.ExchangeConfig.WSURL)
	cfg.ExchangeConfig.MockMode = getEnvOrDefault("EXCHANGE_MOCK_MODE", boolStr(cfg.ExchangeConfig.MockMode)) == "true"

	// Engine
	cfg.EngineConfig.CycleInterval = getEnvDurationOrDefault("ENGINE_CYCLE_INTERVAL", cfg.EngineConfig.CycleInterval)
	cfg.EngineConfig.MinTradeInterval = getEnvDurationOrDefault("ENGINE_MIN_TRADE_INTERVAL", cfg.EngineConfig.MinTradeInterval)
	cfg.EngineConfig.MaxRetries = getEnvIntOrDefault("ENGINE_MAX_RETRIES", cfg.EngineConfig.MaxRetries)
	cfg.EngineConfig.MinBalanceToTrade = getEnvFloatOrDefault("ENGINE_MIN_BALANCE_TO_TRADE", cfg.EngineConfig.MinBalanceToTrade)
	cfg.EngineConfig.MinConfidence = getEnvFloatOrDefault("ENGINE_MIN_CONFIDENCE", cfg.EngineConfig.MinConfidence)
	cfg.EngineConfig.DryRun = getEnvOrDefault("ENGINE_DRY_RUN", boolStr(cfg.EngineConfig.DryRun)) == "true"
	cfg.EngineConfig.DebateFrequency = getEnvIntOrDefault("ENGINE_DEBATE_FREQUENCY", cfg.EngineConfig.DebateFrequency)
	cfg.EngineConfig.CacheTradingRules = getEnvOrDefault("ENGINE_CACHE_TRADING_RULES", boolStr(cfg.EngineConfig.CacheTradingRules)) == "true"

	// Risk
	cfg.RiskConfig.MaxPositionPercent = getEnvFloatOrDefault("RISK_MAX_POSITION_PERCENT", cfg.RiskConfig.MaxPositionPercent)
	cfg.RiskConfig.MaxLeverage = getEnvIntOrDefault("RISK_MAX_LEVERAGE", cfg.RiskConfig.MaxLeverage)
	cfg.RiskConfig.DefaultLeverage = getEnvIntOrDefault("RISK_DEFAULT_LEVERAGE", cfg.RiskConfig.DefaultLeverage)
	cfg.RiskConfig.MaxStopLossDistance = getEnvFloatOrDefault("RISK_MAX_STOP_LOSS_DISTANCE", cfg.RiskConfig.MaxStopLossDistance)
	cfg.RiskConfig.TakeProfitPercent = getEnvFloatOrDefault("RISK_TAKE_PROFIT_PERCENT", cfg.RiskConfig.TakeProfitPercent)
	cfg.RiskConfig.MaxConcurrent = getEnvIntOrDefault("RISK_MAX_CONCURRENT_POSITIONS", cfg.RiskConfig.MaxConcurrent)
	cfg.RiskConfig.MaxSameDirection = getEnvIntOrDefault("RISK_MAX_SAME_DIRECTION", cfg.RiskConfig.MaxSameDirection)
	cfg.RiskConfig.MaxWeeklyDrawdown = getEnvFloatOrDefault("RISK_MAX_WEEKLY_DRAWDOWN", cfg.RiskConfig.MaxWeeklyDrawdown)
	cfg.RiskConfig.MaxFundingAgainst = getEnvFloatOrDefault("RISK_MAX_FUNDING_AGAINST", cfg.RiskConfig.MaxFundingAgainst)
	cfg.RiskConfig.FundingWarnRate = getEnvFloatOrDefault("RISK_FUNDING_WARN_RATE", cfg.RiskConfig.FundingWarnRate)
	cfg.RiskConfig.NetExposureLongs = getEnvFloatOrDefault("RISK_NET_EXPOSURE_LONGS", cfg.RiskConfig.NetExposureLongs)
	cfg.RiskConfig.NetExposureShorts = getEnvFloatOrDefault("RISK_NET_EXPOSURE_SHORTS", cfg.RiskConfig.NetExposureShorts)

	// Circuit breaker
	cfg.CircuitConfig.Enabled = getEnvOrDefault("CIRCUIT_BREAKER_ENABLED", boolStr(cfg.CircuitConfig.Enabled)) == "true"

	// AI
	cfg.AIConfig.Provider = getEnvOrDefault("AI_PROVIDER", cfg.AIConfig.Provider)
	cfg.AIConfig.APIKey = getEnvOrDefault("AI_API_KEY", cfg.AIConfig.APIKey)
	cfg.AIConfig.Model = getEnvOrDefault("AI_MODEL", cfg.AIConfig.Model)
	cfg.AIConfig.MaxTokens = getEnvIntOrDefault("AI_MAX_TOKENS", cfg.AIConfig.MaxTokens)
	cfg.AIConfig.Temperature = getEnvFloatOrDefault("AI_TEMPERATURE", cfg.AIConfig.Temperature)
	cfg.AIConfig.RequestTimeout = getEnvDurationOrDefault("AI_REQUEST_TIMEOUT", cfg.AIConfig.RequestTimeout)

	// Server
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", boolStr(cfg.ServerConfig.ProductionMode)) == "true"
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)
	cfg.ServerConfig.AllowLegacySSETokenParam = getEnvOrDefault("SERVER_ALLOW_LEGACY_SSE_TOKEN", boolStr(cfg.ServerConfig.AllowLegacySSETokenParam)) == "true"

	// Auth
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)
	cfg.AuthConfig.RefreshTokenDuration = getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_DURATION", cfg.AuthConfig.RefreshTokenDuration)
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", cfg.AuthConfig.MinPasswordLength)

	// Database
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Addr)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolStr(cfg.LoggingConfig.JSONFormat)) == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := defaults()
	if err := json.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
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

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
