package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Execution
	Mode           string // "paper" or "live"
	InitialBalance float64
	Leverage       float64

	// Venue bridge
	BridgeURL            string
	BridgeTimeout        time.Duration
	BridgeReconnectDelay time.Duration
	BridgeRequestsPerSec float64

	// Dispatch
	DispatchInterval time.Duration

	// Risk
	MaxRiskPerTrade      float64 // fraction of equity per position
	MaxDailyLossFraction float64 // fraction of reference balance
	MaxPositions         int
	MaxSpreadPct         float64
	CooldownWindow       time.Duration
	DefaultStopLoss      float64 // fraction of entry price
	DefaultTakeProfit    float64 // fraction of entry price

	// Fill simulation (shared by paper and live P&L model)
	MaxSlippage    float64 // fraction of price, upper bound on simulated slippage
	SlippageSeed   int64   // 0 means seed from wall clock
	CommissionRate float64 // fraction of notional, charged per side

	// Instruments
	InstrumentsPath string

	// Auth
	JWTSecret string
	AdminKey  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8090"),
		DBPath:               getEnv("DB_PATH", "./data/engine.db"),
		Mode:                 strings.ToLower(getEnv("EXECUTION_MODE", "paper")),
		InitialBalance:       getEnvFloat("INITIAL_BALANCE", 10000.0),
		Leverage:             getEnvFloat("LEVERAGE", 1.0),
		BridgeURL:            getEnv("BRIDGE_URL", "ws://localhost:9801/bridge"),
		BridgeTimeout:        getEnvDuration("BRIDGE_TIMEOUT", 5*time.Second),
		BridgeReconnectDelay: getEnvDuration("BRIDGE_RECONNECT_DELAY", 5*time.Second),
		BridgeRequestsPerSec: getEnvFloat("BRIDGE_REQUESTS_PER_SEC", 10),
		DispatchInterval:     getEnvDuration("DISPATCH_INTERVAL", time.Second),
		MaxRiskPerTrade:      getEnvFloat("MAX_RISK_PER_TRADE", 0.02),
		MaxDailyLossFraction: getEnvFloat("MAX_DAILY_LOSS_FRACTION", 0.05),
		MaxPositions:         getEnvInt("MAX_POSITIONS", 5),
		MaxSpreadPct:         getEnvFloat("MAX_SPREAD_PCT", 0.1),
		CooldownWindow:       getEnvDuration("RISK_COOLDOWN_WINDOW", 5*time.Minute),
		DefaultStopLoss:      getEnvFloat("DEFAULT_STOP_LOSS", 0.02),
		DefaultTakeProfit:    getEnvFloat("DEFAULT_TAKE_PROFIT", 0.04),
		MaxSlippage:          getEnvFloat("MAX_SLIPPAGE", 0.0005),
		SlippageSeed:         int64(getEnvInt("SLIPPAGE_SEED", 0)),
		CommissionRate:       getEnvFloat("COMMISSION_RATE", 0.0002),
		InstrumentsPath:      getEnv("INSTRUMENTS_PATH", "./config/instruments.yaml"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		AdminKey:             getEnv("ADMIN_KEY", "dev-admin-key"),
	}, nil
}

// IsLive reports whether orders are routed to the venue bridge.
func (c *Config) IsLive() bool { return c.Mode == "live" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
