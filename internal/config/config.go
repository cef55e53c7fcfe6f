package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration sourced from the environment.
// Strategy parameters (thresholds, weights, limits) live in the YAML file
// loaded by LoadStrategy.
type Config struct {
	DatabasePath string
	HistoryDir   string
	StrategyPath string
	LogLevel     string
	Port         int
	DevMode      bool

	// Broker (AngelOne SmartAPI) credentials
	AngelAPIKey     string
	AngelClientID   string
	AngelMPIN       string
	AngelTOTPSecret string

	// Telegram bot credentials
	TelegramBotToken string
	TelegramChatID   int64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 8080),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		DatabasePath: getEnv("DATABASE_PATH", "./data/trader.db"),
		HistoryDir:   getEnv("HISTORY_DIR", "./data/history"),
		StrategyPath: getEnv("STRATEGY_CONFIG", "./config.yaml"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		AngelAPIKey:     getEnv("ANGEL_API_KEY", ""),
		AngelClientID:   getEnv("ANGEL_CLIENT_ID", ""),
		AngelMPIN:       getEnv("ANGEL_MPIN", ""),
		AngelTOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnvAsInt64("TELEGRAM_CHAT_ID", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.HistoryDir == "" {
		return fmt.Errorf("HISTORY_DIR is required")
	}

	// Broker and Telegram credentials are optional here: simulation mode
	// runs without a broker session, and clients fail loudly on first use.
	return nil
}

// HasBrokerCredentials reports whether a live broker session can be opened.
func (c *Config) HasBrokerCredentials() bool {
	return c.AngelAPIKey != "" && c.AngelClientID != "" && c.AngelMPIN != "" && c.AngelTOTPSecret != ""
}

// HasTelegramCredentials reports whether the chat channel is configured.
func (c *Config) HasTelegramCredentials() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
