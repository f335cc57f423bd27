/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the automation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	SettlementEventQueue      string `mapstructure:"SETTLEMENT_EVENT_QUEUE"`
	YieldAPIBaseURL           string `mapstructure:"YIELD_API_BASE_URL"`
	YieldAPIKey               string `mapstructure:"YIELD_API_KEY"`
	JWTSecret                 string `mapstructure:"JWT_SECRET"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	PlatformFeeBps            int64  `mapstructure:"PLATFORM_FEE_BPS"`
	ExecutionLeaseTTLSeconds  int    `mapstructure:"EXECUTION_LEASE_TTL_SECONDS"`
	DueRuleJobSchedule        string `mapstructure:"DUE_RULE_JOB_SCHEDULE"`
	DueRuleBatchSize          int    `mapstructure:"DUE_RULE_BATCH_SIZE"`
	ExecuteRateLimitPerMinute int    `mapstructure:"EXECUTE_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SETTLEMENT_EVENT_QUEUE", "automation_service.settlement_updates")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "yieldhive:rate_limit")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("PLATFORM_FEE_BPS", 50)
	viper.SetDefault("EXECUTION_LEASE_TTL_SECONDS", 300)
	viper.SetDefault("DUE_RULE_JOB_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("DUE_RULE_BATCH_SIZE", 50)
	viper.SetDefault("EXECUTE_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "AUTOMATION_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_EVENT_QUEUE")
	_ = viper.BindEnv("YIELD_API_BASE_URL")
	_ = viper.BindEnv("YIELD_API_KEY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("PLATFORM_FEE_BPS")
	_ = viper.BindEnv("EXECUTION_LEASE_TTL_SECONDS")
	_ = viper.BindEnv("DUE_RULE_JOB_SCHEDULE")
	_ = viper.BindEnv("DUE_RULE_BATCH_SIZE")
	_ = viper.BindEnv("EXECUTE_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "yieldhive:rate_limit"
	}
	config.CORSAllowedOrigins = strings.TrimSpace(config.CORSAllowedOrigins)
	if config.CORSAllowedOrigins == "" {
		config.CORSAllowedOrigins = "*"
	}

	if config.PlatformFeeBps < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee configured; coercing to zero\" fee_bps=%d", config.PlatformFeeBps)
		config.PlatformFeeBps = 0
	}
	if config.PlatformFeeBps > 10000 {
		log.Printf("level=warn component=config msg=\"platform fee too high; capping at 10000 bps\" fee_bps=%d", config.PlatformFeeBps)
		config.PlatformFeeBps = 10000
	}

	if config.ExecutionLeaseTTLSeconds <= 0 {
		config.ExecutionLeaseTTLSeconds = 300
	}
	if strings.TrimSpace(config.DueRuleJobSchedule) == "" {
		config.DueRuleJobSchedule = "*/5 * * * *"
	}
	if config.DueRuleBatchSize <= 0 {
		config.DueRuleBatchSize = 50
	}
	if config.ExecuteRateLimitPerMinute <= 0 {
		config.ExecuteRateLimitPerMinute = 10
	}

	return
}
