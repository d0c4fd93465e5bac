/**
 * @description
 * This file handles the configuration management for the billing service.
 * It uses the 'viper' library to load configuration from environment variables,
 * providing a centralized and consistent way to manage application settings.
 */
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	GatewayBaseURL        string `mapstructure:"GATEWAY_BASE_URL"`
	GatewaySecretKey      string `mapstructure:"GATEWAY_SECRET_KEY"`
	GatewayWebhookSecret  string `mapstructure:"GATEWAY_WEBHOOK_SECRET"`
	GatewayTimeoutSeconds int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	PaymentRedirectURL string `mapstructure:"PAYMENT_REDIRECT_URL"`

	ExpirySweepSchedule  string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`
	RenewalSweepSchedule string `mapstructure:"RENEWAL_SWEEP_SCHEDULE"`
	RenewalLookaheadDays int    `mapstructure:"RENEWAL_LOOKAHEAD_DAYS"`

	ReconcileRetryBaseDelayMS int `mapstructure:"RECONCILE_RETRY_BASE_DELAY_MS"`
	ReconcileRetryMaxAttempts int `mapstructure:"RECONCILE_RETRY_MAX_ATTEMPTS"`

	PlanCacheTTLSeconds int `mapstructure:"PLAN_CACHE_TTL_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("GATEWAY_BASE_URL", "https://api.flutterwave.com")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 30)
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "0 * * * *")
	viper.SetDefault("RENEWAL_SWEEP_SCHEDULE", "30 */6 * * *")
	viper.SetDefault("RENEWAL_LOOKAHEAD_DAYS", 3)
	viper.SetDefault("RECONCILE_RETRY_BASE_DELAY_MS", 500)
	viper.SetDefault("RECONCILE_RETRY_MAX_ATTEMPTS", 5)
	viper.SetDefault("PLAN_CACHE_TTL_SECONDS", 3600)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("GATEWAY_BASE_URL")
	_ = viper.BindEnv("GATEWAY_SECRET_KEY")
	_ = viper.BindEnv("GATEWAY_WEBHOOK_SECRET")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("PAYMENT_REDIRECT_URL")
	_ = viper.BindEnv("EXPIRY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RENEWAL_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RENEWAL_LOOKAHEAD_DAYS")
	_ = viper.BindEnv("RECONCILE_RETRY_BASE_DELAY_MS")
	_ = viper.BindEnv("RECONCILE_RETRY_MAX_ATTEMPTS")
	_ = viper.BindEnv("PLAN_CACHE_TTL_SECONDS")

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	// Secrets pasted from dashboards sometimes arrive wrapped in quotes.
	config.DatabaseURL = sanitize(config.DatabaseURL)
	config.RedisURL = sanitize(config.RedisURL)
	config.RabbitMQURL = sanitize(config.RabbitMQURL)
	config.GatewaySecretKey = sanitize(config.GatewaySecretKey)
	config.GatewayWebhookSecret = sanitize(config.GatewayWebhookSecret)
	config.JWTSecret = sanitize(config.JWTSecret)
	config.InternalAPIKey = sanitize(config.InternalAPIKey)
	return
}

func sanitize(v string) string {
	return strings.Trim(strings.TrimSpace(v), "\"'")
}
