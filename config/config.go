// Package config handles loading and managing application configuration.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the application.
type Config struct {
	// Server configuration
	Server ServerConfig

	// ShopCore Core API configuration
	Core CoreConfig

	// Mobbex gateway credentials and URL templates
	Mobbex MobbexConfig

	// Transaction database configuration
	Database DatabaseConfig

	// Kafka event bus configuration
	Kafka KafkaConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port    string
	GinMode string // "debug", "release", or "test"
}

// CoreConfig holds ShopCore Core API configuration.
type CoreConfig struct {
	BaseURL string
	APIKey  string
	CartURL string // where the return flow sends failed checkouts
}

// MobbexConfig holds the Mobbex credentials and the status code
// classification sets. The sets are configuration rather than code because
// the gateway owns the meaning of its numeric codes and may add new ones.
type MobbexConfig struct {
	APIKey      string
	AccessToken string

	// CouponURL is a template with {entity.uid} and {payment.id} placeholders.
	CouponURL string

	StatusCodes StatusCodes
}

// StatusCodes maps each domain status to the set of gateway codes that
// resolve to it. A code absent from every set resolves to pending.
type StatusCodes struct {
	Pending   []int
	InReview  []int
	Approved  []int
	Rejected  []int
	Cancelled []int
	Refunded  []int
}

// DatabaseConfig holds the MySQL DSN for the transaction log.
type DatabaseConfig struct {
	DSN string
}

// KafkaConfig holds the settings for the outbound reconciliation events.
type KafkaConfig struct {
	Broker string
	Topic  string
}

// Load reads configuration from environment variables.
// Returns a Config struct with all settings populated.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    getEnv("PORT", "8080"),
			GinMode: getEnv("GIN_MODE", "debug"),
		},
		Core: CoreConfig{
			BaseURL: getEnv("SHOPCORE_CORE_URL", "http://localhost:8000"),
			APIKey:  getEnv("SHOPCORE_CORE_API_KEY", ""),
			CartURL: getEnv("SHOPCORE_CART_URL", "http://localhost:8000/cart"),
		},
		Mobbex: MobbexConfig{
			APIKey:      getEnv("MOBBEX_API_KEY", ""),
			AccessToken: getEnv("MOBBEX_ACCESS_TOKEN", ""),
			CouponURL:   getEnv("MOBBEX_COUPON_URL", "https://mobbex.com/console/coupons/{entity.uid}/{payment.id}"),
			StatusCodes: StatusCodes{
				Pending:   getEnvInts("MOBBEX_CODES_PENDING", []int{1, 100}),
				InReview:  getEnvInts("MOBBEX_CODES_IN_REVIEW", []int{2, 3, 201, 300}),
				Approved:  getEnvInts("MOBBEX_CODES_APPROVED", []int{4, 200, 210}),
				Rejected:  getEnvInts("MOBBEX_CODES_REJECTED", []int{400, 402, 403, 500}),
				Cancelled: getEnvInts("MOBBEX_CODES_CANCELLED", []int{401, 601, 603}),
				Refunded:  getEnvInts("MOBBEX_CODES_REFUNDED", []int{602, 605}),
			},
		},
		Database: DatabaseConfig{
			DSN: getEnv("DATABASE_DSN", "shopcore:shopcore@tcp(localhost:3306)/shopcore_payments?parseTime=true"),
		},
		Kafka: KafkaConfig{
			Broker: getEnv("KAFKA_BROKER", "localhost:9092"),
			Topic:  getEnv("KAFKA_TOPIC_RECONCILED", "payments.reconciled"),
		},
	}
}

// getEnv retrieves an environment variable with a fallback default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer with a fallback.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInts retrieves a comma-separated environment variable as a list of
// integers with a fallback. Malformed entries are skipped.
func getEnvInts(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		if intVal, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, intVal)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
