package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Per-platform webhook secrets. A missing secret means webhooks for that
	// platform are rejected (fail closed) unless AllowUnsignedWebhooks is set.
	FacebookAppSecret   string
	FacebookVerifyToken string
	LineChannelSecret   string
	WhatsAppAppSecret   string
	WhatsAppVerifyToken string

	// AllowUnsignedWebhooks disables signature verification entirely. It is an
	// explicit opt-in for local development and must never be set in production.
	AllowUnsignedWebhooks bool

	DBDriver   string // "postgres" or "sqlite"
	DBPath     string // sqlite file path
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// AMQP broker for realtime change events. Empty disables the broker
	// publisher; the in-process WebSocket hub still runs.
	AMQPURL      string
	AMQPExchange string

	// Timeout (seconds) applied to profile enrichment fetches only.
	EnrichmentTimeoutSecs int
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	return &Config{
		Port: getEnv("PORT", "8080"),

		FacebookAppSecret:   getEnv("FACEBOOK_APP_SECRET", ""),
		FacebookVerifyToken: getEnv("FACEBOOK_VERIFY_TOKEN", ""),
		LineChannelSecret:   getEnv("LINE_CHANNEL_SECRET", ""),
		WhatsAppAppSecret:   getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppVerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),

		AllowUnsignedWebhooks: getEnvBool("ALLOW_UNSIGNED_WEBHOOKS", false),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBPath:     getEnv("DB_PATH", "./omnichat.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "omnichat"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "omnichat.events"),

		EnrichmentTimeoutSecs: getEnvInt("ENRICHMENT_TIMEOUT_SECS", 5),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("Warning: invalid boolean for %s: %q", key, value)
			return fallback
		}
		return parsed
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("Warning: invalid integer for %s: %q", key, value)
			return fallback
		}
		return parsed
	}
	return fallback
}
