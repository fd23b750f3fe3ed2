package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config - структура для хранения конфигурации приложения
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis Config
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Clustering Config
	JoinRadiusMeters float64       `env:"JOIN_RADIUS_METERS" envDefault:"150"`
	JoinWindow       time.Duration `env:"JOIN_WINDOW" envDefault:"720h"`

	// Messenger (внешний сервис доставки уведомлений)
	MessengerURL     string        `env:"MESSENGER_URL"`
	MessengerSecret  string        `env:"MESSENGER_SECRET"`
	MessengerTimeout time.Duration `env:"MESSENGER_TIMEOUT" envDefault:"5s"`

	// Notification Fan-out Config
	NotifyMaxAttempts   int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"5"`
	NotifyBaseDelay     time.Duration `env:"NOTIFY_BASE_DELAY" envDefault:"2s"`
	NotifySweepInterval time.Duration `env:"NOTIFY_SWEEP_INTERVAL" envDefault:"1m"`
	NotifySweepAge      time.Duration `env:"NOTIFY_SWEEP_AGE" envDefault:"5m"`

	// Внешние коллабораторы
	ClassifierURL     string        `env:"CLASSIFIER_URL"`
	ClassifierTimeout time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"10s"`
	BlobStoreURL      string        `env:"BLOBSTORE_URL"`
	BlobStoreTimeout  time.Duration `env:"BLOBSTORE_TIMEOUT" envDefault:"15s"`

	// API Keys for authentication
	APIKeys []string `env:"API_KEYS"`
}

// LoadConfig загружает конфигурацию из переменных окружения и .env файла
func LoadConfig() (*Config, error) {
	// Загрузка переменных окружения из .env файла (если есть)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка загрузки файла .env: %w", err)
	}

	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvAsInt("REDIS_DB", 0),
		JoinRadiusMeters:    getEnvAsFloat("JOIN_RADIUS_METERS", 150),
		JoinWindow:          getEnvAsDuration("JOIN_WINDOW", 720*time.Hour),
		MessengerURL:        os.Getenv("MESSENGER_URL"),
		MessengerSecret:     os.Getenv("MESSENGER_SECRET"),
		MessengerTimeout:    getEnvAsDuration("MESSENGER_TIMEOUT", 5*time.Second),
		NotifyMaxAttempts:   getEnvAsInt("NOTIFY_MAX_ATTEMPTS", 5),
		NotifyBaseDelay:     getEnvAsDuration("NOTIFY_BASE_DELAY", 2*time.Second),
		NotifySweepInterval: getEnvAsDuration("NOTIFY_SWEEP_INTERVAL", time.Minute),
		NotifySweepAge:      getEnvAsDuration("NOTIFY_SWEEP_AGE", 5*time.Minute),
		ClassifierURL:       os.Getenv("CLASSIFIER_URL"),
		ClassifierTimeout:   getEnvAsDuration("CLASSIFIER_TIMEOUT", 10*time.Second),
		BlobStoreURL:        os.Getenv("BLOBSTORE_URL"),
		BlobStoreTimeout:    getEnvAsDuration("BLOBSTORE_TIMEOUT", 15*time.Second),
	}

	// Загрузка API ключей
	apiKeysStr := os.Getenv("API_KEYS")
	if apiKeysStr != "" {
		cfg.APIKeys = strings.Split(apiKeysStr, ",")
		for i, key := range cfg.APIKeys {
			cfg.APIKeys[i] = strings.TrimSpace(key)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	return cfg, nil
}

// getEnv возвращает значение переменной окружения или значение по умолчанию
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt возвращает значение переменной окружения как int или значение по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat возвращает значение переменной окружения как float64 или значение по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration возвращает значение переменной окружения как time.Duration или значение по умолчанию
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}
