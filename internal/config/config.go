package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Alert dedup policies.
const (
	// AlertDedupOnce sends a single alert per subscription and due date.
	AlertDedupOnce = "once"
	// AlertDedupDaily re-sends at most once per day until the renewal passes.
	AlertDedupDaily = "daily"
)

// Config holds application configuration
type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret        string
	JWTExpirationDur time.Duration

	// AI
	EncryptionKey    string
	AIRequestTimeout time.Duration
	AIMaxTimeout     time.Duration
	AITestTimeout    time.Duration
	OllamaURL        string
	AIRateLimit      int // requests per minute per user
	AIRateBurst      int

	// Alerts
	AlertCron        string
	AlertDedupPolicy string
	ResendAPIKey     string
	ResendFromEmail  string

	// Pipeline
	PipelineAPIKey string
}

var appConfig *Config

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if not already loaded
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	config := &Config{
		// Server
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: os.Getenv("LOG_LEVEL"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "subtrack"),
		DBPassword: getEnv("DB_PASSWORD", "subtrack"),
		DBName:     getEnv("DB_NAME", "subtrack"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "fallback-secret-key-for-dev-only"),

		// AI
		EncryptionKey: os.Getenv("AI_ENCRYPTION_KEY"),
		OllamaURL:     getEnv("OLLAMA_URL", "http://localhost:11434"),

		// Alerts
		AlertCron:       getEnv("ALERT_CRON", "0 8 * * *"),
		ResendAPIKey:    os.Getenv("RESEND_API_KEY"),
		ResendFromEmail: getEnv("RESEND_FROM_EMAIL", "alerts@subtrack.local"),

		PipelineAPIKey: os.Getenv("PIPELINE_API_KEY"),
	}

	// Access token lifetime; refresh tokens live for a fixed week.
	expStr := getEnv("JWT_EXPIRES_IN", "15m")
	expDur, err := time.ParseDuration(expStr)
	if err != nil || expDur <= 0 {
		log.Printf("Warning: invalid JWT_EXPIRES_IN value '%s', falling back to 15m\n", expStr)
		expDur = 15 * time.Minute
	}
	config.JWTExpirationDur = expDur

	if config.AIMaxTimeout, err = parseTimeout("AI_MAX_TIMEOUT", os.Getenv("AI_MAX_TIMEOUT"), 5*time.Minute); err != nil {
		return nil, err
	}
	if config.AIRequestTimeout, err = parseTimeout("AI_REQUEST_TIMEOUT", os.Getenv("AI_REQUEST_TIMEOUT"), 60*time.Second); err != nil {
		return nil, err
	}
	if config.AITestTimeout, err = parseTimeout("AI_TEST_TIMEOUT", os.Getenv("AI_TEST_TIMEOUT"), 10*time.Second); err != nil {
		return nil, err
	}
	config.AIRequestTimeout = clampTimeout(config.AIRequestTimeout, config.AIMaxTimeout)
	config.AITestTimeout = clampTimeout(config.AITestTimeout, config.AIMaxTimeout)

	if config.AIRateLimit, err = parsePositiveInt("AI_RATE_LIMIT", os.Getenv("AI_RATE_LIMIT"), 10); err != nil {
		return nil, err
	}
	if config.AIRateBurst, err = parsePositiveInt("AI_RATE_BURST", os.Getenv("AI_RATE_BURST"), 3); err != nil {
		return nil, err
	}

	if config.AlertDedupPolicy, err = parseDedupPolicy(os.Getenv("ALERT_DEDUP_POLICY")); err != nil {
		return nil, err
	}

	appConfig = config
	return config, nil
}

// Get returns the application configuration
func Get() *Config {
	if appConfig == nil {
		var err error
		appConfig, err = Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	return appConfig
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseTimeout(name, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", name, d)
	}
	return d, nil
}

// clampTimeout keeps d within the configured upper bound.
func clampTimeout(d, upper time.Duration) time.Duration {
	if d > upper {
		return upper
	}
	return d
}

func parsePositiveInt(name, s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", name, n)
	}
	return n, nil
}

func parseDedupPolicy(s string) (string, error) {
	if s == "" {
		return AlertDedupDaily, nil
	}
	switch strings.ToLower(s) {
	case AlertDedupDaily:
		return AlertDedupDaily, nil
	case AlertDedupOnce:
		return AlertDedupOnce, nil
	default:
		return "", fmt.Errorf("invalid ALERT_DEDUP_POLICY %q: must be daily or once", s)
	}
}
