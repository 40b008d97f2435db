package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment      string
	GroupsIOAPIToken string
	GroupsIOGroupID  int64
	GroupsIOBaseURL  string
	DatabaseURL      string
	DBHost           string
	DBPort           string
	DBUsername       string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	BackfillDelay    time.Duration
	HTTPTimeout      time.Duration
	Port             string
	LogLevel         string
	LogFormat        string
	APIRatePerMinute int
}

func NewConfig() (*Config, error) {
	env := os.Getenv("PSP_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintln(os.Stderr, "Warning: .env file not found, using environment variables")
		}
	}

	groupID, err := getEnvInt("GROUPSIO_GROUP_ID", 8407)
	if err != nil {
		return nil, err
	}
	delaySeconds, err := getEnvFloat("PSP_BACKFILL_DELAY_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	timeoutSeconds, err := getEnvInt("PSP_HTTP_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	ratePerMinute, err := getEnvInt("PSP_API_RATE_PER_MINUTE", 60)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment:      env,
		GroupsIOAPIToken: os.Getenv("GROUPSIO_API_TOKEN"),
		GroupsIOGroupID:  groupID,
		GroupsIOBaseURL:  getEnvOrDefault("GROUPSIO_BASE_URL", "https://groups.io/api/v1"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBHost:           getEnvOrDefault("PSP_DB_HOST", "localhost"),
		DBPort:           getEnvOrDefault("PSP_DB_PORT", "5432"),
		DBUsername:       getEnvOrDefault("PSP_DB_USER", "psp"),
		DBPassword:       os.Getenv("PSP_DB_PASSWORD"),
		DBName:           getEnvOrDefault("PSP_DB_NAME", "psp"),
		DBSSLMode:        getEnvOrDefault("PSP_DB_SSLMODE", "disable"),
		BackfillDelay:    time.Duration(delaySeconds * float64(time.Second)),
		HTTPTimeout:      time.Duration(timeoutSeconds) * time.Second,
		Port:             getEnvOrDefault("PORT", "8000"),
		LogLevel:         getEnvOrDefault("PSP_LOG_LEVEL", "info"),
		LogFormat:        getEnvOrDefault("PSP_LOG_FORMAT", "pretty"),
		APIRatePerMinute: int(ratePerMinute),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.GroupsIOAPIToken == "" {
		return fmt.Errorf("GROUPSIO_API_TOKEN is required")
	}

	if c.DatabaseURL == "" && c.DBPassword == "" {
		return fmt.Errorf("DATABASE_URL or PSP_DB_PASSWORD is required")
	}

	if c.DatabaseURL == "" && !isValidPort(c.DBPort) {
		return fmt.Errorf("PSP_DB_PORT is not a valid port number: %q", c.DBPort)
	}

	if !isValidPort(c.Port) {
		return fmt.Errorf("PORT is not a valid port number: %q", c.Port)
	}

	if c.LogFormat != "pretty" && c.LogFormat != "json" {
		return fmt.Errorf("PSP_LOG_FORMAT must be 'pretty' or 'json', got %q", c.LogFormat)
	}

	return nil
}

// GetDatabaseURL returns DATABASE_URL when set, otherwise a URL built from the PSP_DB_* parts.
func (c *Config) GetDatabaseURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": []string{c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

func isValidPort(port string) bool {
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return parsed, nil
}
