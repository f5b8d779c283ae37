package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type SchedulerConfig struct {
	// Name is the scheduler's display name. Empty picks a default derived from
	// the hostname.
	Name               string
	Store              string
	ErrorRecoveryDelay time.Duration
	MaxConcurrentJobs  int64
	PollInterval       time.Duration
	Expiration         time.Duration
	TablePrefix        string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "localhost"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "scheduler"),
			Password: getEnv("DB_PASSWORD", "scheduler"),
			DBName:   getEnv("DB_NAME", "scheduler"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Scheduler: SchedulerConfig{
			Name:               getEnv("SCHEDULER_NAME", ""),
			Store:              strings.ToLower(getEnv("SCHEDULER_STORE", StoreMemory)),
			ErrorRecoveryDelay: getEnvAsDuration("SCHEDULER_ERROR_RECOVERY_DELAY", 30*time.Second),
			MaxConcurrentJobs:  int64(getEnvAsInt("SCHEDULER_MAX_CONCURRENT_JOBS", 10)),
			PollInterval:       getEnvAsDuration("SCHEDULER_POLL_INTERVAL", 15*time.Second),
			Expiration:         getEnvAsDuration("SCHEDULER_EXPIRATION", time.Minute),
			TablePrefix:        getEnv("SCHEDULER_TABLE_PREFIX", "scheduler"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s", "1m30s") or a bare number of
// seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// Addr is the listen address of the admin API.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	// Otherwise, construct from individual components
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
