package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port      int
	DevMode   bool
	LogLevel  string
	LogPretty bool

	DatabasePath     string
	SpotSnapshotPath string // warm-restart copy of the full-market spot table

	// Provider sidecars (empty = provider disabled)
	AKToolsURL string
	OpenBBURL  string

	DisabledProviders []string

	ProviderMinInterval time.Duration // spacing between outbound coordinator calls
	ProviderCooldown    time.Duration // cooldown after repeated failures or a ban
	HTTPTimeout         time.Duration
	BatchWorkers        int

	SnapshotCron string // daily snapshot job (after A-share close)
	CalendarCron string // yearly calendar hydration

	// Optional S3-compatible backup target
	BackupEnabled  bool
	BackupCron     string
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	BackupRetained int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnvAsInt("PORT", 8000),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),

		DatabasePath:     getEnv("DATABASE_PATH", "./data/stockwatch.db"),
		SpotSnapshotPath: getEnv("SPOT_SNAPSHOT_PATH", "./data/spot_snapshot.bin"),

		AKToolsURL: getEnv("AKTOOLS_URL", ""),
		OpenBBURL:  getEnv("OPENBB_URL", ""),

		DisabledProviders: splitList(getEnv("DISABLED_PROVIDERS", "")),

		ProviderMinInterval: getEnvAsDuration("PROVIDER_MIN_INTERVAL", 200*time.Millisecond),
		ProviderCooldown:    getEnvAsDuration("PROVIDER_COOLDOWN", 5*time.Minute),
		HTTPTimeout:         getEnvAsDuration("HTTP_TIMEOUT", 5*time.Second),
		BatchWorkers:        getEnvAsInt("BATCH_WORKERS", 10),

		SnapshotCron: getEnv("SNAPSHOT_CRON", "0 10 15 * * MON-FRI"),
		CalendarCron: getEnv("CALENDAR_CRON", "0 30 0 1 1 *"),

		BackupEnabled:  getEnvAsBool("BACKUP_ENABLED", false),
		BackupCron:     getEnv("BACKUP_CRON", "0 0 3 * * *"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3Region:       getEnv("S3_REGION", "auto"),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		BackupRetained: getEnvAsInt("BACKUP_RETAINED", 7),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be in (0, 65535], got %d", c.Port)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1, got %d", c.BatchWorkers)
	}
	if c.ProviderMinInterval < 0 {
		return fmt.Errorf("PROVIDER_MIN_INTERVAL must not be negative")
	}
	if c.BackupEnabled && (c.S3Bucket == "" || c.S3AccessKey == "" || c.S3SecretKey == "") {
		return fmt.Errorf("backup enabled but S3_BUCKET / S3_ACCESS_KEY / S3_SECRET_KEY incomplete")
	}
	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
