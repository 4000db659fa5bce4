package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RouteRule maps a request to an application. Match is either a host name
// ("docs.example.com") or a path prefix ("/docs").
type RouteRule struct {
	Match string
	App   string
}

// Config holds all service configuration
type Config struct {
	// Server configuration
	Port string

	// Registry database configuration
	DBType            string // mysql, postgres, sqlite, sqlserver, etc.
	DBHost            string
	DBPort            string
	DBDatabase        string
	DBUser            string
	DBPassword        string
	DBConnectionLimit int

	// Content store configuration
	BlobPath        string
	MaxArchiveBytes int64

	// Garbage collection
	RetentionWindow time.Duration
	GCInterval      time.Duration

	// Serving
	FallbackDoc string
	CacheMaxAge int
	Routes      []RouteRule
}

// Load loads configuration from the environment, with optional .env file.
func Load() (*Config, error) {
	// Missing .env is fine, the environment may be fully populated already.
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "3000"),
		DBType:            getEnv("DB_TYPE", "mysql"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBDatabase:        getEnv("DB_DATABASE", ""),
		DBUser:            getEnv("DB_USER", ""),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBConnectionLimit: getEnvAsInt("DB_CONNECTION_LIMIT", 5),
		BlobPath:          getEnv("BLOB_PATH", ""),
		MaxArchiveBytes:   getEnvAsInt64("MAX_ARCHIVE_BYTES", 256<<20),
		GCInterval:        getEnvAsDuration("GC_INTERVAL", time.Hour),
		FallbackDoc:       getEnv("FALLBACK_DOC", "index.html"),
		CacheMaxAge:       getEnvAsInt("CACHE_MAX_AGE", 300),
	}

	// Validate required fields
	if cfg.DBDatabase == "" {
		return nil, fmt.Errorf("DB_DATABASE is required")
	}
	if cfg.DBType != "sqlite" && cfg.DBUser == "" {
		return nil, fmt.Errorf("DB_USER is required")
	}
	if cfg.BlobPath == "" {
		return nil, fmt.Errorf("BLOB_PATH is required")
	}
	// The collector's ticker panics on a non-positive interval.
	if cfg.GCInterval <= 0 {
		return nil, fmt.Errorf("GC_INTERVAL must be a positive duration: %s", cfg.GCInterval)
	}

	// The retention window gates garbage collection and has no sensible
	// default; operators must choose it deliberately.
	retention := os.Getenv("RETENTION_WINDOW")
	if retention == "" {
		return nil, fmt.Errorf("RETENTION_WINDOW is required (e.g. 72h)")
	}
	d, err := time.ParseDuration(retention)
	if err != nil || d < 0 {
		return nil, fmt.Errorf("RETENTION_WINDOW is not a valid duration: %q", retention)
	}
	cfg.RetentionWindow = d

	routes, err := parseRoutes(os.Getenv("ROUTES"))
	if err != nil {
		return nil, err
	}
	cfg.Routes = routes

	return cfg, nil
}

// parseRoutes parses the routing table, a comma-separated list of
// match=app pairs: "docs.example.com=docs,/preview=preview".
func parseRoutes(raw string) ([]RouteRule, error) {
	if raw == "" {
		return nil, nil
	}
	var rules []RouteRule
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		match, app, ok := strings.Cut(entry, "=")
		if !ok || match == "" || app == "" {
			return nil, fmt.Errorf("ROUTES entry %q is not match=app", entry)
		}
		rules = append(rules, RouteRule{Match: match, App: app})
	}
	return rules, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
