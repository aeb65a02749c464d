// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
	// RequestTimeout bounds actor round-trips made on behalf of a single
	// client call.
	RequestTimeout time.Duration
	// StoreTimeout bounds individual Message Store / Chat Directory
	// operations.
	StoreTimeout time.Duration
}

// DatabaseConfig holds MongoDB connection settings
type DatabaseConfig struct {
	URI  string
	Name string
}

// RedisConfig holds settings for the cross-instance fan-out bridge.
// An empty Addr disables the bridge and the process runs standalone.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds token signing settings
type AuthConfig struct {
	JWTSecret string
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Redis          *RedisConfig
	Auth           *AuthConfig
	AllowedOrigins []string
	Debug          bool
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:           8080,
		Host:           "0.0.0.0",
		MetricsEnabled: true,
		RequestTimeout: 5 * time.Second,
		StoreTimeout:   2 * time.Second,
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	// Try to load .env file from multiple possible locations
	envLocations := []string{
		".env",          // Current directory
		"../../.env",    // Project root when running from cmd/server
		"../../../.env", // Even higher directory
	}

	envLoaded := false
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		// Silent failure if no .env exists, which is fine
		_ = godotenv.Load()
	}

	// Start with default server config
	serverConfig := DefaultConfig()

	// Override server settings from environment if provided
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			serverConfig.Port = port
		}
	}

	if host := os.Getenv("HOST"); host != "" {
		serverConfig.Host = host
	}

	if metricsEnabled := os.Getenv("METRICS_ENABLED"); metricsEnabled != "" {
		serverConfig.MetricsEnabled = metricsEnabled == "true"
	}

	if timeoutStr := os.Getenv("REQUEST_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil {
			serverConfig.RequestTimeout = d
		}
	}

	if timeoutStr := os.Getenv("STORE_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil {
			serverConfig.StoreTimeout = d
		}
	}

	dbConfig := &DatabaseConfig{
		URI:  os.Getenv("MONGODB_URI"),
		Name: getEnvOrDefault("MONGODB_NAME", "tradepost"),
	}
	if dbConfig.URI == "" {
		return nil, fmt.Errorf("MONGODB_URI environment variable is required")
	}

	redisConfig := &RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			redisConfig.DB = db
		}
	}

	authConfig := &AuthConfig{
		JWTSecret: os.Getenv("JWT_SECRET"),
	}
	if authConfig.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	config := &Config{
		Server:         serverConfig,
		Database:       dbConfig,
		Redis:          redisConfig,
		Auth:           authConfig,
		AllowedOrigins: []string{"*"}, // Default to allow all origins
		Debug:          false,
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	if debug := os.Getenv("DEBUG"); debug == "true" {
		config.Debug = true
	}

	return config, nil
}

// Helper function to get environment variable with default fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
