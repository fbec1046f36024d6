package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates the service configuration.
type Config struct {
	Server   ServerConfig
	Detector DetectorConfig
	Store    StoreConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	detector, err := loadDetectorConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Detector: detector,
		Store:    loadStoreConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// DetectorConfig describes the external detection engine.
type DetectorConfig struct {
	BaseURL string
	// APIKey is the shared engine credential used when a caller has no
	// per-user credential stored.
	APIKey string
	// ConnectTimeout bounds request setup, not stream lifetime.
	ConnectTimeout time.Duration
	// IdleTimeout is the longest allowed silence between stream events.
	IdleTimeout time.Duration
}

// Enabled reports whether an engine endpoint is configured.
func (c DetectorConfig) Enabled() bool {
	return c.BaseURL != ""
}

func loadDetectorConfig() (DetectorConfig, error) {
	connectTimeout, err := parseSecondsEnv("DETECTOR_TIMEOUT", 30*time.Second)
	if err != nil {
		return DetectorConfig{}, err
	}

	idleTimeout, err := parseSecondsEnv("STREAM_IDLE_TIMEOUT", 90*time.Second)
	if err != nil {
		return DetectorConfig{}, err
	}

	return DetectorConfig{
		BaseURL:        getEnvOrDefault("DETECTOR_BASE_URL", "http://localhost:8000"),
		APIKey:         strings.TrimSpace(os.Getenv("DETECTOR_API_KEY")),
		ConnectTimeout: connectTimeout,
		IdleTimeout:    idleTimeout,
	}, nil
}

// StoreConfig describes chat persistence. An empty path selects the
// in-memory store.
type StoreConfig struct {
	Path string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{Path: strings.TrimSpace(os.Getenv("STORE_PATH"))}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: want positive seconds", key, raw)
	}
	return time.Duration(val) * time.Second, nil
}
