package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the recording engine and its hosts.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP server settings
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Storage settings
	RecordingsDir string
	ProfileDir    string

	// Browser behavior
	LaunchAttempts    int
	NavigateAttempts  int
	NavigateTimeoutMS int
	EvalTimeoutMS     int

	// Capture defaults
	DefaultFrameRate  int
	StopFlushTimeoutS int
	HeuristicCeilingS int

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("FLOWCAPTURE_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("FLOWCAPTURE_CDP_PORT", 9222),
		BindAddr:          getEnvOrDefault("FLOWCAPTURE_BIND_ADDR", "127.0.0.1:8090"),
		PortCandidates:    splitList(getEnvOrDefault("FLOWCAPTURE_BIND_CANDIDATES", "127.0.0.1:8091,127.0.0.1:8092")),
		PortAutoFallback:  getEnvBoolOrDefault("FLOWCAPTURE_BIND_AUTO_FALLBACK", true),
		RecordingsDir:     getEnvOrDefault("FLOWCAPTURE_RECORDINGS_DIR", "./recordings"),
		ProfileDir:        getEnvOrDefault("FLOWCAPTURE_PROFILE_DIR", "./.browser-profile"),
		LaunchAttempts:    getEnvIntOrDefault("FLOWCAPTURE_LAUNCH_ATTEMPTS", 3),
		NavigateAttempts:  getEnvIntOrDefault("FLOWCAPTURE_NAVIGATE_ATTEMPTS", 3),
		NavigateTimeoutMS: getEnvIntOrDefault("FLOWCAPTURE_NAVIGATE_TIMEOUT_MS", 30000),
		EvalTimeoutMS:     getEnvIntOrDefault("FLOWCAPTURE_EVAL_TIMEOUT_MS", 5000),
		DefaultFrameRate:  getEnvIntOrDefault("FLOWCAPTURE_FRAME_RATE", 10),
		StopFlushTimeoutS: getEnvIntOrDefault("FLOWCAPTURE_STOP_FLUSH_TIMEOUT_S", 10),
		HeuristicCeilingS: getEnvIntOrDefault("FLOWCAPTURE_HEURISTIC_CEILING_S", 300),
		LogLevel:          strings.ToLower(getEnvOrDefault("FLOWCAPTURE_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("FLOWCAPTURE_LOG_FILE", "logs/flowcapture.log"),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.LaunchAttempts < 1 {
		cfg.LaunchAttempts = 1
	}
	if cfg.NavigateAttempts < 1 {
		cfg.NavigateAttempts = 1
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
