package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the trade desk.
type Config struct {
	// HTTP API
	BindAddr         string
	PortCandidates   []int
	PortAutoFallback bool

	// Logging
	LogLevel string
	LogFile  string

	// DataDir is the root for audit logs and the snapshot archive.
	DataDir string

	// Browser / CDP settings
	CDPAddress      string
	CDPPort         int
	ProfileDir      string
	OrderURL        string
	LoginTimeoutSec int

	// Market data
	Provider      string
	AlpacaKey     string
	AlpacaSecret  string
	AlpacaBaseURL string

	// Refresh schedule
	RefreshSpec   string
	StaggerMS     int
	LookbackHours int
	Slots         int
	BasketSymbols []string

	// Snapshot archive
	ArchiveEnabled  bool
	ArchiveFullBars bool
	MaxFileSizeMB   int
	BufferSize      int

	// Order entry
	StepTimeoutSec int
	BuyMode        string
	SellMode       string

	// Notifications
	NtfyEndpoint string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:         getEnvOrDefault("DESK_BIND_ADDR", "127.0.0.1:8388"),
		PortCandidates:   getEnvIntListOrDefault("DESK_PORT_CANDIDATES", []int{8388, 8389, 8390}),
		PortAutoFallback: getEnvBoolOrDefault("DESK_PORT_AUTO_FALLBACK", true),
		LogLevel:         strings.ToLower(getEnvOrDefault("DESK_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("DESK_LOG_FILE", "logs/trade_desk.log"),
		DataDir:          getEnvOrDefault("DESK_DATA_DIR", "./desk_data"),
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		ProfileDir:       getEnvOrDefault("CHROMIUM_PROFILE_DIR", ""),
		OrderURL:         getEnvOrDefault("DESK_ORDER_URL", "https://digital.fidelity.com/ftgw/digital/trade-equity"),
		LoginTimeoutSec:  getEnvIntOrDefault("DESK_LOGIN_TIMEOUT_SEC", 180),
		Provider:         strings.ToLower(getEnvOrDefault("DESK_PROVIDER", "yahoo")),
		AlpacaKey:        getEnvOrDefault("APCA_API_KEY_ID", ""),
		AlpacaSecret:     getEnvOrDefault("APCA_API_SECRET_KEY", ""),
		AlpacaBaseURL:    getEnvOrDefault("APCA_API_DATA_URL", ""),
		RefreshSpec:      getEnvOrDefault("DESK_REFRESH_SPEC", "@every 10s"),
		StaggerMS:        getEnvIntOrDefault("DESK_STAGGER_MS", 400),
		LookbackHours:    getEnvIntOrDefault("DESK_LOOKBACK_HOURS", 24),
		Slots:            getEnvIntOrDefault("DESK_SLOTS", 7),
		BasketSymbols:    getEnvListOrDefault("DESK_BASKET_SYMBOLS", []string{"SPY", "QQQ", "DIA"}),
		ArchiveEnabled:   getEnvBoolOrDefault("DESK_ARCHIVE_ENABLED", true),
		ArchiveFullBars:  getEnvBoolOrDefault("DESK_ARCHIVE_FULL_BARS", false),
		MaxFileSizeMB:    getEnvIntOrDefault("DESK_ARCHIVE_MAX_FILE_SIZE_MB", 200),
		BufferSize:       getEnvIntOrDefault("DESK_ARCHIVE_BUFFER_SIZE", 1024),
		StepTimeoutSec:   getEnvIntOrDefault("DESK_STEP_TIMEOUT_SEC", 20),
		BuyMode:          getEnvOrDefault("DESK_BUY_MODE", "Dollars"),
		SellMode:         getEnvOrDefault("DESK_SELL_MODE", "Shares"),
		NtfyEndpoint:     getEnvOrDefault("DESK_NTFY_ENDPOINT", ""),
	}

	if cfg.Provider != "yahoo" && cfg.Provider != "alpaca" {
		return nil, fmt.Errorf("unknown market data provider %q", cfg.Provider)
	}
	if cfg.Provider == "alpaca" && (cfg.AlpacaKey == "" || cfg.AlpacaSecret == "") {
		return nil, fmt.Errorf("alpaca provider selected but APCA_API_KEY_ID/APCA_API_SECRET_KEY not set")
	}
	if cfg.StepTimeoutSec < 5 {
		cfg.StepTimeoutSec = 5
	}
	return cfg, nil
}

// CDPURL returns the full CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
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

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func getEnvIntListOrDefault(key string, defaultVal []int) []int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []int
	for _, part := range strings.Split(val, ",") {
		if i, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
