package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// allowedCandleSeconds are the bucket widths the frontend can render.
var allowedCandleSeconds = map[int]bool{
	60: true, 300: true, 600: true, 900: true,
	1800: true, 2700: true, 3600: true, 7200: true,
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Dhan credentials and endpoints
	DhanClientID    string
	DhanAccessToken string
	DhanWSURL       string
	DhanAPIBase     string

	// Engine tunables
	CandleSeconds         int
	ImbalanceRatio        float64
	MaxCandlesPerSymbol   int
	BroadcastCandlesLimit int
	MaxLevelsPerCandle    int
	MaxEngines            int
	GCIntervalTicks       int64
	BroadcastMinInterval  time.Duration
	OIPollInterval        time.Duration

	// Durability
	SnapshotDir string

	// Servers
	HTTPAddr    string
	MetricsAddr string

	// Optional Redis mirror (empty addr disables it)
	RedisAddr     string
	RedisPassword string

	// Instrument list
	StockListPath string
	AutoSubscribe bool

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		DhanClientID:    getEnv("DHAN_CLIENT_ID", ""),
		DhanAccessToken: getEnv("DHAN_ACCESS_TOKEN", ""),
		DhanWSURL:       getEnv("DHAN_WS_URL", "wss://api-feed.dhan.co"),
		DhanAPIBase:     getEnv("DHAN_API_BASE", "https://api.dhan.co"),

		CandleSeconds:         getEnvInt("CANDLE_SECONDS", 60),
		ImbalanceRatio:        getEnvFloat("IMBALANCE_RATIO", 3.0),
		MaxCandlesPerSymbol:   getEnvInt("MAX_CANDLES_PER_SYMBOL", 1000),
		BroadcastCandlesLimit: getEnvInt("BROADCAST_CANDLES_LIMIT", 1000),
		MaxLevelsPerCandle:    getEnvInt("MAX_LEVELS_PER_CANDLE", 500),
		MaxEngines:            getEnvInt("MAX_ENGINES", 1000),
		GCIntervalTicks:       int64(getEnvInt("GC_INTERVAL_TICKS", 10000)),
		BroadcastMinInterval:  time.Duration(getEnvFloat("BROADCAST_MIN_INTERVAL", 0.1) * float64(time.Second)),
		OIPollInterval:        time.Duration(getEnvInt("OI_POLL_SEC", 10)) * time.Second,

		SnapshotDir: getEnv("SNAPSHOT_DIR", "/data/snapshots"),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8000"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		StockListPath: getEnv("STOCK_LIST_PATH", "stock_list.csv"),
		AutoSubscribe: getEnvBool("AUTO_SUBSCRIBE", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if !allowedCandleSeconds[cfg.CandleSeconds] {
		log.Printf("[config] CANDLE_SECONDS=%d not in permitted set, using 60", cfg.CandleSeconds)
		cfg.CandleSeconds = 60
	}

	return cfg
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true") || v == "1"
}
