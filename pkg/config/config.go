package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port     string
	LogLevel string

	// HTTP
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration

	// Gateway
	GatewayMode     string // "paper" or "bridge"
	AccountID       string
	BridgeBaseURL   string
	BridgeStreamURL string
	BridgeToken     string
	BridgeRPS       float64

	// Market data
	PriceCacheTTL      time.Duration
	SymbolVariantsPath string

	// Execution
	ExecutionTimeout      time.Duration
	SlippagePoints        float64
	MinLot                float64
	MaxLot                float64
	MinStopDistancePoints float64
	BatchConcurrency      int

	// Candle cache (Redis is used only when RedisAddr is set)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CandleCacheTTL time.Duration

	// Paper gateway simulation
	PaperSlippageBps  float64
	PaperLatencyMinMs int
	PaperLatencyMaxMs int
	UseMockFeed       bool
	MockFeedSymbols   []string
	MockFeedInterval  time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		RateLimitRPS:          getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:        getEnvInt("RATE_LIMIT_BURST", 50),
		RequestTimeout:        getEnvMillis("REQUEST_TIMEOUT_MS", 30000),
		GatewayMode:           strings.ToLower(getEnv("GATEWAY_MODE", "paper")),
		AccountID:             getEnv("ACCOUNT_ID", "paper"),
		BridgeBaseURL:         strings.TrimSuffix(getEnv("BRIDGE_BASE_URL", ""), "/"),
		BridgeStreamURL:       strings.TrimSuffix(getEnv("BRIDGE_STREAM_URL", ""), "/"),
		BridgeToken:           os.Getenv("BRIDGE_TOKEN"),
		BridgeRPS:             getEnvFloat("BRIDGE_RPS", 10),
		PriceCacheTTL:         getEnvMillis("PRICE_CACHE_TTL_MS", 1000),
		SymbolVariantsPath:    getEnv("SYMBOL_VARIANTS_PATH", ""),
		ExecutionTimeout:      getEnvMillis("EXECUTION_TIMEOUT_MS", 5000),
		SlippagePoints:        getEnvFloat("SLIPPAGE_POINTS", 2),
		MinLot:                getEnvFloat("MIN_LOT", 0.01),
		MaxLot:                getEnvFloat("MAX_LOT", 100),
		MinStopDistancePoints: getEnvFloat("MIN_STOP_DISTANCE_POINTS", 0),
		BatchConcurrency:      getEnvInt("BATCH_CONCURRENCY", 0),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		CandleCacheTTL:        time.Duration(getEnvInt("CANDLE_CACHE_TTL_SECONDS", 300)) * time.Second,
		PaperSlippageBps:      getEnvFloat("PAPER_SLIPPAGE_BPS", 0),
		PaperLatencyMinMs:     getEnvInt("PAPER_LATENCY_MIN_MS", 0),
		PaperLatencyMaxMs:     getEnvInt("PAPER_LATENCY_MAX_MS", 0),
		UseMockFeed:           getEnvBool("USE_MOCK_FEED", true),
		MockFeedSymbols:       getEnvList("MOCK_FEED_SYMBOLS", "XAUUSD,EURUSD,GBPUSD,USDJPY,BTCUSD"),
		MockFeedInterval:      getEnvMillis("MOCK_FEED_INTERVAL_MS", 1000),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key, def string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, def), ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvMillis(key string, def int) time.Duration {
	ms := getEnvInt(key, def)
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}
