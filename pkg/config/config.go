package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, loaded from environment variables
// with an optional .env file.
type Config struct {
	// Venue and pairs
	Venue     string
	Pairs     []string
	DryRun    bool
	APIKey    string
	APISecret string
	StreamURL string

	// Simulation
	FeeRate float64

	// Balances
	InitialQuote float64
	InitialBase  float64

	// Storage
	DBPath        string
	CleanupDays   int
	LimitsPath    string // optional YAML with venue ceiling overrides

	// HTTP API
	Port string

	// Retry
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Breaker
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	MaxLossPercent   float64
	MaxLossAbsolute  float64

	// Validation
	MaxPositionSizePercent float64
	MinOrderValue          float64
	MinBalancePerPair      float64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables")
	}

	cfg := &Config{
		Venue:     getEnv("VENUE", "kraken"),
		Pairs:     splitAndTrim(getEnv("PAIRS", "BTC/USD")),
		DryRun:    getEnvBool("DRY_RUN", true),
		APIKey:    getEnv("VENUE_API_KEY", ""),
		APISecret: getEnv("VENUE_API_SECRET", ""),
		StreamURL: getEnv("ORDER_STREAM_URL", ""),

		FeeRate: getEnvFloat("FEE_RATE", 0.0026),

		InitialQuote: getEnvFloat("INITIAL_QUOTE_BALANCE", 1000),
		InitialBase:  getEnvFloat("INITIAL_BASE_BALANCE", 0),

		DBPath:      getEnv("DB_PATH", "data/gridcore.db"),
		CleanupDays: getEnvInt("ORDER_RETENTION_DAYS", 30),
		LimitsPath:  getEnv("RATE_LIMITS_FILE", ""),

		Port: getEnv("PORT", "8085"),

		MaxRetries:     getEnvInt("ORDER_MAX_RETRIES", 3),
		RetryBaseDelay: getEnvDuration("ORDER_RETRY_BASE_DELAY", 5*time.Second),
		RetryMaxDelay:  getEnvDuration("ORDER_RETRY_MAX_DELAY", 60*time.Second),

		FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
		RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		MaxLossPercent:   getEnvFloat("MAX_LOSS_PERCENT", 10),
		MaxLossAbsolute:  getEnvFloat("MAX_LOSS_ABSOLUTE", 0),

		MaxPositionSizePercent: getEnvFloat("MAX_POSITION_SIZE_PERCENT", 20),
		MinOrderValue:          getEnvFloat("MIN_ORDER_VALUE", 10),
		MinBalancePerPair:      getEnvFloat("MIN_BALANCE_PER_PAIR", 100),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config: PAIRS must list at least one trading pair")
	}
	if !c.DryRun && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("config: live mode requires VENUE_API_KEY and VENUE_API_SECRET")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: ORDER_MAX_RETRIES must not be negative")
	}
	if c.InitialQuote < 0 || c.InitialBase < 0 {
		return fmt.Errorf("config: initial balances must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid float for %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid int for %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: invalid bool for %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid duration for %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
