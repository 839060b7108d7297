package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	DBUser         string
	DBPass         string // optional
	DBHost         string
	DBPort         string
	DBName         string
	DBMigrate      bool   // apply the embedded schema on start
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int
	LogLevel       string
	LogFormat      string // "json" or "text"
	RabbitMQURL    string // empty disables publishing and the consumer
	BookingLogDir  string // directory of the consumer's booking.log

	Booking BookingConfig
}

// BookingConfig tunes the booking lifecycle.
type BookingConfig struct {
	HoldTTL            time.Duration // how long a seat hold lasts before payment
	CancelCutoff       time.Duration // no cancellation closer than this to the start
	PaymentTimeout     time.Duration // budget for one gateway call
	Currency           string
	SweepInterval      time.Duration // 0 disables the periodic sweep
	GatewayLatency     time.Duration // simulated gateway delay
	BreakerMaxFailures int           // consecutive gateway errors before the breaker opens
	BreakerOpenFor     time.Duration
}

// Load reads a .env file when present and then the environment.  Required
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.
func Load() Config {
	_ = godotenv.Load() // a missing .env is fine; real env vars win
	return Config{
		Env:            envStr("APP_ENV", "dev"),
		Port:           envStr("APP_PORT", "8080"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         envStr("DB_PORT", "3306"),
		DBName:         must("DB_NAME"),
		DBMigrate:      envBool("DB_MIGRATE", true),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     envInt("BCRYPT_COST", 10),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		LogFormat:      os.Getenv("LOG_FORMAT"),
		RabbitMQURL:    os.Getenv("RABBITMQ_URL"),
		BookingLogDir:  envStr("BOOKING_LOG_DIR", "logs"),
		Booking:        LoadBookingConfig(),
	}
}

// LoadBookingConfig reads the booking keys, all of which are optional.
func LoadBookingConfig() BookingConfig {
	c := BookingConfig{
		HoldTTL:            envDur("HOLD_TTL", 15*time.Minute),
		CancelCutoff:       envDur("CANCEL_CUTOFF", 3*time.Hour),
		PaymentTimeout:     envDur("PAYMENT_TIMEOUT", 10*time.Second),
		Currency:           envStr("PAYMENT_CURRENCY", "VND"),
		SweepInterval:      envDur("SWEEP_INTERVAL", time.Minute),
		GatewayLatency:     envDur("PAYMENT_GATEWAY_LATENCY", time.Second),
		BreakerMaxFailures: envInt("PAYMENT_BREAKER_FAILURES", 5),
		BreakerOpenFor:     envDur("PAYMENT_BREAKER_OPEN_FOR", 30*time.Second),
	}
	if c.HoldTTL <= 0 {
		c.HoldTTL = 15 * time.Minute
	}
	if c.CancelCutoff < 0 {
		c.CancelCutoff = 0
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 10 * time.Second
	}
	if c.SweepInterval < 0 {
		c.SweepInterval = 0
	}
	if c.BreakerMaxFailures < 1 {
		c.BreakerMaxFailures = 1
	}
	return c
}

// must retrieves the value of a required environment variable.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
