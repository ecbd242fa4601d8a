// Package config holds the per-tenant SDK configuration and its identity
// fingerprint.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config describes one tenant's connection to a Cedros backend.
//
// Fields fall into two groups: network identity (server URL, public key,
// cluster, token mint, endpoint overrides), which feeds Fingerprint, and
// everything else (UI hints, resilience tuning), which never does.
type Config struct {
	// Network identity
	ServerURL         string
	PublicKey         string            // tenant API public key
	Cluster           string            // e.g. "mainnet-beta", "devnet"
	TokenMint         string            // stablecoin mint accepted by the paywall
	EndpointOverrides map[string]string // path overrides, e.g. "health" → "/custom-health"

	// Card rail
	StripePublishableKey string

	// UI-only fields. These MUST NOT affect the fingerprint.
	Theme       string
	Locale      string
	ButtonLabel string

	// Logging
	LogLevel  string
	LogFormat string

	// Resilience tuning (per manager instance)
	RateBurst        int
	RateRefillPerSec float64
	BreakerThreshold int
	BreakerCooldown  time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultCluster          = "mainnet-beta"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultRateBurst        = 10
	DefaultRateRefill       = 1.0
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 10 * time.Second
	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 200 * time.Millisecond
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		ServerURL:            os.Getenv("CEDROS_SERVER_URL"),
		PublicKey:            os.Getenv("CEDROS_PUBLIC_KEY"),
		Cluster:              getEnv("CEDROS_CLUSTER", DefaultCluster),
		TokenMint:            os.Getenv("CEDROS_TOKEN_MINT"),
		StripePublishableKey: os.Getenv("CEDROS_STRIPE_PUBLISHABLE_KEY"),
		Theme:                os.Getenv("CEDROS_THEME"),
		Locale:               os.Getenv("CEDROS_LOCALE"),
		LogLevel:             getEnv("CEDROS_LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("CEDROS_LOG_FORMAT", DefaultLogFormat),
		RateBurst:            getEnvInt("CEDROS_RATE_BURST", DefaultRateBurst),
		RateRefillPerSec:     getEnvFloat("CEDROS_RATE_REFILL_PER_SEC", DefaultRateRefill),
		BreakerThreshold:     getEnvInt("CEDROS_BREAKER_THRESHOLD", DefaultBreakerThreshold),
		BreakerCooldown:      getEnvDuration("CEDROS_BREAKER_COOLDOWN", DefaultBreakerCooldown),
		RetryMaxAttempts:     getEnvInt("CEDROS_RETRY_MAX_ATTEMPTS", DefaultRetryMaxAttempts),
		RetryBaseDelay:       getEnvDuration("CEDROS_RETRY_BASE_DELAY", DefaultRetryBaseDelay),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("CEDROS_SERVER_URL is required")
	}
	if strings.Contains(c.ServerURL, " ") {
		return fmt.Errorf("CEDROS_SERVER_URL must not contain spaces")
	}
	return nil
}

// Normalized returns a copy with defaults filled in for zero-valued tuning
// fields. Identity fields are left untouched.
func (c *Config) Normalized() *Config {
	out := *c
	if out.Cluster == "" {
		out.Cluster = DefaultCluster
	}
	if out.RateBurst <= 0 {
		out.RateBurst = DefaultRateBurst
	}
	if out.RateRefillPerSec <= 0 {
		out.RateRefillPerSec = DefaultRateRefill
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = DefaultBreakerThreshold
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = DefaultBreakerCooldown
	}
	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if out.RetryBaseDelay <= 0 {
		out.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if out.LogLevel == "" {
		out.LogLevel = DefaultLogLevel
	}
	return &out
}

// Fingerprint derives the tenant identity used as the manager-cache key.
// It covers exactly the network-identity fields; changing a theme or a retry
// knob never changes the fingerprint. The computation is pure and
// order-independent: endpoint overrides are folded in sorted key order.
func (c *Config) Fingerprint() string {
	h := sha256.New()

	writeField := func(name, value string) {
		fmt.Fprintf(h, "%s=%s\n", name, value)
	}

	writeField("serverURL", strings.TrimRight(c.ServerURL, "/"))
	writeField("publicKey", c.PublicKey)
	cluster := c.Cluster
	if cluster == "" {
		cluster = DefaultCluster
	}
	writeField("cluster", cluster)
	writeField("tokenMint", c.TokenMint)
	writeField("stripeKey", c.StripePublishableKey)

	keys := make([]string, 0, len(c.EndpointOverrides))
	for k := range c.EndpointOverrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField("endpoint."+k, c.EndpointOverrides[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
