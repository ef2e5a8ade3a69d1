// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a development-friendly default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full configuration surface of the service.
type Config struct {
	Server   Server
	Boundary Boundary
	Issuer   Issuer
	Channel  Channel
	Feed     Feed
	Redis    Redis
	Postgres Postgres
	NATS     NATS
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
}

// Boundary is the static geofence the service gates redemption on.
type Boundary struct {
	Tag          string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// Issuer holds credential issuance policy.
type Issuer struct {
	TTL     time.Duration
	Station string
}

// Channel holds event channel reconnection policy.
type Channel struct {
	ProbeURL    string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
}

// Feed holds notification feed policy.
type Feed struct {
	DedupWindow time.Duration
	Capacity    int
	Retention   time.Duration
}

// Redis holds connection settings for the escalation store. An empty URL
// disables Redis.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Postgres holds the attendance store DSN. An empty URL selects the in-memory
// store.
type Postgres struct {
	URL string
}

// NATS holds the push transport URL. An empty URL disables event publishing.
type NATS struct {
	URL string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          getString("ROLLCALL_ADDR", ":8080"),
			JWTSigningKey: getString("ROLLCALL_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Boundary: Boundary{
			Tag:          getString("ROLLCALL_BOUNDARY_TAG", "default"),
			Latitude:     getFloat("ROLLCALL_BOUNDARY_LAT", 0),
			Longitude:    getFloat("ROLLCALL_BOUNDARY_LON", 0),
			RadiusMeters: getFloat("ROLLCALL_BOUNDARY_RADIUS_M", 25),
		},
		Issuer: Issuer{
			TTL:     getDuration("ROLLCALL_CREDENTIAL_TTL", 5*time.Minute),
			Station: getString("ROLLCALL_STATION", ""),
		},
		Channel: Channel{
			ProbeURL:    getString("ROLLCALL_PROBE_URL", ""),
			BackoffBase: getDuration("ROLLCALL_BACKOFF_BASE", time.Second),
			BackoffCap:  getDuration("ROLLCALL_BACKOFF_CAP", 30*time.Second),
			MaxAttempts: getInt("ROLLCALL_BACKOFF_MAX_ATTEMPTS", 5),
		},
		Feed: Feed{
			DedupWindow: getDuration("ROLLCALL_DEDUP_WINDOW", 5*time.Second),
			Capacity:    getInt("ROLLCALL_FEED_CAPACITY", 50),
			Retention:   getDuration("ROLLCALL_FEED_RETENTION", 24*time.Hour),
		},
		Redis: Redis{
			URL:          getString("ROLLCALL_REDIS_URL", ""),
			PoolSize:     getInt("ROLLCALL_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("ROLLCALL_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("ROLLCALL_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("ROLLCALL_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("ROLLCALL_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: Postgres{
			URL: getString("ROLLCALL_POSTGRES_URL", ""),
		},
		NATS: NATS{
			URL: getString("ROLLCALL_NATS_URL", ""),
		},
	}
}

// Validate rejects configurations that cannot produce a working service.
func (c Config) Validate() error {
	if c.Boundary.RadiusMeters <= 0 {
		return fmt.Errorf("boundary radius must be positive, got %v", c.Boundary.RadiusMeters)
	}
	if c.Issuer.TTL <= 0 {
		return fmt.Errorf("credential TTL must be positive, got %v", c.Issuer.TTL)
	}
	if c.Channel.MaxAttempts <= 0 {
		return fmt.Errorf("backoff max attempts must be positive, got %d", c.Channel.MaxAttempts)
	}
	return nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
