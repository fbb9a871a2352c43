package config // package config loads engine configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time parses duration values
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  Durations that shape the hold lifecycle
// (TTL, grace window, backoff bounds) are deliberately configuration and
// not constants: the authority, not this engine, decides how long a hold
// lives, and deployments tune the reconnect behaviour to their network.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // local control API port

	JWTSecret string // secret used to verify control API bearer tokens
	UserID    string // user this viewing context acts for (dev fallback when no CHANNEL_TOKEN)

	ChannelToken string // bearer credential for the push channel handshake (optional; minted in dev)

	HoldTTL           time.Duration // how long a hold lives without renewal
	GraceWindow       time.Duration // post-reconnect window protecting just-acquired holds from stale snapshots
	HeartbeatInterval time.Duration // push channel health check interval
	CommandTimeout    time.Duration // per-command reply timeout on the push channel
	ReconnectInitial  time.Duration // first reconnect backoff delay
	ReconnectMax      time.Duration // backoff ceiling
	RefreshInterval   time.Duration // periodic snapshot refresh while on the fallback path

	SessionStore   string // "redis", "mysql" or "memory"
	GatewayBaseURL string // base URL of the fallback REST gateway
	AMQPURL        string // RabbitMQ URL for the booking lifecycle feed (empty disables it)

	DBUser string // MySQL username (only used when SessionStore == "mysql")
	DBPass string // MySQL password (optional)
	DBHost string // MySQL host
	DBPort string // MySQL port
	DBName string // MySQL database name
}

// Load reads configuration values from environment variables and
// returns a Config.  Required variables are enforced by must() and
// missing values cause the program to exit with a fatal log message.
// The MySQL variables are validated lazily because they are only
// needed when the MySQL session store is selected.
func Load() Config {
	cfg := Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		JWTSecret: must("JWT_SECRET"),
		UserID:    os.Getenv("USER_ID"),

		ChannelToken: os.Getenv("CHANNEL_TOKEN"),

		HoldTTL:           envDur("HOLD_TTL", 15*time.Minute),
		GraceWindow:       envDur("RECONNECT_GRACE_WINDOW", 10*time.Second),
		HeartbeatInterval: envDur("HEARTBEAT_INTERVAL", 15*time.Second),
		CommandTimeout:    envDur("COMMAND_TIMEOUT", 5*time.Second),
		ReconnectInitial:  envDur("RECONNECT_INITIAL", time.Second),
		ReconnectMax:      envDur("RECONNECT_MAX", 30*time.Second),
		RefreshInterval:   envDur("FALLBACK_REFRESH_INTERVAL", 30*time.Second),

		SessionStore:   getenv("SESSION_STORE", "redis"),
		GatewayBaseURL: must("GATEWAY_BASE_URL"),
		AMQPURL:        os.Getenv("RABBITMQ_URL"),

		DBUser: os.Getenv("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: os.Getenv("DB_HOST"),
		DBPort: os.Getenv("DB_PORT"),
		DBName: os.Getenv("DB_NAME"),
	}
	if cfg.SessionStore == "mysql" {
		if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBPort == "" || cfg.DBName == "" {
			log.Fatal("SESSION_STORE=mysql requires DB_USER, DB_HOST, DB_PORT and DB_NAME")
		}
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// getenv returns the value of an environment variable or a default.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDur parses a duration environment variable, falling back to the
// provided default when the variable is unset or malformed.
func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return def
}

// envInt parses an integer environment variable with a default.  Kept
// alongside envDur for the Redis DB number in redis.go.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}
