package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// PurgeInterval controls the expired-session sweep cadence.
	PurgeInterval time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("PULSE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("PULSE_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("PULSE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PULSE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PULSE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PULSE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PULSE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PULSE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PULSE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PULSE_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PULSE_READINESS_REQUIRE_DB", false),

		PurgeInterval: EnvDuration("PULSE_SESSION_PURGE_INTERVAL", 10*time.Minute),

		CORSAllowedOrigins:   EnvStringSlice("PULSE_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("PULSE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("PULSE_CORS_MAX_AGE_SECONDS", 600),
	}
}
