package session

import (
	"crypto/subtle"
	"os"
	"strconv"
	"time"
)

const minSecretBytes = 32

// Config defines runtime configuration for the session subsystem.
//
// The two signing secrets are independent on purpose: compromise of the
// access secret must not allow minting refresh assertions, and vice versa.
type Config struct {
	// Issuer is the value set in the "iss" claim of issued assertions.
	Issuer string

	// AccessTTL is the lifetime of access assertions.
	AccessTTL time.Duration

	// RefreshTTL is the lifetime of refresh assertions. Expiry is converted
	// to an absolute timestamp once, at issuance.
	RefreshTTL time.Duration

	// ClockSkew is the allowed skew during verification.
	ClockSkew time.Duration

	// AccessSecret and RefreshSecret sign the two assertion kinds.
	AccessSecret  []byte
	RefreshSecret []byte

	// MaxSessionsPerPrincipal bounds concurrent refresh records per
	// principal; at the cap the oldest live record is evicted. This also
	// bounds the per-candidate hash comparison in FindValidByPlaintext.
	MaxSessionsPerPrincipal int

	// RefreshHashCost is the bcrypt work factor for stored refresh hashes.
	RefreshHashCost int
}

// DefaultConfig returns defaults suitable for development. Secrets must
// still be provided.
func DefaultConfig() Config {
	return Config{
		Issuer:                  "pulse",
		AccessTTL:               15 * time.Minute,
		RefreshTTL:              7 * 24 * time.Hour,
		ClockSkew:               30 * time.Second,
		MaxSessionsPerPrincipal: 10,
		RefreshHashCost:         10,
	}
}

// Validate checks config invariants.
func (c Config) Validate() error {
	if c.Issuer == "" || c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if len(c.AccessSecret) < minSecretBytes || len(c.RefreshSecret) < minSecretBytes {
		return ErrConfig
	}
	if len(c.AccessSecret) == len(c.RefreshSecret) &&
		subtle.ConstantTimeCompare(c.AccessSecret, c.RefreshSecret) == 1 {
		return ErrConfig
	}
	if c.MaxSessionsPerPrincipal <= 0 {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - PULSE_AUTH_ACCESS_SECRET  (>= 32 bytes)
//   - PULSE_AUTH_REFRESH_SECRET (>= 32 bytes, distinct from the access secret)
//
// Optional (durations are Go duration strings):
//   - PULSE_AUTH_ISSUER
//   - PULSE_AUTH_ACCESS_TTL
//   - PULSE_AUTH_REFRESH_TTL
//   - PULSE_AUTH_CLOCK_SKEW
//   - PULSE_AUTH_MAX_SESSIONS
//   - PULSE_AUTH_REFRESH_HASH_COST
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PULSE_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("PULSE_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTTL = d
	}
	if v := os.Getenv("PULSE_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}
	if v := os.Getenv("PULSE_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}
	if v := os.Getenv("PULSE_AUTH_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return Config{}, ErrConfig
		}
		cfg.MaxSessionsPerPrincipal = n
	}
	if v := os.Getenv("PULSE_AUTH_REFRESH_HASH_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 4 || n > 16 {
			return Config{}, ErrConfig
		}
		cfg.RefreshHashCost = n
	}

	cfg.AccessSecret = []byte(os.Getenv("PULSE_AUTH_ACCESS_SECRET"))
	cfg.RefreshSecret = []byte(os.Getenv("PULSE_AUTH_REFRESH_SECRET"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
