// Package config defines the top-level configuration for the finality engine
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PRECISION_* environment variables.
type Config struct {
	Oracle   OracleConfig   `toml:"oracle"`
	Engine   EngineConfig   `toml:"engine"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OracleConfig holds the confidence-score oracle parameters: the signing key
// that issues scores (dev mode) and the verification parameters every
// deployment needs.
type OracleConfig struct {
	// SignerAddress is the hex address whose signatures the verifier accepts.
	SignerAddress string `toml:"signer_address"`
	// PrivateKey is the hex oracle key. Only needed when this node also
	// issues scores (dev/test deployments).
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	ChainID          int64    `toml:"chain_id"`
	ScoreFreshness   duration `toml:"score_freshness"`
}

// EngineConfig holds the settlement parameters.
type EngineConfig struct {
	// SizeThreshold is the market size above which the long liveness window
	// applies.
	SizeThreshold uint64   `toml:"size_threshold"`
	LivenessShort duration `toml:"liveness_short"`
	LivenessLong  duration `toml:"liveness_long"`
}

// LedgerConfig seeds the in-memory bond ledger at startup.
type LedgerConfig struct {
	// VaultAddress is the escrow vault account. Defaults to a well-known
	// address when empty.
	VaultAddress string `toml:"vault_address"`
	// Seeds maps hex party addresses to opening balances.
	Seeds map[string]uint64 `toml:"seeds"`
}

// PostgresConfig holds PostgreSQL connection parameters for the settlement
// history and audit log.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	// Enabled gates the durable settlement store; disable for ephemeral
	// single-node runs.
	Enabled bool `toml:"enabled"`
}

// RedisConfig holds Redis connection parameters for the nonce replay set,
// signal bus, and sweep lock.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds the settlement archive sweep parameters.
type ArchiveConfig struct {
	// Retention is how long finalized settlements stay out of cold storage.
	Retention duration `toml:"retention"`
	Interval  duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "24h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "24h" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Oracle: OracleConfig{
			ChainID:        137,
			ScoreFreshness: duration{10 * time.Minute},
		},
		Engine: EngineConfig{
			SizeThreshold: 100_000,
			LivenessShort: duration{24 * time.Hour},
			LivenessLong:  duration{48 * time.Hour},
		},
		Ledger: LedgerConfig{
			Seeds: map[string]uint64{},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "precision-settlements",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Retention: duration{30 * 24 * time.Hour},
			Interval:  duration{time.Hour},
		},
		Mode:     "engine",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, archive, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Oracle — the verifier needs a trusted signer; the engine cannot accept
	// proposals without one.
	needsEngine := c.Mode == "engine" || c.Mode == "full"
	if needsEngine {
		if c.Oracle.SignerAddress == "" && c.Oracle.PrivateKey == "" && c.Oracle.EncryptedKeyPath == "" {
			errs = append(errs, "oracle: signer_address must be set (or a local key to derive it from)")
		}
	}
	if c.Oracle.EncryptedKeyPath != "" && c.Oracle.KeyPassword == "" {
		errs = append(errs, "oracle: key_password is required when encrypted_key_path is set")
	}
	if c.Oracle.ChainID <= 0 {
		errs = append(errs, "oracle: chain_id must be positive")
	}
	if c.Oracle.ScoreFreshness.Duration <= 0 {
		errs = append(errs, "oracle: score_freshness must be > 0")
	}

	// Engine windows
	if c.Engine.SizeThreshold == 0 {
		errs = append(errs, "engine: size_threshold must be > 0")
	}
	if c.Engine.LivenessShort.Duration <= 0 {
		errs = append(errs, "engine: liveness_short must be > 0")
	}
	if c.Engine.LivenessLong.Duration < c.Engine.LivenessShort.Duration {
		errs = append(errs, "engine: liveness_long must be >= liveness_short")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 / archive — the archive mode requires both object storage and the
	// durable settlement store to sweep from.
	if c.Mode == "archive" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for archive mode")
	}
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres to be enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
