package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PRECISION_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PRECISION_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Oracle ──
	setStr(&cfg.Oracle.SignerAddress, "PRECISION_ORACLE_SIGNER_ADDRESS")
	setStr(&cfg.Oracle.PrivateKey, "PRECISION_ORACLE_PRIVATE_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "PRECISION_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "PRECISION_ORACLE_KEY_PASSWORD")
	setInt64(&cfg.Oracle.ChainID, "PRECISION_ORACLE_CHAIN_ID")
	setDuration(&cfg.Oracle.ScoreFreshness, "PRECISION_ORACLE_SCORE_FRESHNESS")

	// ── Engine ──
	setUint64(&cfg.Engine.SizeThreshold, "PRECISION_ENGINE_SIZE_THRESHOLD")
	setDuration(&cfg.Engine.LivenessShort, "PRECISION_ENGINE_LIVENESS_SHORT")
	setDuration(&cfg.Engine.LivenessLong, "PRECISION_ENGINE_LIVENESS_LONG")

	// ── Ledger ──
	setStr(&cfg.Ledger.VaultAddress, "PRECISION_LEDGER_VAULT_ADDRESS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PRECISION_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PRECISION_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PRECISION_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRECISION_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRECISION_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRECISION_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRECISION_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRECISION_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PRECISION_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PRECISION_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PRECISION_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PRECISION_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRECISION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRECISION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRECISION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRECISION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRECISION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PRECISION_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PRECISION_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRECISION_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRECISION_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRECISION_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PRECISION_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRECISION_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRECISION_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRECISION_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setDuration(&cfg.Archive.Retention, "PRECISION_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.Interval, "PRECISION_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRECISION_MODE")
	setStr(&cfg.LogLevel, "PRECISION_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
