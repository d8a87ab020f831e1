package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	out.Oracle = cfg.Oracle
	redact(&out.Oracle.PrivateKey)
	redact(&out.Oracle.KeyPassword)

	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Copy the seed map so mutations to the redacted copy do not affect the
	// original.
	if cfg.Ledger.Seeds != nil {
		out.Ledger.Seeds = make(map[string]uint64, len(cfg.Ledger.Seeds))
		for k, v := range cfg.Ledger.Seeds {
			out.Ledger.Seeds[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
