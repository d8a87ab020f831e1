package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/precisionlabs/precision-engine/internal/blob/s3"
	"github.com/precisionlabs/precision-engine/internal/cache/redis"
	"github.com/precisionlabs/precision-engine/internal/config"
	"github.com/precisionlabs/precision-engine/internal/crypto"
	"github.com/precisionlabs/precision-engine/internal/domain"
	"github.com/precisionlabs/precision-engine/internal/engine"
	"github.com/precisionlabs/precision-engine/internal/escrow"
	"github.com/precisionlabs/precision-engine/internal/ledger"
	"github.com/precisionlabs/precision-engine/internal/pcs"
	"github.com/precisionlabs/precision-engine/internal/service"
	"github.com/precisionlabs/precision-engine/internal/store/postgres"
)

// defaultVault is the escrow vault account used when ledger.vault_address is
// not configured.
var defaultVault = common.HexToAddress("0x00000000000000000000000000000000000e5c00")

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core settlement machinery.
	Ledger   *ledger.Ledger
	Escrow   *escrow.Escrow
	Verifier *pcs.Verifier
	Engine   *engine.FinalityEngine
	Dispute  *engine.DisputeModule

	// Signer is non-nil only when a local oracle key is configured (dev
	// scoring mode).
	Signer *pcs.Signer

	// Durable sinks. Any of these may be nil depending on configuration.
	MarketStore domain.MarketStore
	AuditStore  domain.AuditStore
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	BlobWriter  domain.BlobWriter

	// Services built on the sinks.
	Recorder *service.SettlementRecorder
	Archiver *service.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL settlement history ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewSettlementStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis: nonce replay set, signal bus, sweep lock ---
	var nonces domain.NonceStore = pcs.NewMemoryNonceStore()
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		nonces = redis.NewNonceStore(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, 0)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 settlement archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Oracle: local signer (optional) and score verifier ---
	if cfg.Oracle.PrivateKey != "" || cfg.Oracle.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadSigningKey(crypto.KeySource{
			RawPrivateKey:    cfg.Oracle.PrivateKey,
			EncryptedKeyPath: cfg.Oracle.EncryptedKeyPath,
			KeyPassword:      cfg.Oracle.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: oracle key: %w", err)
		}
		signer, err := pcs.NewSigner(keyHex, uint64(cfg.Oracle.ChainID))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: oracle signer: %w", err)
		}
		deps.Signer = signer
	}

	signerAddr, err := resolveSignerAddress(cfg, deps.Signer)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Verifier = pcs.NewVerifier(signerAddr, uint64(cfg.Oracle.ChainID),
		cfg.Oracle.ScoreFreshness.Duration, nonces, logger)

	// --- Ledger, escrow, engine, dispute module ---
	deps.Ledger = ledger.New()
	for addr, balance := range cfg.Ledger.Seeds {
		if err := deps.Ledger.Mint(common.HexToAddress(addr), balance); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: seed ledger %s: %w", addr, err)
		}
	}

	vault := defaultVault
	if cfg.Ledger.VaultAddress != "" {
		vault = common.HexToAddress(cfg.Ledger.VaultAddress)
	}
	deps.Escrow = escrow.New(deps.Ledger, vault)

	deps.Recorder = service.NewSettlementRecorder(deps.MarketStore, deps.AuditStore, deps.SignalBus, logger)

	engCfg := engine.Config{
		SizeThreshold: cfg.Engine.SizeThreshold,
		LivenessShort: cfg.Engine.LivenessShort.Duration,
		LivenessLong:  cfg.Engine.LivenessLong.Duration,
	}
	deps.Engine = engine.New(engCfg, deps.Escrow, deps.Verifier, deps.Recorder, logger)
	deps.Dispute = engine.NewDisputeModule(deps.Engine, deps.Escrow, logger)

	// --- Settlement archiver ---
	if deps.BlobWriter != nil && deps.MarketStore != nil {
		deps.Archiver = service.NewArchiver(deps.MarketStore, deps.BlobWriter,
			deps.LockManager, deps.AuditStore,
			cfg.Archive.Retention.Duration, cfg.Archive.Interval.Duration, logger)
	}

	return deps, cleanup, nil
}

// resolveSignerAddress returns the address the verifier trusts: the configured
// signer_address, or the address derived from a local oracle key.
func resolveSignerAddress(cfg *config.Config, signer *pcs.Signer) (common.Address, error) {
	if cfg.Oracle.SignerAddress != "" {
		if !common.IsHexAddress(cfg.Oracle.SignerAddress) {
			return common.Address{}, fmt.Errorf("wire: oracle signer_address %q is not a hex address", cfg.Oracle.SignerAddress)
		}
		return common.HexToAddress(cfg.Oracle.SignerAddress), nil
	}
	if signer != nil {
		return signer.Address(), nil
	}
	return common.Address{}, fmt.Errorf("wire: no oracle signer address available")
}
