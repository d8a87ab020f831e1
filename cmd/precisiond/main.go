// Command precisiond is the entry point for the finality engine daemon. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/precisionlabs/precision-engine/internal/app"
	"github.com/precisionlabs/precision-engine/internal/config"
	"github.com/precisionlabs/precision-engine/internal/crypto"
	"github.com/precisionlabs/precision-engine/internal/domain"
	"github.com/precisionlabs/precision-engine/internal/pcs"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	signMarket := flag.String("sign-market", "", "sign a confidence score for this market id and exit (dev mode)")
	signOutcome := flag.String("sign-outcome", "yes", "outcome for -sign-market: yes, no or invalid")
	signScore := flag.Uint("sign-score", 50, "confidence score (0-100) for -sign-market")
	signUncertainty := flag.Uint("sign-uncertainty", 0, "uncertainty (0-100) for -sign-market")
	signNonce := flag.Uint64("sign-nonce", 0, "nonce for -sign-market (defaults to current unix nanos)")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// One-shot score signing needs only the oracle key, not the full
	// dependency graph.
	if *signMarket != "" {
		if err := runSignScore(cfg, *signMarket, *signOutcome, *signScore, *signUncertainty, *signNonce); err != nil {
			logger.Error("score signing failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("finality engine starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	// Create the application.
	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the application.
	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if err == context.Canceled {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("finality engine stopped")
}

// runSignScore signs a confidence score with the configured oracle key and
// prints the complete score object as JSON on stdout.
func runSignScore(cfg *config.Config, market, outcome string, score, uncertainty uint, nonce uint64) error {
	if score > 100 || uncertainty > 100 {
		return fmt.Errorf("score and uncertainty must be in 0-100")
	}
	out := domain.Outcome(outcome)
	if !out.Valid() {
		return fmt.Errorf("outcome %q must be yes, no or invalid", outcome)
	}

	keyHex, err := crypto.LoadSigningKey(crypto.KeySource{
		RawPrivateKey:    cfg.Oracle.PrivateKey,
		EncryptedKeyPath: cfg.Oracle.EncryptedKeyPath,
		KeyPassword:      cfg.Oracle.KeyPassword,
	})
	if err != nil {
		return err
	}
	signer, err := pcs.NewSigner(keyHex, uint64(cfg.Oracle.ChainID))
	if err != nil {
		return err
	}

	if nonce == 0 {
		nonce = uint64(time.Now().UnixNano())
	}
	signed, err := signer.Sign(common.HexToHash(market), out, uint8(score), uint8(uncertainty), nonce, time.Now())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"market_id":   signed.MarketID.Hex(),
		"outcome":     string(signed.Outcome),
		"score":       signed.Score,
		"uncertainty": signed.Uncertainty,
		"chain_id":    signed.ChainID,
		"nonce":       signed.Nonce,
		"issued_at":   signed.IssuedAt,
		"signer":      signer.Address().Hex(),
		"signature":   hexutil.Encode(signed.Signature),
	})
}
