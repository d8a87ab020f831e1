package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// EngineMode runs the settlement engine with its recorder loop. The engine
// itself is driven by callers embedding this process; the mode keeps the
// durable sinks draining until shutdown.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Recorder.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("settlement recorder: %w", err)
	})

	if deps.Signer != nil {
		a.logger.InfoContext(ctx, "local oracle signer active",
			slog.String("address", deps.Signer.Address().Hex()),
		)
	}

	return g.Wait()
}

// ArchiveMode runs only the settlement archive sweeper. Deploy this mode as a
// sidecar when the engine nodes should not carry the S3 dependency.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode requires s3 and postgres to be enabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := deps.Archiver.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("settlement archiver: %w", err)
	})
	return g.Wait()
}

// FullMode runs the engine, the recorder, and the archive sweeper in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Recorder.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("settlement recorder: %w", err)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			err := deps.Archiver.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("settlement archiver: %w", err)
		})
	} else {
		a.logger.InfoContext(ctx, "archiver not wired, skipping archive sweep")
	}

	if deps.Signer != nil {
		a.logger.InfoContext(ctx, "local oracle signer active",
			slog.String("address", deps.Signer.Address().Hex()),
		)
	}

	return g.Wait()
}
