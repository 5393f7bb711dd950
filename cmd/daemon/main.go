package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/bardplayer/bard/internal/artcache"
	"github.com/bardplayer/bard/internal/config"
	"github.com/bardplayer/bard/internal/domain"
	"github.com/bardplayer/bard/internal/engine"
	"github.com/bardplayer/bard/internal/palette"
	"github.com/bardplayer/bard/internal/player"
	"github.com/bardplayer/bard/internal/visualizer"
	"github.com/bardplayer/bard/internal/waveform"
)

// AppOptions is the full dependency graph, shared with the tests so the
// graph stays provably resolvable.
var AppOptions = fx.Options(
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	fx.Provide(
		newLogger,
		config.NewAppConfig,
		func(c *config.AppConfig) domain.Config { return c },

		newPlayerSource,

		artcache.NewCache,
		func(c *artcache.Cache) domain.ArtResolver { return c },
		artcache.NewPrecacher,

		palette.NewExtractor,
		func(e *palette.Extractor) domain.PaletteExtractor { return e },

		waveform.NewProvider,
		func(p *waveform.Provider) domain.WaveformSource { return p },

		visualizer.NewFeed,
		func(f *visualizer.Feed) domain.VisualizerSource { return f },

		engine.NewEngine,
	),

	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(AppOptions)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	<-ctx.Done()

	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func newPlayerSource(logger *zap.Logger) (domain.PlayerSource, error) {
	return player.NewSource(logger)
}

// registerHooks wires the long-running components into the app
// lifecycle: the spectrum feed, the engine tick loop, and the art
// precache sweep.
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	eng *engine.Engine,
	feed *visualizer.Feed,
	precacher *artcache.Precacher,
) {
	var cancelPrecache context.CancelFunc
	precacheDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Bard daemon starting")

			if err := feed.Start(ctx); err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				return err
			}

			sweepCtx, cancel := context.WithCancel(context.Background())
			cancelPrecache = cancel
			go func() {
				defer close(precacheDone)
				if err := precacher.Run(sweepCtx); err != nil {
					logger.Warn("Art precache sweep failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")

			if cancelPrecache != nil {
				cancelPrecache()
				select {
				case <-precacheDone:
				case <-ctx.Done():
				}
			}

			if err := eng.Stop(ctx); err != nil {
				logger.Warn("Engine stop failed", zap.Error(err))
			}
			return feed.Stop(ctx)
		},
	})
}
