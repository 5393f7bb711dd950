// Package engine orchestrates the media-sync pipeline: it polls the
// player, tracks generations across track changes, fans heavy work out
// to the other components, and exposes their latest results as
// queryable snapshots.
package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bardplayer/bard/internal/domain"
	"github.com/bardplayer/bard/internal/lyrics"
	"github.com/bardplayer/bard/internal/syncclock"
)

// Engine drives one tick loop. Every background result carries the
// generation of the track it was computed for; results arriving after a
// newer track was selected are discarded, not applied.
type Engine struct {
	logger     *zap.Logger
	cfg        domain.Config
	source     domain.PlayerSource
	art        domain.ArtResolver
	palette    domain.PaletteExtractor
	waveform   domain.WaveformSource
	visualizer domain.VisualizerSource
	clock      *syncclock.Clock

	mu          sync.RWMutex
	generation  uint64
	track       domain.Track
	gradient    domain.GradientDescriptor
	lyricTrack  *domain.LyricTrack
	waveformRes domain.WaveformResult

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates the orchestrator.
func NewEngine(
	logger *zap.Logger,
	cfg domain.Config,
	source domain.PlayerSource,
	art domain.ArtResolver,
	palette domain.PaletteExtractor,
	waveform domain.WaveformSource,
	visualizer domain.VisualizerSource,
) *Engine {
	e := &Engine{
		logger:     logger,
		cfg:        cfg,
		source:     source,
		art:        art,
		palette:    palette,
		waveform:   waveform,
		visualizer: visualizer,
		clock:      syncclock.NewClock(),
	}
	// a valid low-contrast gradient before any art has resolved
	e.gradient = palette.Extract(nil)
	return e
}

// Start launches the tick loop. Non-blocking.
func (e *Engine) Start(_ context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	e.logger.Info("Engine starting",
		zap.Int("tickMs", e.cfg.TickInterval()))

	go e.runLoop(runCtx)
	return nil
}

// Stop terminates the tick loop and closes the player feed.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.source.Close()
}

func (e *Engine) runLoop(ctx context.Context) {
	defer close(e.done)

	interval := time.Duration(e.cfg.TickInterval()) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick polls the player once and applies the snapshot.
func (e *Engine) tick(ctx context.Context) {
	np, err := e.source.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("Player poll failed", zap.Error(err))
		}
		return
	}
	e.apply(ctx, np)
}

// apply processes one playback snapshot: detect track changes, keep the
// waveform state fresh, and advance the sync clock.
func (e *Engine) apply(ctx context.Context, np domain.NowPlaying) {
	e.mu.RLock()
	changed := np.Track.Path != e.track.Path
	e.mu.RUnlock()

	// apply runs on the tick goroutine only, so the change check stays
	// valid while the LRC file is parsed outside the lock
	var lt *domain.LyricTrack
	if changed && np.Track.Path != "" {
		lt = e.loadLyrics(np.Track)
	}

	e.mu.Lock()
	if changed {
		e.trackChangedLocked(ctx, np.Track)
		e.lyricTrack = lt
	}
	gen := e.generation
	track := e.track
	lyricTrack := e.lyricTrack
	e.mu.Unlock()

	if track.Path != "" {
		res := e.waveform.Get(track)
		e.mu.Lock()
		e.waveformRes = res
		e.mu.Unlock()
	}

	e.clock.Tick(gen, lyricTrack, np.Position)
}

// trackChangedLocked starts a new generation for the selected track.
// Caller holds e.mu.
func (e *Engine) trackChangedLocked(ctx context.Context, track domain.Track) {
	e.generation++
	gen := e.generation
	e.track = track
	e.lyricTrack = nil
	e.waveformRes = domain.WaveformResult{}

	if track.Path == "" {
		e.gradient = e.palette.Extract(nil)
		return
	}

	e.logger.Info("Track changed",
		zap.Uint64("generation", gen),
		zap.String("title", track.Title),
		zap.String("artist", track.Artist))

	go e.resolveGradient(ctx, gen, track)
}

// loadLyrics reads the LRC file for the track; a missing or empty file
// simply means no synced lyrics.
func (e *Engine) loadLyrics(track domain.Track) *domain.LyricTrack {
	path := lyrics.PathFor(e.cfg.LyricsDir(), track.Artist, track.Title)
	lt, err := lyrics.ParseFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.logger.Debug("No usable lyrics", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	e.logger.Debug("Lyrics loaded",
		zap.String("path", path), zap.Int("lines", len(lt.Lines)))
	return lt
}

// resolveGradient runs on a background goroutine: resolve art, extract
// the palette, and apply the result unless the track moved on meanwhile.
func (e *Engine) resolveGradient(ctx context.Context, gen uint64, track domain.Track) {
	art, err := e.art.Resolve(ctx, track)
	if err != nil && !errors.Is(err, domain.ErrArtNotFound) {
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("Art resolution failed",
			zap.String("track", track.Path), zap.Error(err))
	}

	// a nil art still yields a valid fallback descriptor
	grad := e.palette.Extract(art)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		e.logger.Debug("Discarding stale gradient",
			zap.Uint64("resultGeneration", gen),
			zap.Uint64("currentGeneration", e.generation))
		return
	}
	e.gradient = grad
}

// Gradient returns the latest gradient descriptor.
func (e *Engine) Gradient() domain.GradientDescriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gradient
}

// Waveform returns the latest waveform state for the current track.
func (e *Engine) Waveform() domain.WaveformResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.waveformRes
}

// Frame returns the latest spectrum frame.
func (e *Engine) Frame() domain.VisualizerFrame {
	return e.visualizer.Frame()
}

// VisualizerState reports the spectrum feed lifecycle state.
func (e *Engine) VisualizerState() domain.VisualizerFeedState {
	return e.visualizer.State()
}

// Sync returns the latest (lyric index, waveform cursor) snapshot.
func (e *Engine) Sync() domain.SyncSnapshot {
	return e.clock.Snapshot()
}

// Current returns the track the engine currently follows.
func (e *Engine) Current() domain.Track {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.track
}
