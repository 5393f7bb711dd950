package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bardplayer/bard/internal/domain"
)

type testCfg struct {
	lyricsDir string
}

func (c testCfg) MusicDir() string             { return "" }
func (c testCfg) LyricsDir() string            { return c.lyricsDir }
func (c testCfg) CacheDir() string             { return "" }
func (c testCfg) TickInterval() int            { return 10 }
func (c testCfg) PrecacheInterval() int        { return 80 }
func (c testCfg) WaveformBucketCount() int     { return 70 }
func (c testCfg) FFmpegPath() string           { return "ffmpeg" }
func (c testCfg) VisualizerBarCount() int      { return 24 }
func (c testCfg) VisualizerFramerate() int     { return 60 }
func (c testCfg) VisualizerMaxRestarts() int   { return 3 }
func (c testCfg) VisualizerRestartWindow() int { return 30 }
func (c testCfg) CavaPath() string             { return "cava" }

type fakeSource struct {
	mu     sync.Mutex
	np     domain.NowPlaying
	closed bool
}

func (s *fakeSource) Poll(context.Context) (domain.NowPlaying, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.np, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeResolver blocks each Resolve until its track's gate is released
type fakeResolver struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{gates: make(map[string]chan struct{})}
}

func (r *fakeResolver) gate(path string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gates[path]; !ok {
		r.gates[path] = make(chan struct{})
	}
	return r.gates[path]
}

func (r *fakeResolver) release(path string) { close(r.gate(path)) }

func (r *fakeResolver) Resolve(ctx context.Context, track domain.Track) (*domain.AlbumArt, error) {
	select {
	case <-r.gate(track.Path):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &domain.AlbumArt{Source: domain.ArtFromFolder, CachePath: track.Path}, nil
}

// fakePalette encodes the resolved track into the accent channel so
// tests can tell which track's art produced the gradient
type fakePalette struct{}

func (fakePalette) Extract(art *domain.AlbumArt) domain.GradientDescriptor {
	if art == nil {
		return domain.GradientDescriptor{}
	}
	return domain.GradientDescriptor{Accent: domain.RGB{R: float64(len(art.CachePath))}}
}

type fakeWaveform struct{ res domain.WaveformResult }

func (w fakeWaveform) Get(domain.Track) domain.WaveformResult { return w.res }

type fakeVisualizer struct{}

func (fakeVisualizer) Frame() domain.VisualizerFrame {
	return domain.VisualizerFrame{Bars: []byte{1, 2, 3}}
}
func (fakeVisualizer) State() domain.VisualizerFeedState { return domain.FeedRunning }

func playing(path string, elapsed, duration float64) domain.NowPlaying {
	return domain.NowPlaying{
		Track: domain.Track{Path: path, Title: "Title", Artist: "Artist"},
		Position: domain.PlaybackPosition{
			Elapsed:  time.Duration(elapsed * float64(time.Second)),
			Duration: time.Duration(duration * float64(time.Second)),
			State:    domain.StatePlaying,
		},
	}
}

func newTestEngine(t *testing.T, resolver domain.ArtResolver, wf domain.WaveformSource) *Engine {
	t.Helper()
	return NewEngine(
		zap.NewNop(),
		testCfg{lyricsDir: t.TempDir()},
		&fakeSource{},
		resolver,
		fakePalette{},
		wf,
		fakeVisualizer{},
	)
}

func awaitAccent(t *testing.T, e *Engine, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Gradient().Accent.R == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, want, e.Gradient().Accent.R)
}

func TestApplyResolvesGradient(t *testing.T) {
	resolver := newFakeResolver()
	e := newTestEngine(t, resolver, fakeWaveform{})

	resolver.release("/a.mp3")
	e.apply(context.Background(), playing("/a.mp3", 1, 100))

	awaitAccent(t, e, float64(len("/a.mp3")))
	require.Equal(t, "/a.mp3", e.Current().Path)
}

// A gradient computed for an old track must never overwrite the state
// of a newer one, no matter when it arrives.
func TestStaleGradientDiscarded(t *testing.T) {
	resolver := newFakeResolver()
	e := newTestEngine(t, resolver, fakeWaveform{})

	e.apply(context.Background(), playing("/first.mp3", 1, 100))
	e.apply(context.Background(), playing("/second-track.mp3", 1, 100))

	resolver.release("/second-track.mp3")
	awaitAccent(t, e, float64(len("/second-track.mp3")))

	// the first track's result arrives late and must be dropped
	resolver.release("/first.mp3")
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, float64(len("/second-track.mp3")), e.Gradient().Accent.R)
}

func TestSyncSnapshot(t *testing.T) {
	resolver := newFakeResolver()
	cfg := testCfg{lyricsDir: t.TempDir()}
	e := NewEngine(zap.NewNop(), cfg, &fakeSource{}, resolver, fakePalette{}, fakeWaveform{}, fakeVisualizer{})

	lrc := "[00:12.50]A\n[00:18.20]B\n[00:23.40]C\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.lyricsDir, "Artist - Title.lrc"), []byte(lrc), 0o644))

	e.apply(context.Background(), playing("/x.mp3", 15.0, 100))
	snap := e.Sync()
	require.Equal(t, uint64(1), snap.Generation)
	require.Equal(t, 0, snap.LyricIndex)
	require.InDelta(t, 0.15, snap.WaveformCursor, 1e-9)

	e.apply(context.Background(), playing("/x.mp3", 19.0, 100))
	snap = e.Sync()
	require.Equal(t, 1, snap.LyricIndex)
	require.InDelta(t, 0.19, snap.WaveformCursor, 1e-9)

	// a new track starts a new generation
	e.apply(context.Background(), playing("/y.mp3", 0, 100))
	require.Equal(t, uint64(2), e.Sync().Generation)
}

// The LRC file is read once, on the track-change tick; steady ticks for
// the same track reuse the parsed lines.
func TestLyricsReadOncePerTrack(t *testing.T) {
	resolver := newFakeResolver()
	cfg := testCfg{lyricsDir: t.TempDir()}
	e := NewEngine(zap.NewNop(), cfg, &fakeSource{}, resolver, fakePalette{}, fakeWaveform{}, fakeVisualizer{})

	lrcPath := filepath.Join(cfg.lyricsDir, "Artist - Title.lrc")
	require.NoError(t, os.WriteFile(lrcPath, []byte("[00:12.50]A\n[00:18.20]B\n"), 0o644))

	e.apply(context.Background(), playing("/x.mp3", 15.0, 100))
	require.Equal(t, 0, e.Sync().LyricIndex)

	require.NoError(t, os.Remove(lrcPath))
	e.apply(context.Background(), playing("/x.mp3", 19.0, 100))
	require.Equal(t, 1, e.Sync().LyricIndex)
}

func TestWaveformStateFollowsTrack(t *testing.T) {
	resolver := newFakeResolver()
	peaks := &domain.WaveformPeaks{Peaks: []domain.PeakPair{{Left: 0.5, Right: 0.5}}}
	e := newTestEngine(t, resolver, fakeWaveform{res: domain.WaveformResult{State: domain.WaveformReady, Peaks: peaks}})

	require.Equal(t, domain.WaveformState(""), e.Waveform().State)

	e.apply(context.Background(), playing("/a.mp3", 1, 100))
	require.Equal(t, domain.WaveformReady, e.Waveform().State)
	require.Equal(t, peaks, e.Waveform().Peaks)
}

func TestNoTrackClearsState(t *testing.T) {
	resolver := newFakeResolver()
	resolver.release("/a.mp3")
	e := newTestEngine(t, resolver, fakeWaveform{res: domain.WaveformResult{State: domain.WaveformReady}})

	e.apply(context.Background(), playing("/a.mp3", 1, 100))
	awaitAccent(t, e, float64(len("/a.mp3")))

	e.apply(context.Background(), domain.NowPlaying{
		Position: domain.PlaybackPosition{State: domain.StateStopped},
	})
	require.Zero(t, e.Gradient().Accent.R)
	require.Equal(t, domain.WaveformState(""), e.Waveform().State)
}

func TestStartStop(t *testing.T) {
	resolver := newFakeResolver()
	source := &fakeSource{np: playing("", 0, 0)}
	e := NewEngine(zap.NewNop(), testCfg{lyricsDir: t.TempDir()}, source, resolver, fakePalette{}, fakeWaveform{}, fakeVisualizer{})

	require.NoError(t, e.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, e.Stop(context.Background()))

	source.mu.Lock()
	defer source.mu.Unlock()
	require.True(t, source.closed)
}
