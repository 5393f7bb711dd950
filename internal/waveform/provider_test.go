package waveform

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bardplayer/bard/internal/domain"
)

type testCfg struct {
	cacheDir string
	buckets  int
	ffmpeg   string
}

func (c testCfg) MusicDir() string             { return "" }
func (c testCfg) LyricsDir() string            { return "" }
func (c testCfg) CacheDir() string             { return c.cacheDir }
func (c testCfg) TickInterval() int            { return 500 }
func (c testCfg) PrecacheInterval() int        { return 80 }
func (c testCfg) WaveformBucketCount() int     { return c.buckets }
func (c testCfg) FFmpegPath() string           { return c.ffmpeg }
func (c testCfg) VisualizerBarCount() int      { return 24 }
func (c testCfg) VisualizerFramerate() int     { return 60 }
func (c testCfg) VisualizerMaxRestarts() int   { return 3 }
func (c testCfg) VisualizerRestartWindow() int { return 30 }
func (c testCfg) CavaPath() string             { return "cava" }

// testProvider builds a provider with a stubbed decoder, bypassing the
// LookPath check in NewProvider.
func testProvider(t *testing.T, buckets int, decode func(string) ([]byte, error)) *Provider {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "waveform")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return &Provider{
		logger:  zap.NewNop(),
		cfg:     testCfg{cacheDir: filepath.Dir(dir), buckets: buckets},
		dir:     dir,
		ffmpeg:  "stub",
		decode:  decode,
		pending: make(map[string]struct{}),
		results: make(map[string]domain.WaveformResult),
	}
}

// pcm builds raw s16le stereo frames of constant amplitude
func pcm(frames int, amplitude int16) []byte {
	out := make([]byte, frames*bytesPerFrame)
	for f := 0; f < frames; f++ {
		binary.LittleEndian.PutUint16(out[f*4:], uint16(amplitude))
		binary.LittleEndian.PutUint16(out[f*4+2:], uint16(amplitude))
	}
	return out
}

func writeTrack(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func awaitState(t *testing.T, p *Provider, track domain.Track, want domain.WaveformState) domain.WaveformResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res := p.Get(track)
		if res.State == want {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q", want)
	return domain.WaveformResult{}
}

func TestGetUnavailableWhenToolMissing(t *testing.T) {
	cfg := testCfg{
		cacheDir: t.TempDir(),
		buckets:  70,
		ffmpeg:   "definitely-not-a-real-decoder-binary",
	}
	p := NewProvider(zap.NewNop(), cfg)

	var decodes int32
	p.decode = func(string) ([]byte, error) {
		atomic.AddInt32(&decodes, 1)
		return nil, nil
	}

	for i := 0; i < 3; i++ {
		res := p.Get(domain.Track{Path: "/music/a.mp3"})
		if res.State != domain.WaveformUnavailable {
			t.Fatalf("expected Unavailable, got %q", res.State)
		}
	}
	if n := atomic.LoadInt32(&decodes); n != 0 {
		t.Errorf("expected no decode attempts, got %d", n)
	}
}

func TestGetPendingThenReady(t *testing.T) {
	p := testProvider(t, 8, func(string) ([]byte, error) {
		return pcm(800, 1000), nil
	})
	track := domain.Track{Path: writeTrack(t)}

	first := p.Get(track)
	if first.State != domain.WaveformPending {
		t.Fatalf("expected Pending on first query, got %q", first.State)
	}

	res := awaitState(t, p, track, domain.WaveformReady)
	if len(res.Peaks.Peaks) != 8 {
		t.Errorf("expected 8 buckets, got %d", len(res.Peaks.Peaks))
	}
}

func TestFailedIsCachedOnDisk(t *testing.T) {
	var decodes int32
	decode := func(string) ([]byte, error) {
		atomic.AddInt32(&decodes, 1)
		return nil, os.ErrInvalid
	}

	p := testProvider(t, 8, decode)
	track := domain.Track{Path: writeTrack(t)}

	p.Get(track)
	awaitState(t, p, track, domain.WaveformFailed)

	// a fresh provider sharing the cache dir must see the failure from
	// disk without re-decoding
	p2 := testProvider(t, 8, decode)
	p2.dir = p.dir
	res := p2.Get(track)
	if res.State != domain.WaveformFailed {
		t.Fatalf("expected cached Failed, got %q", res.State)
	}
	if n := atomic.LoadInt32(&decodes); n != 1 {
		t.Errorf("expected 1 decode attempt total, got %d", n)
	}
}

func TestMTimeChangeInvalidatesCache(t *testing.T) {
	var decodes int32
	decode := func(string) ([]byte, error) {
		atomic.AddInt32(&decodes, 1)
		return pcm(800, 1000), nil
	}

	p := testProvider(t, 8, decode)
	track := domain.Track{Path: writeTrack(t)}

	p.Get(track)
	awaitState(t, p, track, domain.WaveformReady)

	// touch the source file
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(track.Path, future, future); err != nil {
		t.Fatal(err)
	}

	p2 := testProvider(t, 8, decode)
	p2.dir = p.dir
	if res := p2.Get(track); res.State != domain.WaveformPending {
		t.Fatalf("expected Pending after mtime change, got %q", res.State)
	}
	awaitState(t, p2, track, domain.WaveformReady)

	if n := atomic.LoadInt32(&decodes); n != 2 {
		t.Errorf("expected re-extraction after mtime change, got %d decodes", n)
	}
}

func TestBucketCountChangeInvalidatesCache(t *testing.T) {
	decode := func(string) ([]byte, error) { return pcm(800, 1000), nil }

	p := testProvider(t, 8, decode)
	track := domain.Track{Path: writeTrack(t)}
	p.Get(track)
	awaitState(t, p, track, domain.WaveformReady)

	p2 := testProvider(t, 16, decode)
	p2.dir = p.dir
	p2.Get(track)
	res := awaitState(t, p2, track, domain.WaveformReady)
	if len(res.Peaks.Peaks) != 16 {
		t.Errorf("expected 16 buckets after config change, got %d", len(res.Peaks.Peaks))
	}
}

func TestBucketize(t *testing.T) {
	// loud first half, quiet second half
	loud := pcm(400, 8000)
	quiet := pcm(400, 500)
	raw := append(loud, quiet...)

	peaks, err := bucketize(raw, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(peaks.Peaks) != 4 {
		t.Fatalf("expected 4 buckets, got %d", len(peaks.Peaks))
	}

	for i, p := range peaks.Peaks {
		if p.Left < 0 || p.Left > 1 || p.Right < 0 || p.Right > 1 {
			t.Errorf("bucket %d out of range: %+v", i, p)
		}
	}
	if peaks.Peaks[0].Left <= peaks.Peaks[3].Left {
		t.Errorf("loud half should exceed quiet half: %+v", peaks.Peaks)
	}
	// constant loud signal normalizes to full scale
	if math.Abs(peaks.Peaks[0].Left-1) > 1e-9 {
		t.Errorf("expected loud bucket at 1.0, got %f", peaks.Peaks[0].Left)
	}
}

func TestBucketizeEmptyInput(t *testing.T) {
	if _, err := bucketize(nil, 8); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := bucketize([]byte{1, 2}, 8); err == nil {
		t.Error("expected error for sub-frame input")
	}
}
