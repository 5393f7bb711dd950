// Package waveform extracts and caches per-track amplitude peaks using
// an external decoder.
package waveform

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/bardplayer/bard/internal/domain"
)

const cacheVersion = 1

var errCorrupt = errors.New("corrupt waveform cache entry")

// cacheEntry is the persisted form of one extraction outcome. Failed
// entries are stored too, so a corrupt file is not re-decoded on every
// play.
type cacheEntry struct {
	Version     int
	SourceMTime int64
	Buckets     int
	Failed      bool
	Peaks       []domain.PeakPair
}

// Provider answers waveform queries without blocking. Results are cached
// on disk, keyed by track path and invalidated when the source file's
// modification time changes.
type Provider struct {
	logger *zap.Logger
	cfg    domain.Config
	dir    string

	// resolved decoder path; empty means unavailable for the session
	ffmpeg string

	// decode is swapped out by tests
	decode func(path string) ([]byte, error)

	mu      sync.Mutex
	pending map[string]struct{}
	results map[string]domain.WaveformResult
}

// NewProvider creates a waveform provider. The decode tool is looked up
// exactly once here; if it is missing, every Get answers Unavailable and
// no subprocess is ever spawned.
func NewProvider(logger *zap.Logger, cfg domain.Config) *Provider {
	p := &Provider{
		logger:  logger,
		cfg:     cfg,
		dir:     filepath.Join(cfg.CacheDir(), "waveform"),
		pending: make(map[string]struct{}),
		results: make(map[string]domain.WaveformResult),
	}
	p.decode = func(path string) ([]byte, error) {
		return decodePCM(p.ffmpeg, path)
	}

	path, err := exec.LookPath(cfg.FFmpegPath())
	if err != nil {
		logger.Warn("Waveform decode tool not found, waveforms disabled for this session",
			zap.String("tool", cfg.FFmpegPath()))
		return p
	}
	p.ffmpeg = path

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		logger.Warn("Could not create waveform cache directory", zap.Error(err))
	}
	return p
}

// Get returns the waveform state for the track. A cache miss starts
// background extraction and reports Pending; the caller never blocks.
func (p *Provider) Get(track domain.Track) domain.WaveformResult {
	if p.ffmpeg == "" {
		return domain.WaveformResult{State: domain.WaveformUnavailable}
	}

	key := cacheKey(track.Path)

	p.mu.Lock()
	if res, ok := p.results[key]; ok {
		p.mu.Unlock()
		return res
	}
	if _, ok := p.pending[key]; ok {
		p.mu.Unlock()
		return domain.WaveformResult{State: domain.WaveformPending}
	}
	p.pending[key] = struct{}{}
	p.mu.Unlock()

	if res, ok := p.fromDisk(key, track.Path); ok {
		p.store(key, res)
		return res
	}

	go p.extract(key, track.Path)
	return domain.WaveformResult{State: domain.WaveformPending}
}

// fromDisk loads a cache entry if one exists and still matches the
// source file. Transient read errors are retried once; a corrupt or
// stale entry is removed so it gets recomputed.
func (p *Provider) fromDisk(key, trackPath string) (domain.WaveformResult, bool) {
	entryPath := filepath.Join(p.dir, key)

	entry, err := readEntry(entryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.WaveformResult{}, false
		}
		// one retry for transient IO failures
		entry, err = readEntry(entryPath)
	}
	if err != nil {
		p.logger.Debug("Waveform cache entry unreadable, recomputing",
			zap.String("key", key), zap.Error(err))
		_ = os.Remove(entryPath)
		return domain.WaveformResult{}, false
	}

	info, statErr := os.Stat(trackPath)
	stale := entry.Version != cacheVersion ||
		entry.Buckets != p.cfg.WaveformBucketCount() ||
		statErr != nil ||
		entry.SourceMTime != info.ModTime().Unix()
	if stale {
		_ = os.Remove(entryPath)
		return domain.WaveformResult{}, false
	}

	if entry.Failed {
		return domain.WaveformResult{State: domain.WaveformFailed}, true
	}
	return domain.WaveformResult{
		State: domain.WaveformReady,
		Peaks: &domain.WaveformPeaks{Peaks: entry.Peaks},
	}, true
}

// extract runs on a background goroutine: decode, bucket, persist.
func (p *Provider) extract(key, trackPath string) {
	entry := cacheEntry{
		Version: cacheVersion,
		Buckets: p.cfg.WaveformBucketCount(),
	}
	if info, err := os.Stat(trackPath); err == nil {
		entry.SourceMTime = info.ModTime().Unix()
	}

	res := domain.WaveformResult{State: domain.WaveformFailed}

	raw, err := p.decode(trackPath)
	if err != nil {
		p.logger.Warn("Waveform extraction failed",
			zap.String("track", trackPath), zap.Error(err))
		entry.Failed = true
	} else {
		peaks, err := bucketize(raw, entry.Buckets)
		if err != nil {
			p.logger.Warn("Waveform bucketing failed",
				zap.String("track", trackPath), zap.Error(err))
			entry.Failed = true
		} else {
			entry.Peaks = peaks.Peaks
			res = domain.WaveformResult{State: domain.WaveformReady, Peaks: peaks}
		}
	}

	if err := writeEntry(filepath.Join(p.dir, key), &entry); err != nil {
		p.logger.Warn("Could not persist waveform cache entry", zap.Error(err))
	}

	p.store(key, res)
}

func (p *Provider) store(key string, res domain.WaveformResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[key] = res
	delete(p.pending, key)
}

// cacheKey derives the stable on-disk name for a track's waveform
func cacheKey(trackPath string) string {
	sum := sha256.Sum256([]byte(trackPath))
	return fmt.Sprintf("wf%d-%s.bin", cacheVersion, hex.EncodeToString(sum[:12]))
}

func readEntry(path string) (*cacheEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entry cacheEntry
	if err := gob.NewDecoder(f).Decode(&entry); err != nil {
		return nil, errCorrupt
	}
	return &entry, nil
}

// writeEntry persists atomically: temp file then rename, so a crashed
// writer never leaves a half-written entry that reads as valid.
func writeEntry(path string, entry *cacheEntry) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(entry); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
