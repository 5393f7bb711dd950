package artcache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bardplayer/bard/internal/domain"
)

const precacheWorkers = 2

var audioExtensions = map[string]struct{}{
	".mp3":  {},
	".flac": {},
	".ogg":  {},
	".opus": {},
	".m4a":  {},
	".wav":  {},
}

// Precacher sweeps the music library in the background and resolves art
// for every album that has no disk entry yet. The sweep is rate limited
// so it never competes with playback for IO.
type Precacher struct {
	logger *zap.Logger
	cfg    domain.Config
	cache  *Cache
}

func NewPrecacher(logger *zap.Logger, cfg domain.Config, cache *Cache) *Precacher {
	return &Precacher{logger: logger, cfg: cfg, cache: cache}
}

// Run walks the music root and resolves one uncached album at a time.
// It returns promptly when the context is cancelled; a cancelled sweep
// is not an error, the next start simply resumes where the cache left
// off because resolved albums are skipped.
func (p *Precacher) Run(ctx context.Context) error {
	root := p.cfg.MusicDir()
	if _, err := os.Stat(root); err != nil {
		p.logger.Debug("Music root not found, skipping art precache",
			zap.String("root", root))
		return nil
	}

	tracks, err := p.collect(ctx, root)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if len(tracks) == 0 {
		return nil
	}
	p.logger.Info("Precaching album art", zap.Int("albums", len(tracks)))

	interval := time.Duration(p.cfg.PrecacheInterval()) * time.Millisecond
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan domain.Track)

	g.Go(func() error {
		defer close(jobs)
		for _, track := range tracks {
			select {
			case jobs <- track:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < precacheWorkers; i++ {
		g.Go(func() error {
			for track := range jobs {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				if _, err := p.cache.Resolve(ctx, track); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					if !errors.Is(err, domain.ErrArtNotFound) {
						p.logger.Debug("Precache resolve failed",
							zap.String("track", track.Path), zap.Error(err))
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// collect returns one representative track per album directory that has
// no cache entry yet.
func (p *Precacher) collect(ctx context.Context, root string) ([]domain.Track, error) {
	var tracks []domain.Track
	seen := make(map[string]struct{})

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		albumDir := filepath.Dir(path)
		if _, ok := seen[albumDir]; ok {
			return nil
		}
		seen[albumDir] = struct{}{}

		if !p.cache.Cached(albumDir) {
			tracks = append(tracks, domain.Track{Path: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tracks, nil
}
