// Package artcache resolves album art for tracks and keeps a normalized
// copy in a content-addressed disk store so every later lookup is a
// single file read.
package artcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bogem/id3v2"
	"github.com/disintegration/imaging"
	"github.com/go-flac/flacpicture"
	flac "github.com/go-flac/go-flac"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/bardplayer/bard/internal/domain"
)

// keyVersion tags cache filenames so a format change invalidates old
// entries instead of misreading them
const keyVersion = 2

const jpegQuality = 90

// folderCandidates are checked in order; the first existing file wins
var folderCandidates = []string{
	"cover.jpg", "cover.png",
	"folder.jpg", "folder.png",
	"albumart.jpg", "albumart.png",
}

// Cache implements domain.ArtResolver. Entries are keyed by the album
// directory, so every track of an album shares one cached image.
type Cache struct {
	logger *zap.Logger
	dir    string

	// albums known to have no art anywhere, so a poll tick does not
	// rescan the folder and tags every 500ms
	mu     sync.Mutex
	misses map[string]struct{}
}

// NewCache creates the art cache under <cacheDir>/art.
func NewCache(logger *zap.Logger, cfg domain.Config) (*Cache, error) {
	dir := filepath.Join(cfg.CacheDir(), "art")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create art cache directory: %w", err)
	}
	c := &Cache{
		logger: logger,
		dir:    dir,
		misses: make(map[string]struct{}),
	}
	c.sweepStale()
	return c, nil
}

// sweepStale removes entries written with an older key version; their
// filenames can never match a current lookup again.
func (c *Cache) sweepStale() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	prefix := fmt.Sprintf("v%d-", keyVersion)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jpg") || strings.HasPrefix(name, prefix) {
			continue
		}
		if os.Remove(filepath.Join(c.dir, name)) == nil {
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("Removed stale art cache entries", zap.Int("count", removed))
	}
}

// Resolve returns the album art for the track. Lookup order: disk cache,
// folder image files, embedded tag art. Folder and embedded hits are
// written through to the disk cache before being returned.
func (c *Cache) Resolve(ctx context.Context, track domain.Track) (*domain.AlbumArt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	albumDir := track.AlbumDir()

	c.mu.Lock()
	_, missed := c.misses[albumDir]
	c.mu.Unlock()
	if missed {
		return nil, fmt.Errorf("album %q: %w", albumDir, domain.ErrArtNotFound)
	}

	entryPath := c.entryPath(albumDir)
	if img, ok := c.readEntry(entryPath); ok {
		return &domain.AlbumArt{Image: img, Source: domain.ArtFromCache, CachePath: entryPath}, nil
	}

	if img := c.fromFolder(albumDir); img != nil {
		c.writeThrough(entryPath, img)
		return &domain.AlbumArt{Image: img, Source: domain.ArtFromFolder, CachePath: entryPath}, nil
	}

	if img := c.fromEmbedded(track.Path); img != nil {
		c.writeThrough(entryPath, img)
		return &domain.AlbumArt{Image: img, Source: domain.ArtFromEmbedded, CachePath: entryPath}, nil
	}

	c.mu.Lock()
	c.misses[albumDir] = struct{}{}
	c.mu.Unlock()
	return nil, fmt.Errorf("album %q: %w", albumDir, domain.ErrArtNotFound)
}

// Cached reports whether an album already has a disk entry. Used by the
// precache sweep to skip resolved albums cheaply.
func (c *Cache) Cached(albumDir string) bool {
	_, err := os.Stat(c.entryPath(albumDir))
	return err == nil
}

// Clear removes every cache entry and forgets recorded misses.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.misses = make(map[string]struct{})
	c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		_ = os.Remove(filepath.Join(c.dir, e.Name()))
	}
	return nil
}

// Thumbnail returns a scaled copy of the art with the given width,
// preserving aspect ratio.
func Thumbnail(art *domain.AlbumArt, width int) image.Image {
	if art == nil || art.Image == nil || width <= 0 {
		return nil
	}
	return resize.Resize(uint(width), 0, art.Image, resize.Lanczos3)
}

func (c *Cache) entryPath(albumDir string) string {
	sum := sha256.Sum256([]byte(albumDir))
	return filepath.Join(c.dir, fmt.Sprintf("v%d-%s.jpg", keyVersion, hex.EncodeToString(sum[:12])))
}

// readEntry loads a disk cache entry. A transient read error is retried
// once; an entry that does not decode is removed so it gets rebuilt.
func (c *Cache) readEntry(path string) (image.Image, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		c.logger.Debug("Art cache entry unreadable", zap.String("path", path), zap.Error(err))
		return nil, false
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		c.logger.Warn("Removing corrupt art cache entry", zap.String("path", path))
		_ = os.Remove(path)
		return nil, false
	}
	return img, true
}

// writeThrough persists a resolved image as the normalized cache entry.
// Temp file then rename, so a concurrent reader never sees a half
// written entry; losing a write race is fine because both writers
// produce the same bytes from the same source.
func (c *Cache) writeThrough(path string, img image.Image) {
	f, err := os.CreateTemp(c.dir, ".art-*")
	if err != nil {
		c.logger.Warn("Could not create art cache temp file", zap.Error(err))
		return
	}
	tmp := f.Name()

	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err == nil {
		err = f.Sync()
	}
	if err != nil {
		f.Close()
		_ = os.Remove(tmp)
		c.logger.Warn("Could not encode art cache entry", zap.Error(err))
		return
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		c.logger.Warn("Could not publish art cache entry", zap.Error(err))
	}
}

func (c *Cache) fromFolder(albumDir string) image.Image {
	for _, name := range folderCandidates {
		candidate := filepath.Join(albumDir, name)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		img, err := imaging.Open(candidate)
		if err != nil {
			c.logger.Debug("Skipping undecodable folder art",
				zap.String("path", candidate), zap.Error(err))
			continue
		}
		return img
	}
	return nil
}

// fromEmbedded pulls the first attached picture out of the audio file's
// tags. Only mp3 and flac carry extractable art here.
func (c *Cache) fromEmbedded(trackPath string) image.Image {
	switch strings.ToLower(filepath.Ext(trackPath)) {
	case ".mp3":
		return c.fromID3(trackPath)
	case ".flac":
		return c.fromFlac(trackPath)
	default:
		return nil
	}
}

func (c *Cache) fromID3(trackPath string) image.Image {
	tag, err := id3v2.Open(trackPath, id3v2.Options{Parse: true})
	if err != nil {
		return nil
	}
	defer tag.Close()

	for _, frame := range tag.GetFrames(tag.CommonID("Attached picture")) {
		pic, ok := frame.(id3v2.PictureFrame)
		if !ok {
			continue
		}
		img, err := imaging.Decode(bytes.NewReader(pic.Picture))
		if err != nil {
			c.logger.Debug("Undecodable embedded mp3 art",
				zap.String("track", trackPath), zap.Error(err))
			continue
		}
		return img
	}
	return nil
}

func (c *Cache) fromFlac(trackPath string) image.Image {
	file, err := flac.ParseFile(trackPath)
	if err != nil {
		return nil
	}

	for _, block := range file.Meta {
		if block.Type != flac.Picture {
			continue
		}
		pic, err := flacpicture.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}
		img, err := imaging.Decode(bytes.NewReader(pic.ImageData))
		if err != nil {
			c.logger.Debug("Undecodable embedded flac art",
				zap.String("track", trackPath), zap.Error(err))
			continue
		}
		return img
	}
	return nil
}
