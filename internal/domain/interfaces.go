package domain

import (
	"context"
	"errors"
)

// ErrArtNotFound is returned when no art source can produce a cover for
// a track's album.
var ErrArtNotFound = errors.New("album art not found")

// PlayerSource supplies the polled playback feed: current track, elapsed
// position, duration and play state. The player itself is an external
// collaborator; only this feed is consumed.
type PlayerSource interface {
	// Poll returns the current playback snapshot. It must be cheap enough
	// to call at sub-second cadence.
	Poll(ctx context.Context) (NowPlaying, error)

	// Close releases the underlying connection
	Close() error
}

// ArtResolver resolves album art for a track, consulting the disk cache
// before falling back to folder images and embedded tag art.
type ArtResolver interface {
	// Resolve returns the album art for the track, or ErrArtNotFound
	// (wrapped) when no source can produce one.
	Resolve(ctx context.Context, track Track) (*AlbumArt, error)
}

// PaletteExtractor derives gradient colors from album art
type PaletteExtractor interface {
	// Extract computes the mesh-gradient descriptor. It never fails;
	// degenerate input yields a valid low-contrast descriptor.
	Extract(art *AlbumArt) GradientDescriptor
}

// WaveformSource answers waveform queries without ever blocking the caller.
// A miss starts background extraction and reports WaveformPending.
type WaveformSource interface {
	Get(track Track) WaveformResult
}

// VisualizerFeedState is the lifecycle state of the spectrum feed
type VisualizerFeedState string

const (
	// FeedNotInstalled means the analyzer tool is absent; terminal
	FeedNotInstalled VisualizerFeedState = "not-installed"
	// FeedStopped means the subprocess is not running
	FeedStopped VisualizerFeedState = "stopped"
	// FeedStarting means the subprocess is being spawned
	FeedStarting VisualizerFeedState = "starting"
	// FeedRunning means frames are streaming
	FeedRunning VisualizerFeedState = "running"
	// FeedRestarting means the subprocess exited unexpectedly and a
	// bounded restart is in progress
	FeedRestarting VisualizerFeedState = "restarting"
	// FeedFailed means the restart budget is exhausted; terminal for
	// the session
	FeedFailed VisualizerFeedState = "failed"
)

// VisualizerSource exposes the latest decoded spectrum frame.
type VisualizerSource interface {
	// Frame returns the most recent fully decoded frame, or a zeroed
	// frame when none has arrived yet. It never blocks.
	Frame() VisualizerFrame

	// State reports the feed lifecycle state
	State() VisualizerFeedState
}

// Config is the read surface of the application configuration
type Config interface {
	MusicDir() string
	LyricsDir() string
	CacheDir() string

	TickInterval() int // milliseconds
	PrecacheInterval() int

	WaveformBucketCount() int
	FFmpegPath() string

	VisualizerBarCount() int
	VisualizerFramerate() int
	VisualizerMaxRestarts() int
	VisualizerRestartWindow() int // seconds
	CavaPath() string
}
