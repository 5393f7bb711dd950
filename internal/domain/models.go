package domain

import (
	"image"
	"path/filepath"
	"time"
)

// PlayerState represents the current state of the media player
type PlayerState string

const (
	// StatePlaying indicates the track is currently playing
	StatePlaying PlayerState = "Playing"
	// StatePaused indicates the track is paused
	StatePaused PlayerState = "Paused"
	// StateStopped indicates playback is stopped
	StateStopped PlayerState = "Stopped"
)

// Track identifies a single track in the library. Path is the absolute
// location of the audio file and serves as the stable identity for all
// cache addressing.
type Track struct {
	// Path is the absolute path to the audio file
	Path string
	// Title of the track
	Title string
	// Artist name
	Artist string
	// Album name
	Album string
}

// AlbumDir returns the directory the track lives in. All tracks of one
// album share it, so it is the addressing unit for cached album art.
func (t Track) AlbumDir() string {
	return filepath.Dir(t.Path)
}

// PlaybackPosition is the externally supplied playback time feed.
// It is the sole time driver of the pipeline.
type PlaybackPosition struct {
	Elapsed  time.Duration
	Duration time.Duration
	State    PlayerState
}

// Fraction returns elapsed/duration clamped to [0, 1].
func (p PlaybackPosition) Fraction() float64 {
	if p.Duration <= 0 {
		return 0
	}
	f := p.Elapsed.Seconds() / p.Duration.Seconds()
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// NowPlaying is one poll result from the player source.
type NowPlaying struct {
	Track    Track
	Position PlaybackPosition
}

// ArtSource records where a resolved album art came from
type ArtSource string

const (
	// ArtFromCache means the art was served from the disk cache
	ArtFromCache ArtSource = "cache"
	// ArtFromFolder means a loose image file next to the track was used
	ArtFromFolder ArtSource = "folder"
	// ArtFromEmbedded means the art was extracted from the audio file's tags
	ArtFromEmbedded ArtSource = "embedded"
)

// AlbumArt is a decoded album cover. Immutable once produced.
type AlbumArt struct {
	// Image is the decoded pixel buffer
	Image image.Image
	// Source records which lookup stage produced the art
	Source ArtSource
	// CachePath is the on-disk location of the normalized cache entry
	CachePath string
}

// RGB is a color with float64 channels in [0, 1]. Kept at full precision
// so downstream dithering does not band.
type RGB struct {
	R, G, B float64
}

// GradientDescriptor holds the four corner colors of the background mesh
// gradient, in order top-left, top-right, bottom-left, bottom-right,
// plus a dominant accent color for the rest of the chrome.
// Deterministic function of one AlbumArt; never mutated after extraction.
type GradientDescriptor struct {
	Corners [4]RGB
	Accent  RGB
}

// PeakPair is one waveform bucket, left and right channel RMS
// normalized to [0, 1].
type PeakPair struct {
	Left  float64
	Right float64
}

// WaveformPeaks is the fixed-length amplitude sequence spanning a whole
// track, independent of its duration. Immutable.
type WaveformPeaks struct {
	Peaks []PeakPair
}

// WaveformState is the lifecycle state of a waveform request
type WaveformState string

const (
	// WaveformPending means extraction is running on a background worker
	WaveformPending WaveformState = "pending"
	// WaveformReady means peaks are available
	WaveformReady WaveformState = "ready"
	// WaveformUnavailable means the decode tool is missing for this session
	WaveformUnavailable WaveformState = "unavailable"
	// WaveformFailed means this file could not be decoded; terminal per file
	WaveformFailed WaveformState = "failed"
)

// WaveformResult is the non-blocking answer of the waveform provider.
// Peaks is non-nil only when State is WaveformReady.
type WaveformResult struct {
	State WaveformState
	Peaks *WaveformPeaks
}

// VisualizerFrame is one decoded spectrum frame: one magnitude per bar,
// 0-255. The feed overwrites it each tick; consumers copy, never hold.
type VisualizerFrame struct {
	Bars []byte
}

// Clone returns an independent copy of the frame.
func (f VisualizerFrame) Clone() VisualizerFrame {
	out := VisualizerFrame{Bars: make([]byte, len(f.Bars))}
	copy(out.Bars, f.Bars)
	return out
}

// LyricLine is one timestamped lyric line
type LyricLine struct {
	// Timestamp in seconds from the start of the track
	Timestamp float64
	// Text of the line, may be empty for instrumental gaps
	Text string
}

// LyricTrack is an ordered lyric sequence with strictly increasing
// timestamps. Immutable after parse; scoped to the current track.
type LyricTrack struct {
	Lines []LyricLine
}

// SyncSnapshot is the consistent pair published by the sync clock: the
// lyric index and the waveform cursor computed from one playback tick.
// Generation ties it to the track selection it was computed for.
type SyncSnapshot struct {
	Generation     uint64
	LyricIndex     int
	WaveformCursor float64
	Position       PlaybackPosition
}
