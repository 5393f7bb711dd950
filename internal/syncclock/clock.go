// Package syncclock maps playback-position ticks to a consistent pair
// of lyric index and waveform cursor.
package syncclock

import (
	"sync"

	"github.com/bardplayer/bard/internal/domain"
	"github.com/bardplayer/bard/internal/lyrics"
)

// Compute derives the snapshot for one tick. Pure: it owns no timers
// and holds no cursor between calls.
func Compute(generation uint64, track *domain.LyricTrack, pos domain.PlaybackPosition) domain.SyncSnapshot {
	return domain.SyncSnapshot{
		Generation:     generation,
		LyricIndex:     lyrics.CurrentLine(track, pos.Elapsed.Seconds()),
		WaveformCursor: pos.Fraction(),
		Position:       pos,
	}
}

// Clock publishes the latest snapshot as one unit, so a reader never
// observes the lyric index of one tick with the cursor of another.
type Clock struct {
	mu       sync.RWMutex
	snapshot domain.SyncSnapshot
}

func NewClock() *Clock {
	return &Clock{snapshot: domain.SyncSnapshot{LyricIndex: -1}}
}

// Tick computes and publishes the snapshot for the given position.
func (c *Clock) Tick(generation uint64, track *domain.LyricTrack, pos domain.PlaybackPosition) domain.SyncSnapshot {
	snap := Compute(generation, track, pos)
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
	return snap
}

// Snapshot returns the most recently published pair.
func (c *Clock) Snapshot() domain.SyncSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}
