// Package lyrics parses LRC files and answers time-to-line queries.
// It is pure and stateless; the engine holds the current LyricTrack.
package lyrics

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bardplayer/bard/internal/domain"
)

// ErrNoTimestamps is returned when a file contains no valid timed lines
var ErrNoTimestamps = errors.New("no timestamped lines")

// timestamps look like [MM:SS.xx]; the fractional part is optional
var lineRe = regexp.MustCompile(`^\[(\d+):(\d{1,2}(?:\.\d+)?)\](.*)$`)

// Parse reads LRC content and returns the timed lines sorted by timestamp.
// Blank lines, metadata tags and lines with malformed timestamps are
// skipped; only a file with zero valid lines fails to parse.
func Parse(r io.Reader) (*domain.LyricTrack, error) {
	var lines []domain.LyricLine

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		m := lineRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}

		minutes, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seconds, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}

		lines = append(lines, domain.LyricLine{
			Timestamp: float64(minutes)*60 + seconds,
			Text:      strings.TrimSpace(m[3]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lyrics: %w", err)
	}

	if len(lines) == 0 {
		return nil, ErrNoTimestamps
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Timestamp < lines[j].Timestamp
	})

	// keep timestamps strictly increasing; drop later duplicates
	out := lines[:1]
	for _, l := range lines[1:] {
		if l.Timestamp > out[len(out)-1].Timestamp {
			out = append(out, l)
		}
	}

	return &domain.LyricTrack{Lines: out}, nil
}

// ParseFile parses the LRC file at path.
func ParseFile(path string) (*domain.LyricTrack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lyrics: %w", err)
	}
	defer f.Close()

	track, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return track, nil
}

// PathFor derives the lookup path for a track's lyrics under dir,
// following the "Artist - Title.lrc" convention.
func PathFor(dir, artist, title string) string {
	return filepath.Join(dir, fmt.Sprintf("%s - %s.lrc", artist, title))
}

// CurrentLine returns the index of the greatest line whose timestamp is
// <= position (in seconds), or -1 before the first timestamp.
func CurrentLine(track *domain.LyricTrack, position float64) int {
	if track == nil || len(track.Lines) == 0 {
		return -1
	}
	// first index with timestamp > position
	i := sort.Search(len(track.Lines), func(i int) bool {
		return track.Lines[i].Timestamp > position
	})
	return i - 1
}
