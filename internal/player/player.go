// Package player polls the active MPRIS media player over D-Bus and
// turns its properties into the playback feed the pipeline runs on.
package player

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/bardplayer/bard/internal/domain"
)

const (
	mprisPrefix = "org.mpris.MediaPlayer2."
	objectPath  = "/org/mpris/MediaPlayer2"

	metadataProp = "org.mpris.MediaPlayer2.Player.Metadata"
	statusProp   = "org.mpris.MediaPlayer2.Player.PlaybackStatus"
	positionProp = "org.mpris.MediaPlayer2.Player.Position"
)

// Source implements domain.PlayerSource by polling MPRIS properties.
// It sticks to one player until that player stops answering, then
// rediscovers.
type Source struct {
	logger *zap.Logger
	conn   DBusClient

	mu     sync.Mutex
	active string
}

// NewSource connects to the session bus.
func NewSource(logger *zap.Logger) (*Source, error) {
	conn, err := NewStdDBusClient()
	if err != nil {
		return nil, fmt.Errorf("session bus connection failed: %w", err)
	}
	return &Source{logger: logger, conn: conn}, nil
}

// NewSourceWithClient wires an existing client; used by tests.
func NewSourceWithClient(logger *zap.Logger, conn DBusClient) *Source {
	return &Source{logger: logger, conn: conn}
}

// Close closes the bus connection
func (s *Source) Close() error {
	return s.conn.Close()
}

// Poll returns the current playback snapshot. No player on the bus is
// not an error, it reads as stopped playback with no track.
func (s *Source) Poll(ctx context.Context) (domain.NowPlaying, error) {
	if err := ctx.Err(); err != nil {
		return domain.NowPlaying{}, err
	}

	player, err := s.player()
	if err != nil {
		return domain.NowPlaying{}, err
	}
	if player == "" {
		return domain.NowPlaying{Position: domain.PlaybackPosition{State: domain.StateStopped}}, nil
	}

	np, err := s.fetch(player)
	if err != nil {
		// the player likely quit; forget it and rediscover next tick
		s.mu.Lock()
		s.active = ""
		s.mu.Unlock()
		s.logger.Debug("Active player stopped answering", zap.String("player", player), zap.Error(err))
		return domain.NowPlaying{Position: domain.PlaybackPosition{State: domain.StateStopped}}, nil
	}
	return np, nil
}

// player returns the current player bus name, discovering one if needed.
func (s *Source) player() (string, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != "" {
		return active, nil
	}

	names, err := s.conn.ListNames()
	if err != nil {
		return "", fmt.Errorf("list bus names: %w", err)
	}
	for _, name := range names {
		if strings.HasPrefix(name, mprisPrefix) {
			s.mu.Lock()
			s.active = name
			s.mu.Unlock()
			s.logger.Info("Following MPRIS player", zap.String("player", name))
			return name, nil
		}
	}
	return "", nil
}

func (s *Source) fetch(player string) (domain.NowPlaying, error) {
	statusVar, err := s.conn.GetProperty(player, objectPath, statusProp)
	if err != nil {
		return domain.NowPlaying{}, fmt.Errorf("get playback status: %w", err)
	}
	status, _ := statusVar.Value().(string)

	np := domain.NowPlaying{Position: domain.PlaybackPosition{State: parseState(status)}}

	metaVar, err := s.conn.GetProperty(player, objectPath, metadataProp)
	if err != nil {
		return domain.NowPlaying{}, fmt.Errorf("get metadata: %w", err)
	}
	if metadata, ok := metaVar.Value().(map[string]dbus.Variant); ok {
		np.Track = parseTrack(metadata)
		np.Position.Duration = parseLength(metadata)
	}

	// Position often fails on players that do not implement it; a zero
	// position is fine in that case
	if posVar, err := s.conn.GetProperty(player, objectPath, positionProp); err == nil {
		if micros, ok := asInt64(posVar.Value()); ok {
			np.Position.Elapsed = time.Duration(micros) * time.Microsecond
		}
	}

	return np, nil
}

func parseState(status string) domain.PlayerState {
	switch status {
	case "Playing":
		return domain.StatePlaying
	case "Paused":
		return domain.StatePaused
	default:
		return domain.StateStopped
	}
}

func parseTrack(metadata map[string]dbus.Variant) domain.Track {
	var track domain.Track

	if urlVar, ok := metadata["xesam:url"]; ok {
		if raw, ok := urlVar.Value().(string); ok {
			track.Path = localPath(raw)
		}
	}
	if titleVar, ok := metadata["xesam:title"]; ok {
		if title, ok := titleVar.Value().(string); ok {
			track.Title = title
		}
	}
	if artistVar, ok := metadata["xesam:artist"]; ok {
		switch artists := artistVar.Value().(type) {
		case []string:
			if len(artists) > 0 {
				track.Artist = artists[0]
			}
		case string:
			track.Artist = artists
		}
	}
	if albumVar, ok := metadata["xesam:album"]; ok {
		if album, ok := albumVar.Value().(string); ok {
			track.Album = album
		}
	}
	return track
}

func parseLength(metadata map[string]dbus.Variant) time.Duration {
	lengthVar, ok := metadata["mpris:length"]
	if !ok {
		return 0
	}
	if micros, ok := asInt64(lengthVar.Value()); ok {
		return time.Duration(micros) * time.Microsecond
	}
	return 0
}

// localPath turns a file:// URL into a filesystem path; anything else
// (streams, radio) has no local identity and yields an empty path.
func localPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return u.Path
}

// asInt64 handles the integer types non-compliant players use for
// microsecond values.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}
