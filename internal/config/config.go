package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AppConfig holds application configuration backed by viper.
// Values come from defaults, an optional config file and BARD_* env vars.
type AppConfig struct {
	logger *zap.Logger
	v      *viper.Viper
}

// NewAppConfig loads configuration from ~/.config/bard/config.yaml when
// present, otherwise runs on defaults. A missing file is not an error.
func NewAppConfig(logger *zap.Logger) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("BARD")
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "bard"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &AppConfig{logger: logger, v: v}

	logger.Info("Configuration loaded",
		zap.String("musicDir", cfg.MusicDir()),
		zap.String("cacheDir", cfg.CacheDir()),
		zap.Int("waveformBuckets", cfg.WaveformBucketCount()),
		zap.Int("visualizerBars", cfg.VisualizerBarCount()))

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cache := filepath.Join(home, ".cache")
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		cache = xdg
	}

	v.SetDefault("MusicDir", filepath.Join(home, "Music"))
	v.SetDefault("LyricsDir", filepath.Join(home, "Music", "Lyrics"))
	v.SetDefault("CacheDir", filepath.Join(cache, "bard"))
	v.SetDefault("TickIntervalMs", 500)
	v.SetDefault("PrecacheIntervalMs", 80)
	v.SetDefault("WaveformBuckets", 70)
	v.SetDefault("FFmpegPath", "ffmpeg")
	v.SetDefault("VisualizerBars", 24)
	v.SetDefault("VisualizerFramerate", 60)
	v.SetDefault("VisualizerMaxRestarts", 3)
	v.SetDefault("VisualizerRestartWindowSec", 30)
	v.SetDefault("CavaPath", "cava")
}

// expand resolves a leading ~ against the user's home directory
func expand(path string) string {
	path = os.ExpandEnv(path)
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// MusicDir returns the library root scanned by the precache sweep
func (c *AppConfig) MusicDir() string { return expand(c.v.GetString("MusicDir")) }

// LyricsDir returns the directory holding "Artist - Title.lrc" files
func (c *AppConfig) LyricsDir() string { return expand(c.v.GetString("LyricsDir")) }

// CacheDir returns the single on-disk cache directory
func (c *AppConfig) CacheDir() string { return expand(c.v.GetString("CacheDir")) }

// TickInterval returns the playback poll cadence in milliseconds
func (c *AppConfig) TickInterval() int { return c.v.GetInt("TickIntervalMs") }

// PrecacheInterval returns the per-file precache throttle in milliseconds
func (c *AppConfig) PrecacheInterval() int { return c.v.GetInt("PrecacheIntervalMs") }

// WaveformBucketCount returns how many amplitude buckets span one track.
// Cached waveform data is invalidated when this changes.
func (c *AppConfig) WaveformBucketCount() int { return c.v.GetInt("WaveformBuckets") }

// FFmpegPath returns the decode tool binary name or path
func (c *AppConfig) FFmpegPath() string { return c.v.GetString("FFmpegPath") }

// VisualizerBarCount returns the spectrum bar count per frame
func (c *AppConfig) VisualizerBarCount() int { return c.v.GetInt("VisualizerBars") }

// VisualizerFramerate returns the analyzer output rate in frames/second
func (c *AppConfig) VisualizerFramerate() int { return c.v.GetInt("VisualizerFramerate") }

// VisualizerMaxRestarts returns how many unexpected exits inside one
// restart window make the feed terminally Failed
func (c *AppConfig) VisualizerMaxRestarts() int { return c.v.GetInt("VisualizerMaxRestarts") }

// VisualizerRestartWindow returns the sliding restart window in seconds
func (c *AppConfig) VisualizerRestartWindow() int { return c.v.GetInt("VisualizerRestartWindowSec") }

// CavaPath returns the spectrum analyzer binary name or path
func (c *AppConfig) CavaPath() string { return c.v.GetString("CavaPath") }
