package visualizer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// buildConfig merges the user's own cava config with the overrides the
// feed needs: bar count, framerate, and raw 8-bit mono binary output on
// stdout. The user's [output] section and any bars/framerate settings
// are stripped so the overrides win; everything else (gravity,
// smoothing, audio source) is kept.
func buildConfig(userConfig string, bars, framerate int) string {
	var b strings.Builder
	skipSection := false

	for _, line := range strings.Split(userConfig, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "[") {
			skipSection = trimmed == "[output]"
			if !skipSection {
				b.WriteString(line)
				b.WriteByte('\n')
			}
			continue
		}
		if skipSection {
			continue
		}

		key, _, hasEq := strings.Cut(trimmed, "=")
		if hasEq {
			switch strings.TrimSpace(key) {
			case "bars", "framerate":
				continue
			}
		}

		b.WriteString(line)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, `
[general]
bars = %d
framerate = %d

[output]
method = raw
raw_target = /dev/stdout
data_format = binary
bit_format = 8bit
channels = mono
`, bars, framerate)

	return b.String()
}

// writeTempConfig reads the user's config (if any) and writes the merged
// config to a temporary file, returning its path.
func writeTempConfig(bars, framerate int) (string, error) {
	var userConfig string
	if dir, err := os.UserConfigDir(); err == nil {
		if data, err := os.ReadFile(filepath.Join(dir, "cava", "config")); err == nil {
			userConfig = string(data)
		}
	}

	f, err := os.CreateTemp("", "bard_cava_*.conf")
	if err != nil {
		return "", fmt.Errorf("create analyzer config: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(buildConfig(userConfig, bars, framerate)); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write analyzer config: %w", err)
	}
	return f.Name(), nil
}
