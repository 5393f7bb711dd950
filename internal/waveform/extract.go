package waveform

import (
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"sort"

	"github.com/bardplayer/bard/internal/domain"
)

// ffmpeg decode parameters: raw signed 16-bit little-endian stereo at
// 8kHz. The low sample rate keeps extraction fast while leaving plenty
// of resolution for a waveform display.
const (
	sampleRate     = 8000
	bytesPerFrame  = 4 // 2 bytes left + 2 bytes right
	normPercentile = 0.95
	shapePower     = 1.8
)

// decodePCM invokes ffmpeg and returns the track's raw s16le stereo PCM
func decodePCM(ffmpeg, path string) ([]byte, error) {
	cmd := exec.Command(ffmpeg,
		"-i", path,
		"-ac", "2",
		"-ar", fmt.Sprint(sampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-v", "quiet",
		"-",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg decode: empty output")
	}
	return out, nil
}

// bucketize reduces raw stereo PCM to a fixed number of RMS peak pairs,
// normalized to the 95th percentile and shaped with a power curve.
// RMS per bucket reads smoother than raw peaks.
func bucketize(raw []byte, buckets int) (*domain.WaveformPeaks, error) {
	numFrames := len(raw) / bytesPerFrame
	if numFrames == 0 || buckets <= 0 {
		return nil, fmt.Errorf("bucketize: no sample frames")
	}

	framesPerBucket := math.Max(float64(numFrames)/float64(buckets), 1)
	peaks := make([]domain.PeakPair, 0, buckets)

	cursor := 0.0
	for i := 0; i < buckets; i++ {
		start := int(cursor)
		end := int(cursor + framesPerBucket)
		if end > numFrames {
			end = numFrames
		}

		var sumL, sumR, n float64
		for f := start; f < end; f++ {
			off := f * bytesPerFrame
			left := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
			right := int16(binary.LittleEndian.Uint16(raw[off+2 : off+4]))
			l := math.Abs(float64(left))
			r := math.Abs(float64(right))
			sumL += l * l
			sumR += r * r
			n++
		}

		var p domain.PeakPair
		if n > 0 {
			p.Left = math.Sqrt(sumL / n)
			p.Right = math.Sqrt(sumR / n)
		}
		peaks = append(peaks, p)
		cursor += framesPerBucket
	}

	normalize(peaks)
	return &domain.WaveformPeaks{Peaks: peaks}, nil
}

// normalize scales peaks against the 95th percentile so only the loudest
// buckets clip to 1.0, then applies a power curve to spread the dynamic
// range.
func normalize(peaks []domain.PeakPair) {
	vals := make([]float64, 0, len(peaks)*2)
	for _, p := range peaks {
		if p.Left > 0 {
			vals = append(vals, p.Left)
		}
		if p.Right > 0 {
			vals = append(vals, p.Right)
		}
	}
	if len(vals) == 0 {
		return
	}
	sort.Float64s(vals)

	idx := int(float64(len(vals)) * normPercentile)
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	norm := vals[idx]
	if norm <= 0 {
		return
	}

	for i := range peaks {
		peaks[i].Left = math.Pow(math.Min(peaks[i].Left/norm, 1), shapePower)
		peaks[i].Right = math.Pow(math.Min(peaks[i].Right/norm, 1), shapePower)
	}
}
