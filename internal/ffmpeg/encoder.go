// Package ffmpeg wraps the ffmpeg/ffprobe command-line tools (via
// os/exec) for audio transcoding, recording capture, silence trimming, and
// duration probing.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

type Encoder struct {
	bitrate    string
	sampleRate string
	channels   string
}

func NewEncoder(bitrate, sampleRate, channels string) *Encoder {
	return &Encoder{
		bitrate:    bitrate,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// CaptureToFile reads raw PCM/encoded audio from r (a livestream capture
// socket connection, per internal/mixerctl) and encodes it to OGG Vorbis at
// outputFile until r is exhausted or ctx is cancelled (disconnect). Used by
// the Recording Worker to capture a live session.
func (e *Encoder) CaptureToFile(ctx context.Context, r io.Reader, outputFile string) error {
	args := []string{
		"-y",
		"-i", "pipe:0",
		"-vn",
		"-c:a", "libvorbis",
		"-b:a", e.bitrate,
		"-ac", e.channels,
		"-ar", e.sampleRate,
		outputFile,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdin = r

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ffmpeg capture failed: %w: %s", err, stderrBuf.String())
	}
	return nil
}

// TrimSilence removes leading and trailing silence from inputFile, writing
// the result to outputFile. thresholdDB and minSilenceSeconds parameterize
// ffmpeg's silenceremove filter.
func (e *Encoder) TrimSilence(ctx context.Context, inputFile, outputFile string, thresholdDB float64, minSilenceSeconds float64) error {
	filter := fmt.Sprintf(
		"silenceremove=start_periods=1:start_duration=%.2f:start_threshold=%.1fdB:"+
			"stop_periods=1:stop_duration=%.2f:stop_threshold=%.1fdB",
		minSilenceSeconds, thresholdDB, minSilenceSeconds, thresholdDB,
	)
	args := []string{
		"-y",
		"-i", inputFile,
		"-af", filter,
		"-c:a", "libvorbis",
		"-b:a", e.bitrate,
		outputFile,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg silence trim failed: %w: %s", err, stderrBuf.String())
	}
	return nil
}

// Probe reports the duration, in seconds, of the audio file at path via
// ffprobe.
func Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparsable duration %q: %w", out.String(), err)
	}
	return seconds, nil
}
