// Package remux converts a finished transport stream into an MP4 container by
// stream copy with ffmpeg.
package remux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Remuxer runs ffmpeg. The zero value uses "ffmpeg" from PATH and slog.Default.
type Remuxer struct {
	FFmpegPath string
	Log        *slog.Logger
}

// MP4Path returns the MP4 path for a .ts path.
func MP4Path(tsPath string) string {
	return strings.TrimSuffix(tsPath, ".ts") + ".mp4"
}

// Converted reports whether the MP4 for tsPath exists.
func Converted(tsPath string) bool {
	_, err := os.Stat(MP4Path(tsPath))
	return err == nil
}

// Remux copies the streams of tsPath into "<base>.mp4" and removes tsPath once
// the MP4 is in place. On failure tsPath is left untouched.
func (r Remuxer) Remux(ctx context.Context, tsPath string) (string, error) {
	ffmpeg := r.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "remux"))

	if _, err := os.Stat(tsPath); err != nil {
		return "", fmt.Errorf("remux: %w", err)
	}

	out := MP4Path(tsPath)
	tmp := out + ".tmp"
	args := []string{
		"-y",
		"-loglevel", "error",
		"-i", tsPath,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-f", "mp4",
		tmp,
	}

	log.Info("converting video", slog.String("path", out))
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		log.Debug("ffmpeg output", slog.String("stderr", stderr.String()))
		return "", fmt.Errorf("ffmpeg failed: %w", err)
	}

	if _, err := os.Stat(tmp); err != nil {
		return "", errors.New("ffmpeg failed: no output written")
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("promote %s: %w", out, err)
	}
	if err := os.Remove(tsPath); err != nil {
		log.Warn("could not remove transport stream", slog.String("path", tsPath), slog.String("error", err.Error()))
	}
	return out, nil
}
