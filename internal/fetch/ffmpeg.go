package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// FFmpeg re-encodes a downloaded file to mp3 at a fixed bitrate, writing to
// a separate destination so the served name never holds non-normalized data.
type FFmpeg struct {
	binary  string
	bitrate string
	logger  *log.Logger
}

// NewFFmpeg creates an encoder targeting the given bitrate (e.g. "256k").
func NewFFmpeg(binary, bitrate string, logger *log.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if bitrate == "" {
		bitrate = "256k"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FFmpeg{binary: binary, bitrate: bitrate, logger: logger}
}

// Normalize converts src into a constant-bitrate mp3 at dst.
func (f *FFmpeg) Normalize(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, f.binary,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vn", "-codec:a", "libmp3lame", "-b:a", f.bitrate,
		dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.logger.Debug("normalizing audio", "src", src, "bitrate", f.bitrate)

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("ffmpeg: %s", detail)
	}
	return nil
}
