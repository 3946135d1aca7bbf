package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// YTDLP shells out to the yt-dlp binary for probing and downloading. Calls
// are throttled by a process-wide limiter so a burst of requests does not
// hammer the upstream.
type YTDLP struct {
	binary  string
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewYTDLP creates a source using the given binary path. perMinute bounds
// upstream calls; zero or negative falls back to 50.
func NewYTDLP(binary string, perMinute int, logger *log.Logger) *YTDLP {
	if binary == "" {
		binary = "yt-dlp"
	}
	if perMinute <= 0 {
		perMinute = 50
	}
	if logger == nil {
		logger = log.Default()
	}
	return &YTDLP{
		binary:  binary,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		logger:  logger,
	}
}

type probePayload struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
}

// Probe extracts metadata for the reference without downloading media.
func (y *YTDLP) Probe(ctx context.Context, reference string) (Probe, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return Probe{}, err
	}

	out, err := y.run(ctx, "--dump-single-json", "--no-download", "--no-warnings", reference)
	if err != nil {
		return Probe{}, err
	}

	var payload probePayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return Probe{}, fmt.Errorf("parse probe output: %w", err)
	}

	return Probe{
		ID:        payload.ID,
		Title:     payload.Title,
		Thumbnail: payload.Thumbnail,
		Duration:  time.Duration(payload.Duration * float64(time.Second)),
	}, nil
}

// Download fetches the best available audio for the reference and extracts
// it as mp3 next to stem. The returned path is stem plus the mp3 extension.
func (y *YTDLP) Download(ctx context.Context, reference, stem string) (string, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return "", err
	}

	_, err := y.run(ctx,
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"--no-warnings", "--no-progress",
		"-o", stem+".%(ext)s",
		reference,
	)
	if err != nil {
		return "", err
	}

	path := stem + ".mp3"
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("downloaded file missing: %w", err)
	}
	return path, nil
}

func (y *YTDLP) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, y.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	y.logger.Debug("running extractor", "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("yt-dlp: %s", firstLine(detail))
	}

	return stdout.Bytes(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
