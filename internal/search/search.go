package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"audiograb/internal/models"
)

// Searcher answers a free-text query with a bounded list of candidate
// references, already filtered by the duration ceiling.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// YTDLP queries the upstream catalog through the yt-dlp search extractor.
type YTDLP struct {
	binary  string
	limit   int
	ceiling time.Duration
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewYTDLP builds a catalog searcher returning at most limit raw results,
// keeping only entries shorter than ceiling.
func NewYTDLP(binary string, limit int, ceiling time.Duration, perMinute int, logger *log.Logger) *YTDLP {
	if binary == "" {
		binary = "yt-dlp"
	}
	if limit <= 0 {
		limit = 15
	}
	if perMinute <= 0 {
		perMinute = 50
	}
	if logger == nil {
		logger = log.Default()
	}
	return &YTDLP{
		binary:  binary,
		limit:   limit,
		ceiling: ceiling,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		logger:  logger,
	}
}

// Search runs the catalog query and maps the raw entries.
func (y *YTDLP) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, y.binary,
		fmt.Sprintf("ytsearch%d:%s", y.limit, query),
		"--dump-json", "--flat-playlist", "--no-warnings",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("catalog search: %s", detail)
	}

	results, err := parseResults(&stdout, y.ceiling)
	if err != nil {
		// Entries scanned before the failure are still good; serve them.
		y.logger.Warn("catalog output truncated", "query", query, "err", err)
	}
	return results, nil
}

type catalogEntry struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	Duration   float64 `json:"duration"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

// parseResults reads one JSON object per line and keeps entries with a known
// duration strictly below the ceiling. Entries the decoder cannot parse are
// skipped rather than failing the whole query; a scanner failure (an
// oversized line, typically) returns the entries collected so far alongside
// the error.
func parseResults(r *bytes.Buffer, ceiling time.Duration) ([]models.SearchResult, error) {
	results := make([]models.SearchResult, 0)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var entry catalogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}

		duration := time.Duration(entry.Duration * float64(time.Second))
		if duration <= 0 || duration >= ceiling {
			continue
		}

		link := entry.WebpageURL
		if link == "" {
			link = entry.URL
		}
		if entry.Title == "" || link == "" {
			continue
		}

		thumbnail := ""
		if len(entry.Thumbnails) > 0 {
			thumbnail = entry.Thumbnails[0].URL
		}

		results = append(results, models.SearchResult{
			Title:     entry.Title,
			URL:       link,
			Thumbnail: thumbnail,
		})
	}

	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("scan catalog output: %w", err)
	}
	return results, nil
}
