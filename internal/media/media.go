package media

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"audiograb/internal/models"
)

// Inspect builds an artifact snapshot for a completed cache file. The
// retention period turns the file's modification time into the derived
// expiry; nothing is persisted besides the file itself.
func Inspect(path string, retention time.Duration) (models.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Artifact{}, err
	}

	filename := filepath.Base(path)
	id := strings.TrimSuffix(filename, filepath.Ext(filename))

	title := readTitle(path)
	if title == "" {
		title = id
	}

	var durationPtr *float64
	var bitratePtr *int

	if dur, err := Duration(path); err == nil && dur > 0 {
		seconds := dur.Seconds()
		durationPtr = &seconds

		bitrate := int(math.Round((float64(info.Size()) * 8) / seconds / 1000))
		if bitrate > 0 {
			bitratePtr = &bitrate
		}
	}

	created := info.ModTime().UTC().Round(time.Second)

	return models.Artifact{
		ID:              id,
		Filename:        filename,
		Title:           title,
		SizeBytes:       info.Size(),
		DurationSeconds: durationPtr,
		BitrateKbps:     bitratePtr,
		CreatedAt:       created,
		ExpiresAt:       created.Add(retention),
	}, nil
}

// Duration decodes the mp3 frame by frame and sums the playable time. It is
// also the post-production sanity check: a file the decoder cannot walk is
// not a valid artifact.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total time.Duration

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration()
	}

	if total <= 0 {
		return 0, errors.New("no decodable audio frames")
	}

	return total, nil
}

func readTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(meta.Title())
}
