package fetch

import (
	"context"
	"time"
)

// Probe is the result of resolving a remote reference without downloading
// any media. Duration is zero when the upstream does not report one.
type Probe struct {
	ID        string
	Title     string
	Thumbnail string
	Duration  time.Duration
}

// Source resolves remote references into media. Probe must not materialize
// the media; Download writes an encoded audio file derived from stem and
// returns its path.
type Source interface {
	Probe(ctx context.Context, reference string) (Probe, error)
	Download(ctx context.Context, reference, stem string) (string, error)
}

// Encoder normalizes a raw downloaded file into the fixed-bitrate form the
// cache serves.
type Encoder interface {
	Normalize(ctx context.Context, src, dst string) error
}
