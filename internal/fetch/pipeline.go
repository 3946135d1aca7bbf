package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"audiograb/internal/media"
	"audiograb/internal/store"
)

// Result is the single terminal message a production emits. Success fills
// the first three fields; any failure fills Err instead. The transport ships
// it as JSON with HTTP 200 either way, so callers must inspect the payload.
type Result struct {
	Thumbnail  string `json:"img,omitempty"`
	DirectLink string `json:"direct_link,omitempty"`
	ExpiresAt  int64  `json:"expiration_timestamp,omitempty"`
	Err        string `json:"error,omitempty"`
}

// Settings bundles the pipeline's tunables and optional observation hooks.
type Settings struct {
	DurationCeiling time.Duration
	RetentionPeriod time.Duration
	FetchTimeout    time.Duration

	// Verify checks a normalized file before it is published; nil installs
	// a decoder walk over the produced mp3.
	Verify func(path string) error

	OnProduced func()
	OnFailed   func()
}

// Pipeline turns a remote reference into a published cache artifact.
// Production for one id is serialized: the second concurrent request for the
// same reference waits for the first and then reuses its output.
type Pipeline struct {
	source   Source
	encoder  Encoder
	store    *store.Store
	settings Settings
	logger   *log.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewPipeline wires a pipeline over the given collaborators.
func NewPipeline(source Source, encoder Encoder, st *store.Store, settings Settings, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	if settings.Verify == nil {
		settings.Verify = func(path string) error {
			_, err := media.Duration(path)
			return err
		}
	}
	return &Pipeline{
		source:   source,
		encoder:  encoder,
		store:    st,
		settings: settings,
		logger:   logger,
		inflight: make(map[string]chan struct{}),
	}
}

// Produce runs one production for reference and reports the outcome. It
// never returns a transport-level fault: every failure becomes Result.Err.
func (p *Pipeline) Produce(ctx context.Context, reference string, base *url.URL) Result {
	if p.settings.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.settings.FetchTimeout)
		defer cancel()
	}

	id := store.ArtifactID(reference)
	release := p.acquire(id)
	defer release()

	probe, err := p.source.Probe(ctx, reference)
	if err != nil {
		return p.fail(reference, err)
	}

	if probe.Duration <= 0 || probe.Duration > p.settings.DurationCeiling {
		p.logger.Info("rejected by duration gate",
			"reference", reference, "duration", probe.Duration)
		if p.settings.OnFailed != nil {
			p.settings.OnFailed()
		}
		return Result{Err: fmt.Sprintf(
			"Video duration must be less than or equal to %d minutes.",
			int(p.settings.DurationCeiling.Minutes()))}
	}

	// Fresh artifact already on disk: no second fetch for the same id.
	if info, err := os.Stat(p.store.FinalPath(id)); err == nil {
		if age := time.Since(info.ModTime()); age < p.settings.RetentionPeriod {
			return p.success(probe, base, id, info.ModTime().Add(p.settings.RetentionPeriod))
		}
	}

	stem := filepath.Join(p.store.StagingDir(), id+".raw")
	raw, err := p.source.Download(ctx, reference, stem)
	if err != nil {
		return p.fail(reference, err)
	}
	defer os.Remove(raw)

	normalized := filepath.Join(p.store.StagingDir(), id+".mp3")
	if err := p.encoder.Normalize(ctx, raw, normalized); err != nil {
		os.Remove(normalized)
		return p.fail(reference, err)
	}

	if err := p.settings.Verify(normalized); err != nil {
		os.Remove(normalized)
		return p.fail(reference, fmt.Errorf("produced artifact failed verification: %w", err))
	}

	if _, err := p.store.Finalize(normalized, id); err != nil {
		os.Remove(normalized)
		return p.fail(reference, err)
	}

	p.logger.Info("artifact produced", "id", id, "title", probe.Title)
	if p.settings.OnProduced != nil {
		p.settings.OnProduced()
	}

	return p.success(probe, base, id, time.Now().Add(p.settings.RetentionPeriod))
}

func (p *Pipeline) success(probe Probe, base *url.URL, id string, expires time.Time) Result {
	link := *base
	link.Path = "/audios/" + id + ".mp3"
	link.RawQuery = ""

	return Result{
		Thumbnail:  probe.Thumbnail,
		DirectLink: link.String(),
		ExpiresAt:  expires.Unix(),
	}
}

func (p *Pipeline) fail(reference string, err error) Result {
	p.logger.Error("production failed", "reference", reference, "err", err)
	if p.settings.OnFailed != nil {
		p.settings.OnFailed()
	}
	return Result{Err: fmt.Sprintf("Error processing video: %v", err)}
}

// acquire blocks until this goroutine is the only producer for id and
// returns the release function.
func (p *Pipeline) acquire(id string) func() {
	for {
		p.mu.Lock()
		busy, ok := p.inflight[id]
		if !ok {
			token := make(chan struct{})
			p.inflight[id] = token
			p.mu.Unlock()
			return func() {
				p.mu.Lock()
				delete(p.inflight, id)
				p.mu.Unlock()
				close(token)
			}
		}
		p.mu.Unlock()
		<-busy
	}
}
