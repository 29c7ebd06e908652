// Package pipeline runs one source's fetch, filter, transform, media and notify cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/internal/media"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

// MaxBatch is the most new entries handled in one cycle.
const MaxBatch = 20

// State is the stage a pipeline cycle is in.
type State int

const (
	Idle State = iota
	Fetching
	Filtering
	Transforming
	ResolvingMedia
	Notifying
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Filtering:
		return "filtering"
	case Transforming:
		return "transforming"
	case ResolvingMedia:
		return "resolving_media"
	case Notifying:
		return "notifying"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CycleResult summarises one Run.
type CycleResult struct {
	Source   string
	State    State
	Fetched  int
	New      int
	Skipped  int
	Media    int
	Duration time.Duration
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Fetcher   FeedFetcher
	IDs       IdentifierSet
	Artifacts ArtifactStore
	Preparer  EntryPreparer
	Media     MediaResolver
	Notifier  Notifier
}

func (d Deps) validate() error {
	var missing []error
	if d.Fetcher == nil {
		missing = append(missing, errors.New("fetcher is required"))
	}
	if d.IDs == nil {
		missing = append(missing, errors.New("identifier set is required"))
	}
	if d.Artifacts == nil {
		missing = append(missing, errors.New("artifact store is required"))
	}
	if d.Preparer == nil {
		missing = append(missing, errors.New("entry preparer is required"))
	}
	if d.Media == nil {
		missing = append(missing, errors.New("media resolver is required"))
	}
	if d.Notifier == nil {
		missing = append(missing, errors.New("notifier is required"))
	}
	return errors.Join(missing...)
}

// Pipeline owns a single source. Run must not be called concurrently for the same Pipeline.
type Pipeline struct {
	src  sources.Source
	deps Deps
	log  logger.Logger
	now  func() time.Time

	mu    sync.RWMutex
	state State
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock sets the time source used for fetch timestamps and eviction.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds the pipeline for src and evicts expired artifacts. Eviction failures are logged.
func New(src sources.Source, deps Deps, log logger.Logger, opts ...Option) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", src.Name, err)
	}
	p := &Pipeline{
		src:  src,
		deps: deps,
		log:  logger.OrNop(log),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := deps.Artifacts.Evict(p.now()); err != nil {
		p.log.ErrorObj("artifact eviction failed", "eviction_error", map[string]any{
			"source": src.Name,
			"error":  err.Error(),
		})
	}
	return p, nil
}

// Name is the source name.
func (p *Pipeline) Name() string { return p.src.Name }

// Source returns the source definition.
func (p *Pipeline) Source() sources.Source { return p.src }

// State reports the stage of the current or last cycle.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run executes one cycle. A returned error means the cycle ended in Failed; persisted state is
// then exactly as before the cycle.
func (p *Pipeline) Run(ctx context.Context) (CycleResult, error) {
	start := p.now()
	res := CycleResult{Source: p.src.Name}
	finish := func(s State, err error) (CycleResult, error) {
		p.setState(s)
		res.State = s
		res.Duration = p.now().Sub(start)
		return res, err
	}

	p.setState(Fetching)
	entries, err := p.deps.Fetcher.Fetch(ctx, p.src)
	if err != nil {
		p.log.ErrorObj("feed fetch failed", "fetch_error", map[string]any{
			"source": p.src.Name,
			"url":    p.src.URL,
			"error":  err.Error(),
		})
		return finish(Failed, fmt.Errorf("fetch %s: %w", p.src.Name, err))
	}
	fetchedAt := p.now()
	res.Fetched = len(entries)

	p.setState(Filtering)
	fresh, skipped := p.filter(entries)
	res.New = len(fresh)
	res.Skipped = skipped
	if len(fresh) == 0 {
		p.log.DebugObj("no new entries", "cycle", map[string]any{
			"source":  p.src.Name,
			"fetched": len(entries),
		})
		return finish(Idle, nil)
	}

	p.setState(Transforming)
	prepared := make([]domain.PreparedEntry, 0, len(fresh))
	for _, e := range fresh {
		prepared = append(prepared, p.deps.Preparer.Prepare(e))
	}

	p.setState(ResolvingMedia)
	candidates := p.deps.Media.ExtractAll(fresh)
	items := p.deps.Media.Download(ctx, candidates, media.Limits{
		MaxImages: p.src.MaxImagesPerMail,
		MaxBytes:  p.src.MaxImageBytes(),
	})

	p.setState(Notifying)
	note := p.deps.Notifier.Compose(p.src, prepared, items)
	res.Media = len(note.Media)
	if err := p.deps.Notifier.Dispatch(ctx, note, p.deps.Artifacts); err != nil {
		return finish(Failed, fmt.Errorf("notify %s: %w", p.src.Name, err))
	}

	p.persist(fresh, fetchedAt)
	return finish(Idle, nil)
}

// filter returns the first MaxBatch unseen entries in feed order and marks them seen in memory.
// Entries past the cap stay unmarked so a later cycle picks them up.
func (p *Pipeline) filter(entries []domain.Entry) ([]domain.Entry, int) {
	var fresh []domain.Entry
	skipped := 0
	for _, e := range entries {
		if p.deps.IDs.Contains(e.ID) {
			continue
		}
		if len(fresh) >= MaxBatch {
			skipped++
			continue
		}
		p.deps.IDs.MarkSeen(e.ID)
		fresh = append(fresh, e)
	}
	if skipped > 0 {
		p.log.WarnObj("new entry backlog capped", "batch_cap", map[string]any{
			"source":   p.src.Name,
			"new":      len(fresh) + skipped,
			"deferred": skipped,
			"limit":    MaxBatch,
		})
	}
	return fresh, skipped
}

func (p *Pipeline) persist(fresh []domain.Entry, fetchedAt time.Time) {
	saved, err := p.deps.Artifacts.SaveSnapshots(fresh, fetchedAt)
	if err != nil {
		p.log.ErrorObj("snapshot write failed", "snapshot_error", map[string]any{
			"source": p.src.Name,
			"saved":  saved,
			"error":  err.Error(),
		})
	}
	if err := p.deps.IDs.Persist(); err != nil {
		p.log.ErrorObj("identifier cache persist failed", "cache_error", map[string]any{
			"source": p.src.Name,
			"error":  err.Error(),
		})
		return
	}
	p.log.InfoObj("batch processed", "cycle", map[string]any{
		"source":    p.src.Name,
		"entries":   len(fresh),
		"snapshots": saved,
		"known_ids": p.deps.IDs.Len(),
	})
}
