package guide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/nownext/internal/observability"
)

// DefaultShortLimit is the number of programmes asked for by the short query.
const DefaultShortLimit = 2

// Outcome is how a fetch cycle ended.
type Outcome int

const (
	OutcomeLoaded Outcome = iota
	OutcomeEmpty
	OutcomeFailed
	// OutcomeSuperseded means the result was discarded because a newer fetch
	// was issued or the catalog changed.
	OutcomeSuperseded
	// OutcomeBusy means another fetch for the channel was already running.
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoaded:
		return "loaded"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Pipeline runs one fetch cycle for a channel: the short query, at most one
// fallback to the full table, and a sequence-gated cache write.
type Pipeline struct {
	svc        MetadataService
	cache      *Cache
	inflight   *InFlight
	shortLimit int
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time

	mu        sync.RWMutex
	listeners []UpdateFunc
}

// NewPipeline creates a pipeline writing into cache.
func NewPipeline(svc MetadataService, cache *Cache, inflight *InFlight) *Pipeline {
	return &Pipeline{
		svc:        svc,
		cache:      cache,
		inflight:   inflight,
		shortLimit: DefaultShortLimit,
		logger:     observability.WithComponent(slog.Default(), "guide.pipeline"),
		now:        time.Now,
	}
}

// WithLogger sets a custom logger.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = observability.WithComponent(logger, "guide.pipeline")
	return p
}

// WithMetrics sets the metrics sink.
func (p *Pipeline) WithMetrics(m *Metrics) *Pipeline {
	p.metrics = m
	return p
}

// WithShortLimit sets how many programmes the short query asks for.
func (p *Pipeline) WithShortLimit(limit int) *Pipeline {
	if limit > 0 {
		p.shortLimit = limit
	}
	return p
}

// Cache returns the cache the pipeline writes into.
func (p *Pipeline) Cache() *Cache {
	return p.cache
}

// OnUpdate registers fn to be called after every applied write.
func (p *Pipeline) OnUpdate(fn UpdateFunc) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Fetch runs a fetch cycle for channelID under sequence seq.
func (p *Pipeline) Fetch(ctx context.Context, channelID string, seq uint64) Outcome {
	if !p.inflight.TryBegin(channelID) {
		p.metrics.observeOutcome(OutcomeBusy)
		return OutcomeBusy
	}
	defer p.inflight.End(channelID)

	p.metrics.addInFlight(1)
	defer p.metrics.addInFlight(-1)

	logger := observability.WithChannel(p.logger, channelID).With(slog.Uint64("sequence", seq))

	if !p.cache.Begin(channelID, seq) {
		logger.Debug("fetch skipped", slog.String("error", ErrSuperseded.Error()))
		p.metrics.observeOutcome(OutcomeSuperseded)
		return OutcomeSuperseded
	}
	p.metrics.setCacheEntries(p.cache.Len())

	state, err := p.acquire(ctx, logger, channelID)
	state.FetchedAtSequence = seq
	state.UpdatedAt = p.now()

	outcome := outcomeFor(state.Status)
	if !p.cache.Put(channelID, state) {
		logger.Debug("result discarded", slog.String("error", ErrSuperseded.Error()))
		p.metrics.observeOutcome(OutcomeSuperseded)
		return OutcomeSuperseded
	}
	p.metrics.setCacheEntries(p.cache.Len())
	p.metrics.observeOutcome(outcome)

	switch outcome {
	case OutcomeFailed:
		observability.WithError(logger, err).Warn("guide unavailable")
	case OutcomeEmpty:
		logger.Debug("guide empty")
	default:
		logger.Log(ctx, observability.LevelTrace, "guide loaded", slog.Int("entries", len(state.Entries)))
	}

	p.notify(channelID, state)
	return outcome
}

// acquire runs the short query and, if it yields nothing, the full table once.
func (p *Pipeline) acquire(ctx context.Context, logger *slog.Logger, channelID string) (GuideState, error) {
	raw, err := p.query(ctx, queryShort, func(ctx context.Context) ([]RawEntry, error) {
		return p.svc.FetchShortGuide(ctx, channelID, p.shortLimit)
	})
	if err == nil {
		return GuideState{Status: StatusLoaded, Entries: p.decode(logger, limit(raw, p.shortLimit))}, nil
	}
	logger.Debug("short guide query yielded nothing, trying full table", slog.String("error", err.Error()))

	if ctx.Err() != nil {
		return GuideState{Status: StatusFailed}, fmt.Errorf("%w: %w", ErrNetworkFailure, ctx.Err())
	}

	raw, err = p.query(ctx, queryFull, func(ctx context.Context) ([]RawEntry, error) {
		entries, err := p.svc.FetchFullGuide(ctx, channelID)
		return limit(upcoming(entries, p.now()), p.shortLimit), err
	})
	switch {
	case err == nil:
		return GuideState{Status: StatusLoaded, Entries: p.decode(logger, raw)}, nil
	case errors.Is(err, ErrEmptyResult):
		return GuideState{Status: StatusEmpty}, err
	default:
		return GuideState{Status: StatusFailed}, err
	}
}

// query runs one metadata service call and classifies its result. An empty
// list is reported as ErrEmptyResult; other errors are ErrNetworkFailure
// unless the service already classified them.
func (p *Pipeline) query(ctx context.Context, kind string, call func(context.Context) ([]RawEntry, error)) ([]RawEntry, error) {
	start := time.Now()
	raw, err := call(ctx)
	p.metrics.observeQuery(kind, err, len(raw), time.Since(start))

	if err != nil {
		if !errors.Is(err, ErrNetworkFailure) && !errors.Is(err, ErrDecodeFailure) {
			err = fmt.Errorf("%w: %w", ErrNetworkFailure, err)
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyResult
	}
	return raw, nil
}

func (p *Pipeline) decode(logger *slog.Logger, raw []RawEntry) []ProgramEntry {
	out := make([]ProgramEntry, 0, len(raw))
	for _, r := range raw {
		title := DecodeText(r.Title)
		if title == r.Title && title != "" {
			logger.Log(context.Background(), observability.LevelTrace, "title kept as received",
				slog.String("error", ErrDecodeFailure.Error()))
		}
		out = append(out, ProgramEntry{
			Title:       title,
			Description: DecodeText(r.Description),
			Start:       r.Start,
			Stop:        r.Stop,
		})
	}
	return out
}

func (p *Pipeline) notify(channelID string, state GuideState) {
	p.mu.RLock()
	listeners := append([]UpdateFunc(nil), p.listeners...)
	p.mu.RUnlock()

	for _, fn := range listeners {
		fn(channelID, state.clone())
	}
}

func outcomeFor(s Status) Outcome {
	switch s {
	case StatusLoaded:
		return OutcomeLoaded
	case StatusEmpty:
		return OutcomeEmpty
	default:
		return OutcomeFailed
	}
}

// upcoming drops programmes whose stop time is known and already past.
func upcoming(entries []RawEntry, now time.Time) []RawEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if !e.Stop.IsZero() && !e.Stop.After(now) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func limit(entries []RawEntry, n int) []RawEntry {
	if n > 0 && len(entries) > n {
		return entries[:n]
	}
	return entries
}
