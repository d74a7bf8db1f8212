package guide

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/jmylchreest/nownext/internal/observability"
)

// SchedulerConfig holds the prefetch policy.
type SchedulerConfig struct {
	// StepDelay is the stagger between consecutive fetches of one batch.
	StepDelay time.Duration
	// MaxDelay caps the stagger of any single fetch.
	MaxDelay time.Duration
	// Lookahead extends the visibility window past the last visible row.
	Lookahead int
	// HardCutoff makes the first HardCutoff positions always eligible.
	HardCutoff int
	// WorkerPoolSize bounds concurrent fetches. 0 means unbounded.
	WorkerPoolSize int
}

// DefaultSchedulerConfig returns the default prefetch policy.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		StepDelay:  150 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Lookahead:  4,
		HardCutoff: 9,
	}
}

// timer is the part of *time.Timer the scheduler uses.
type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Scheduler turns the channels of the current catalog into staggered fetches,
// prioritising what is visible.
//
// Per channel: Unrequested -> Scheduled (timer staged) -> Pending (fetch
// issued) -> Loaded, Empty or Failed. A catalog change cancels every
// Scheduled channel and invalidates the cache.
type Scheduler struct {
	pipeline *Pipeline
	cfg      SchedulerConfig
	logger   *slog.Logger
	metrics  *Metrics
	pool     *ants.Pool
	after    afterFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	generation uint64
	catalog    []string
	positions  map[string]int
	requested  map[string]struct{}
	timers     map[string]timer
	dispatched map[string]dispatch

	windowStart, windowEnd   int
	visibleStart, visibleEnd int
}

// dispatch tracks fetches whose timer fired but whose Fetch has not returned.
// seq is the newest sequence handed out.
type dispatch struct {
	seq uint64
	n   int
}

// NewScheduler creates a scheduler driving pipeline.
func NewScheduler(pipeline *Pipeline, cfg SchedulerConfig) (*Scheduler, error) {
	s := &Scheduler{
		pipeline:   pipeline,
		cfg:        cfg,
		logger:     observability.WithComponent(slog.Default(), "guide.scheduler"),
		after:      realAfterFunc,
		positions:  make(map[string]int),
		requested:  make(map[string]struct{}),
		timers:     make(map[string]timer),
		dispatched: make(map[string]dispatch),
		windowEnd:  cfg.HardCutoff,
	}

	size := cfg.WorkerPoolSize
	if size <= 0 {
		size = -1
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(r any) {
		s.logger.Error("guide fetch panicked", slog.Any("panic", r))
	}))
	if err != nil {
		return nil, fmt.Errorf("creating fetch pool: %w", err)
	}
	s.pool = pool
	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = observability.WithComponent(logger, "guide.scheduler")
	return s
}

// WithMetrics sets the metrics sink.
func (s *Scheduler) WithMetrics(m *Metrics) *Scheduler {
	s.metrics = m
	return s
}

// OnCatalogChanged replaces the catalog. Every unfired timer of the previous
// catalog is stopped, the cache is cleared, the visibility window goes back to
// the top of the list and the eligible channels are staged.
func (s *Scheduler) OnCatalogChanged(channelIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.generation++
	cancelled := len(s.timers)
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.pipeline.Cache().InvalidateAll()

	s.catalog = make([]string, 0, len(channelIDs))
	s.positions = make(map[string]int, len(channelIDs))
	s.requested = make(map[string]struct{})
	for _, id := range channelIDs {
		if _, dup := s.positions[id]; dup || id == "" {
			continue
		}
		s.positions[id] = len(s.catalog)
		s.catalog = append(s.catalog, id)
	}

	s.windowStart, s.windowEnd = 0, s.cfg.HardCutoff
	s.visibleStart, s.visibleEnd = 0, 0

	s.metrics.setCatalogSize(len(s.catalog))
	s.metrics.setCacheEntries(0)
	staged := s.scheduleEligibleLocked()

	s.logger.Info("catalog changed",
		slog.Int("channels", len(s.catalog)),
		slog.Int("cancelled", cancelled),
		slog.Int("scheduled", staged),
		slog.Uint64("generation", s.generation),
	)
}

// OnVisibilityChanged moves the priority window to
// [firstVisible, firstVisible+visibleCount+Lookahead) and stages newly
// eligible channels.
func (s *Scheduler) OnVisibilityChanged(firstVisible, visibleCount int) {
	firstVisible = max(firstVisible, 0)
	visibleCount = max(visibleCount, 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.visibleStart, s.visibleEnd = firstVisible, firstVisible+visibleCount
	s.windowStart, s.windowEnd = firstVisible, firstVisible+visibleCount+s.cfg.Lookahead

	if staged := s.scheduleEligibleLocked(); staged > 0 {
		s.logger.Debug("visibility changed",
			slog.Int("first_visible", firstVisible),
			slog.Int("visible_count", visibleCount),
			slog.Int("scheduled", staged),
		)
	}
}

// Request asks for a channel's guide now, whatever the window. Empty and
// Failed channels are fetched again. It returns false for channels that are
// unknown, already scheduled, pending or loaded.
func (s *Scheduler) Request(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.positions[channelID]; !ok {
		return false
	}
	if _, ok := s.timers[channelID]; ok {
		return false
	}
	if _, ok := s.dispatched[channelID]; ok {
		return false
	}
	if s.pipeline.inflight.Running(channelID) {
		return false
	}
	if st, ok := s.pipeline.Cache().Get(channelID); ok && (st.Status == StatusPending || st.Status == StatusLoaded) {
		return false
	}

	s.requested[channelID] = struct{}{}
	s.stageLocked(channelID, 0)
	s.metrics.setScheduled(len(s.timers))
	return true
}

// Refresh re-applies the current catalog, sending every channel back
// through the fetch cycle.
func (s *Scheduler) Refresh() {
	s.mu.Lock()
	ids := append([]string(nil), s.catalog...)
	s.mu.Unlock()

	s.OnCatalogChanged(ids)
}

// Get returns the cached guide of a channel without fetching. Channels never
// fetched report StatusUnrequested. A channel whose timer fired reports
// StatusPending until its fetch stores a result, even before the fetch has
// reached the cache.
func (s *Scheduler) Get(channelID string) GuideState {
	s.mu.Lock()
	d, dispatched := s.dispatched[channelID]
	st, ok := s.pipeline.Cache().Get(channelID)
	s.mu.Unlock()

	if dispatched && (!ok || st.FetchedAtSequence < d.seq) {
		st.ChannelID = channelID
		st.Status = StatusPending
		return st
	}
	if ok {
		return st
	}
	return GuideState{ChannelID: channelID, Status: StatusUnrequested}
}

// Known reports whether the channel is in the current catalog.
func (s *Scheduler) Known(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.positions[channelID]
	return ok
}

// Scheduled reports whether the channel has a staged, unfired fetch.
func (s *Scheduler) Scheduled(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[channelID]
	return ok
}

// Catalog returns the current channel list in position order.
func (s *Scheduler) Catalog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.catalog...)
}

// OnGuideUpdated registers fn to be told about every stored result.
func (s *Scheduler) OnGuideUpdated(fn UpdateFunc) {
	s.pipeline.OnUpdate(fn)
}

// Pending returns the number of staged fetches whose timer has not fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every timer, cancels running fetches and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.Release()
	s.metrics.setScheduled(0)
}

// eligibleLocked reports whether a position is inside the visibility window
// or below the hard cutoff.
func (s *Scheduler) eligibleLocked(pos int) bool {
	return (pos >= s.windowStart && pos < s.windowEnd) || pos < s.cfg.HardCutoff
}

// needsFetchLocked reports whether a channel has nothing cached, staged,
// dispatched or running.
func (s *Scheduler) needsFetchLocked(channelID string) bool {
	if _, ok := s.timers[channelID]; ok {
		return false
	}
	if _, ok := s.dispatched[channelID]; ok {
		return false
	}
	if _, ok := s.pipeline.Cache().Get(channelID); ok {
		return false
	}
	return !s.pipeline.inflight.Running(channelID)
}

// scheduleEligibleLocked stages every eligible channel that needs a fetch,
// visible rows first, and returns how many were staged.
func (s *Scheduler) scheduleEligibleLocked() int {
	var visible, rest []int
	for pos, id := range s.catalog {
		if !s.eligibleLocked(pos) || !s.needsFetchLocked(id) {
			continue
		}
		if pos >= s.visibleStart && pos < s.visibleEnd {
			visible = append(visible, pos)
		} else {
			rest = append(rest, pos)
		}
	}
	sort.Ints(visible)
	sort.Ints(rest)

	for i, pos := range append(visible, rest...) {
		s.stageLocked(s.catalog[pos], s.staggerDelay(i))
	}
	s.metrics.setScheduled(len(s.timers))
	return len(visible) + len(rest)
}

func (s *Scheduler) staggerDelay(i int) time.Duration {
	return min(time.Duration(i)*s.cfg.StepDelay, s.cfg.MaxDelay)
}

func (s *Scheduler) stageLocked(channelID string, delay time.Duration) {
	gen := s.generation
	s.timers[channelID] = s.after(delay, func() {
		s.fire(channelID, gen)
	})
}

// fire runs when a staged timer elapses. A timer from an earlier catalog
// generation does nothing, even if Stop came too late to prevent the call.
// The channel moves from timers to dispatched under one lock so it is never
// seen as neither Scheduled nor Pending.
func (s *Scheduler) fire(channelID string, gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	if _, ok := s.timers[channelID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timers, channelID)
	seq := s.pipeline.Cache().NextSequence(channelID)
	d := s.dispatched[channelID]
	d.seq, d.n = seq, d.n+1
	s.dispatched[channelID] = d
	ctx := s.ctx
	s.wg.Add(1)
	s.metrics.setScheduled(len(s.timers))
	s.mu.Unlock()

	err := s.pool.Submit(func() {
		defer s.wg.Done()
		outcome := s.pipeline.Fetch(ctx, channelID, seq)
		s.settled(channelID, gen, outcome)
	})
	if err != nil {
		s.mu.Lock()
		s.doneLocked(channelID)
		s.mu.Unlock()
		s.wg.Done()
		s.logger.Warn("guide fetch not submitted",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
	}
}

// doneLocked clears one dispatched fetch of the channel.
func (s *Scheduler) doneLocked(channelID string) {
	d, ok := s.dispatched[channelID]
	if !ok {
		return
	}
	if d.n--; d.n <= 0 {
		delete(s.dispatched, channelID)
		return
	}
	s.dispatched[channelID] = d
}

// settled clears the dispatched fetch and restages a channel whose fetch
// ended without a stored result, provided it still belongs to the current
// catalog and wants a guide.
func (s *Scheduler) settled(channelID string, gen uint64, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doneLocked(channelID)
	if outcome != OutcomeSuperseded && outcome != OutcomeBusy {
		return
	}
	if s.closed {
		return
	}
	pos, ok := s.positions[channelID]
	if !ok {
		return
	}
	_, requested := s.requested[channelID]
	if !s.eligibleLocked(pos) && !requested {
		return
	}
	if !s.needsFetchLocked(channelID) {
		return
	}

	s.logger.Debug("restaging fetch",
		slog.String("channel_id", channelID),
		slog.String("outcome", outcome.String()),
		slog.Bool("stale_generation", gen != s.generation),
	)
	s.stageLocked(channelID, 0)
	s.metrics.setScheduled(len(s.timers))
}
