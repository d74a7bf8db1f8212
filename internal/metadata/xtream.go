// Package metadata connects the guide core to an Xtream Codes panel: it
// answers guide queries for the scheduler and lists the live catalog the
// scheduler is driven with.
package metadata

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/nownext/internal/guide"
	"github.com/jmylchreest/nownext/internal/observability"
	"github.com/jmylchreest/nownext/pkg/xtream"
)

// XtreamService implements guide.MetadataService over the player API.
type XtreamService struct {
	client  *xtream.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ guide.MetadataService = (*XtreamService)(nil)

// NewXtreamService creates an unpaced service using client.
func NewXtreamService(client *xtream.Client) *XtreamService {
	return &XtreamService{
		client: client,
		logger: observability.WithComponent(slog.Default(), "metadata"),
	}
}

// WithRateLimit paces queries to requestsPerSecond with the given burst.
// A non-positive rate removes pacing.
func (s *XtreamService) WithRateLimit(requestsPerSecond float64, burst int) *XtreamService {
	if requestsPerSecond <= 0 {
		s.limiter = nil
		return s
	}
	s.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), max(burst, 1))
	return s
}

// WithLogger sets a custom logger.
func (s *XtreamService) WithLogger(logger *slog.Logger) *XtreamService {
	s.logger = observability.WithComponent(logger, "metadata")
	return s
}

// FetchShortGuide asks get_short_epg for up to limit programmes.
func (s *XtreamService) FetchShortGuide(ctx context.Context, channelID string, limit int) ([]guide.RawEntry, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	listings, err := s.client.GetShortEPG(ctx, channelID, limit)
	if err != nil {
		return nil, classify("short guide", channelID, err)
	}
	return toRawEntries(listings), nil
}

// FetchFullGuide asks get_simple_data_table for the channel's whole table,
// ordered by start time.
func (s *XtreamService) FetchFullGuide(ctx context.Context, channelID string) ([]guide.RawEntry, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	listings, err := s.client.GetFullEPG(ctx, channelID)
	if err != nil {
		return nil, classify("full guide", channelID, err)
	}

	entries := toRawEntries(listings)
	slices.SortStableFunc(entries, func(a, b guide.RawEntry) int {
		return cmp.Compare(a.Start.Unix(), b.Start.Unix())
	})
	s.logger.Log(ctx, observability.LevelTrace, "full guide table received",
		slog.String("channel_id", channelID),
		slog.Int("listings", len(entries)),
	)
	return entries, nil
}

func (s *XtreamService) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: waiting for rate limiter: %w", guide.ErrNetworkFailure, err)
	}
	return nil
}

// classify maps client errors onto the guide error kinds.
func classify(query, channelID string, err error) error {
	if errors.Is(err, xtream.ErrDecode) {
		return fmt.Errorf("%w: %s for %s: %w", guide.ErrDecodeFailure, query, channelID, err)
	}
	return fmt.Errorf("%w: %s for %s: %w", guide.ErrNetworkFailure, query, channelID, err)
}

func toRawEntries(listings []xtream.EPGListing) []guide.RawEntry {
	out := make([]guide.RawEntry, 0, len(listings))
	for i := range listings {
		l := &listings[i]
		out = append(out, guide.RawEntry{
			Title:       l.Title,
			Description: l.Description,
			Start:       l.StartTime(),
			Stop:        l.EndTime(),
		})
	}
	return out
}
