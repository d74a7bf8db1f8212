// Package handlers provides the HTTP API handlers for nownext.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/jmylchreest/nownext/internal/guide"
	"github.com/jmylchreest/nownext/internal/observability"
	"github.com/jmylchreest/nownext/internal/render"
)

// GuideScheduler is the part of *guide.Scheduler the API drives.
type GuideScheduler interface {
	OnCatalogChanged(channelIDs []string)
	OnVisibilityChanged(firstVisible, visibleCount int)
	Request(channelID string) bool
	Refresh()
	Get(channelID string) guide.GuideState
	Known(channelID string) bool
	Scheduled(channelID string) bool
	Catalog() []string
	Pending() int
}

// GuideHandler exposes the guide scheduler over HTTP.
type GuideHandler struct {
	scheduler         GuideScheduler
	events            *render.Broadcaster
	heartbeatInterval time.Duration
}

// NewGuideHandler creates a guide handler. events may be nil, in which case
// the event stream is not registered.
func NewGuideHandler(scheduler GuideScheduler, events *render.Broadcaster) *GuideHandler {
	return &GuideHandler{
		scheduler:         scheduler,
		events:            events,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *GuideHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// CatalogResponse describes the current catalog.
type CatalogResponse struct {
	ChannelIDs []string `json:"channel_ids"`
	Pending    int      `json:"pending_fetches" doc:"Fetches staged on a timer that has not fired"`
}

// ProgramResponse is one programme of a channel guide.
type ProgramResponse struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	Stop        *time.Time `json:"stop,omitempty"`
}

// GuideResponse is the cached guide of a channel.
type GuideResponse struct {
	ChannelID string            `json:"channel_id"`
	Status    string            `json:"status" enum:"unrequested,pending,loaded,empty,failed"`
	Scheduled bool              `json:"scheduled" doc:"A fetch is staged and has not started"`
	Sequence  uint64            `json:"sequence"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
	Entries   []ProgramResponse `json:"entries"`
}

// GuideFromState converts a cached state to a response.
func GuideFromState(st guide.GuideState, scheduled bool) GuideResponse {
	resp := GuideResponse{
		ChannelID: st.ChannelID,
		Status:    st.Status.String(),
		Scheduled: scheduled,
		Sequence:  st.FetchedAtSequence,
		Entries:   make([]ProgramResponse, 0, len(st.Entries)),
	}
	if !st.UpdatedAt.IsZero() {
		t := st.UpdatedAt
		resp.UpdatedAt = &t
	}
	for _, e := range st.Entries {
		p := ProgramResponse{Title: e.Title, Description: e.Description}
		if !e.Start.IsZero() {
			start := e.Start
			p.Start = &start
		}
		if !e.Stop.IsZero() {
			stop := e.Stop
			p.Stop = &stop
		}
		resp.Entries = append(resp.Entries, p)
	}
	return resp
}

// SetCatalogInput is the input for replacing the catalog.
type SetCatalogInput struct {
	Body struct {
		ChannelIDs []string `json:"channel_ids" doc:"Channel IDs in display order"`
	}
}

// CatalogOutput is the output of the catalog operations.
type CatalogOutput struct {
	Body CatalogResponse
}

// GetCatalogInput is the input for reading the catalog.
type GetCatalogInput struct{}

// SetVisibilityInput is the input for moving the visible range.
type SetVisibilityInput struct {
	Body struct {
		FirstVisible int `json:"first_visible" minimum:"0" doc:"Position of the first visible row"`
		VisibleCount int `json:"visible_count" minimum:"0" doc:"Number of visible rows"`
	}
}

// SetVisibilityOutput is the output for moving the visible range.
type SetVisibilityOutput struct {
	Body struct {
		Pending int `json:"pending_fetches"`
	}
}

// GetGuideInput is the input for reading a channel guide.
type GetGuideInput struct {
	ChannelID string `path:"channelId" doc:"Channel ID"`
}

// GetGuideOutput is the output for reading a channel guide.
type GetGuideOutput struct {
	Body GuideResponse
}

// RequestGuideInput is the input for an on-demand fetch.
type RequestGuideInput struct {
	ChannelID string `path:"channelId" doc:"Channel ID"`
}

// RequestGuideOutput is the output for an on-demand fetch.
type RequestGuideOutput struct {
	Body struct {
		Accepted bool          `json:"accepted" doc:"False when the guide is already loaded, pending or scheduled"`
		Guide    GuideResponse `json:"guide"`
	}
}

// RefreshInput is the input for refreshing the catalog.
type RefreshInput struct{}

// GuideEventsInput is the input for the guide event stream.
type GuideEventsInput struct {
	Channels string `query:"channels" doc:"Comma-separated channel IDs to follow; empty follows all"`
}

// Register registers the guide routes with the API.
func (h *GuideHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCatalog",
		Method:      "GET",
		Path:        "/api/v1/catalog",
		Summary:     "Get catalog",
		Description: "Returns the channel IDs the scheduler is working on",
		Tags:        []string{"Catalog"},
	}, h.GetCatalog)

	huma.Register(api, huma.Operation{
		OperationID: "setCatalog",
		Method:      "PUT",
		Path:        "/api/v1/catalog",
		Summary:     "Replace catalog",
		Description: "Replaces the catalog, cancelling staged fetches and clearing cached guides",
		Tags:        []string{"Catalog"},
	}, h.SetCatalog)

	huma.Register(api, huma.Operation{
		OperationID:   "refreshCatalog",
		Method:        "POST",
		Path:          "/api/v1/catalog/refresh",
		Summary:       "Refresh catalog guides",
		Description:   "Clears cached guides and fetches the eligible channels again",
		Tags:          []string{"Catalog"},
		DefaultStatus: http.StatusAccepted,
	}, h.Refresh)

	huma.Register(api, huma.Operation{
		OperationID: "setVisibility",
		Method:      "PUT",
		Path:        "/api/v1/visibility",
		Summary:     "Set visible range",
		Description: "Moves the prefetch window to the visible rows",
		Tags:        []string{"Catalog"},
	}, h.SetVisibility)

	huma.Register(api, huma.Operation{
		OperationID: "getGuide",
		Method:      "GET",
		Path:        "/api/v1/guide/{channelId}",
		Summary:     "Get channel guide",
		Description: "Returns the cached now/next guide of a channel. Never triggers a fetch.",
		Tags:        []string{"Guide"},
	}, h.GetGuide)

	huma.Register(api, huma.Operation{
		OperationID:   "requestGuide",
		Method:        "POST",
		Path:          "/api/v1/guide/{channelId}/request",
		Summary:       "Request channel guide",
		Description:   "Fetches a channel guide now, outside the prefetch window. Failed and empty guides are fetched again.",
		Tags:          []string{"Guide"},
		DefaultStatus: http.StatusAccepted,
	}, h.RequestGuide)

	if h.events == nil {
		return
	}
	sse.Register(api, huma.Operation{
		OperationID: "guideEvents",
		Method:      "GET",
		Path:        "/api/v1/guide/events",
		Summary:     "Subscribe to guide updates",
		Description: "Server-Sent Events stream of stored guide results. " +
			"Sends a `:connected` comment on connect and a `:heartbeat <unix_epoch>` comment every 30s without events.",
		Tags: []string{"Guide"},
	}, map[string]any{
		render.EventTypeGuide: render.GuideEvent{},
	}, func(ctx context.Context, _ *GuideEventsInput, _ sse.Sender) {
		// Placeholder for the OpenAPI schema; RegisterSSE serves the stream.
		<-ctx.Done()
	})
}

// RegisterSSE registers the event stream on a chi router. It must run after
// Register so it replaces the placeholder route.
func (h *GuideHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	if h.events == nil {
		return
	}
	router.Get("/api/v1/guide/events", h.handleSSEEvents)
}

// GetCatalog returns the current catalog.
func (h *GuideHandler) GetCatalog(_ context.Context, _ *GetCatalogInput) (*CatalogOutput, error) {
	return &CatalogOutput{Body: h.catalog()}, nil
}

// SetCatalog replaces the catalog.
func (h *GuideHandler) SetCatalog(ctx context.Context, input *SetCatalogInput) (*CatalogOutput, error) {
	for _, id := range input.Body.ChannelIDs {
		if strings.TrimSpace(id) == "" {
			return nil, huma.Error422UnprocessableEntity("channel_ids must not contain empty IDs")
		}
	}

	h.scheduler.OnCatalogChanged(input.Body.ChannelIDs)
	observability.LoggerFromContext(ctx).Info("catalog replaced via api",
		slog.Int("channels", len(input.Body.ChannelIDs)))

	return &CatalogOutput{Body: h.catalog()}, nil
}

// Refresh sends the whole catalog through the fetch cycle again.
func (h *GuideHandler) Refresh(_ context.Context, _ *RefreshInput) (*CatalogOutput, error) {
	h.scheduler.Refresh()
	return &CatalogOutput{Body: h.catalog()}, nil
}

// SetVisibility moves the prefetch window.
func (h *GuideHandler) SetVisibility(_ context.Context, input *SetVisibilityInput) (*SetVisibilityOutput, error) {
	h.scheduler.OnVisibilityChanged(input.Body.FirstVisible, input.Body.VisibleCount)

	out := &SetVisibilityOutput{}
	out.Body.Pending = h.scheduler.Pending()
	return out, nil
}

// GetGuide returns a channel's cached guide.
func (h *GuideHandler) GetGuide(_ context.Context, input *GetGuideInput) (*GetGuideOutput, error) {
	if !h.scheduler.Known(input.ChannelID) {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %q is not in the catalog", input.ChannelID))
	}
	st := h.scheduler.Get(input.ChannelID)
	return &GetGuideOutput{Body: GuideFromState(st, h.scheduler.Scheduled(input.ChannelID))}, nil
}

// RequestGuide stages an immediate fetch for a channel.
func (h *GuideHandler) RequestGuide(_ context.Context, input *RequestGuideInput) (*RequestGuideOutput, error) {
	if !h.scheduler.Known(input.ChannelID) {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %q is not in the catalog", input.ChannelID))
	}

	out := &RequestGuideOutput{}
	out.Body.Accepted = h.scheduler.Request(input.ChannelID)
	st := h.scheduler.Get(input.ChannelID)
	out.Body.Guide = GuideFromState(st, h.scheduler.Scheduled(input.ChannelID))
	return out, nil
}

func (h *GuideHandler) catalog() CatalogResponse {
	return CatalogResponse{
		ChannelIDs: h.scheduler.Catalog(),
		Pending:    h.scheduler.Pending(),
	}
}

// handleSSEEvents streams guide events until the client goes away.
func (h *GuideHandler) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var channels []string
	for _, id := range strings.Split(r.URL.Query().Get("channels"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			channels = append(channels, id)
		}
	}

	sub := h.events.Subscribe(channels...)
	defer h.events.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Debug("clearing write deadline failed", slog.String("error", err.Error()))
	}
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	fmt.Fprint(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		logger.Error("failed to flush initial SSE connection", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				logger.Debug("heartbeat flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				logger.Error("failed to write SSE event",
					slog.String("channel_id", ev.ChannelID),
					slog.String("error", err.Error()),
				)
				return
			}
			if err := rc.Flush(); err != nil {
				logger.Debug("event flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// writeSSEEvent writes one guide event as a single SSE message.
func writeSSEEvent(w http.ResponseWriter, ev render.GuideEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling guide event: %w", err)
	}
	msg := fmt.Sprintf("event: %s\ndata: %s\n\n", render.EventTypeGuide, data)
	if _, err := io.WriteString(w, msg); err != nil {
		return fmt.Errorf("writing guide event: %w", err)
	}
	return nil
}
