package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/nownext/pkg/httpclient"
)

// Health status values.
const (
	HealthStatusHealthy  = "healthy"
	HealthStatusDegraded = "degraded"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	scheduler GuideScheduler
	breaker   *httpclient.CircuitBreaker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, scheduler GuideScheduler) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		scheduler: scheduler,
	}
}

// WithCircuitBreaker reports the metadata service breaker in health responses.
func (h *HealthHandler) WithCircuitBreaker(cb *httpclient.CircuitBreaker) *HealthHandler {
	h.breaker = cb
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse describes the service health.
type HealthResponse struct {
	Status          string                          `json:"status" enum:"healthy,degraded"`
	Timestamp       string                          `json:"timestamp"`
	Version         string                          `json:"version"`
	Uptime          string                          `json:"uptime"`
	UptimeSeconds   float64                         `json:"uptime_seconds"`
	CatalogChannels int                             `json:"catalog_channels"`
	PendingFetches  int                             `json:"pending_fetches"`
	CircuitBreaker  *httpclient.CircuitBreakerStats `json:"circuit_breaker,omitempty"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the service health, the scheduler backlog and the metadata service circuit breaker",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. An open breaker
// reports the service as degraded.
func (h *HealthHandler) GetHealth(_ context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        HealthStatusHealthy,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
	}
	if h.scheduler != nil {
		resp.CatalogChannels = len(h.scheduler.Catalog())
		resp.PendingFetches = h.scheduler.Pending()
	}
	if h.breaker != nil {
		stats := h.breaker.Stats()
		resp.CircuitBreaker = &stats
		if h.breaker.State() == httpclient.CircuitOpen {
			resp.Status = HealthStatusDegraded
		}
	}

	return &HealthOutput{Body: resp}, nil
}
