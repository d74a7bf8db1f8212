package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/nownext/pkg/httpclient"
)

func TestHealthHandler_GetHealth(t *testing.T) {
	sched := newFakeScheduler("101", "102")
	sched.scheduled["101"] = true
	handler := NewHealthHandler("1.0.0", sched)

	output, err := handler.GetHealth(context.Background(), &HealthInput{})

	require.NoError(t, err)
	assert.Equal(t, HealthStatusHealthy, output.Body.Status)
	assert.Equal(t, "1.0.0", output.Body.Version)
	assert.Equal(t, 2, output.Body.CatalogChannels)
	assert.Equal(t, 1, output.Body.PendingFetches)
	assert.Nil(t, output.Body.CircuitBreaker)
	_, err = time.Parse(time.RFC3339, output.Body.Timestamp)
	assert.NoError(t, err)
}

func TestHealthHandler_OpenBreakerIsDegraded(t *testing.T) {
	cb := httpclient.NewCircuitBreaker(1, time.Hour, 1)
	handler := NewHealthHandler("1.0.0", nil).WithCircuitBreaker(cb)

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, HealthStatusHealthy, output.Body.Status)
	require.NotNil(t, output.Body.CircuitBreaker)
	assert.Equal(t, "closed", output.Body.CircuitBreaker.State)

	cb.RecordFailure()

	output, err = handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, HealthStatusDegraded, output.Body.Status)
	assert.Equal(t, "open", output.Body.CircuitBreaker.State)
}
