package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold, halfOpenMax int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(threshold, time.Minute, halfOpenMax)
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after threshold failures", func(t *testing.T) {
		cb, _ := newTestBreaker(3, 1)
		cb.RecordFailure()
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State())
		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("success resets consecutive failures", func(t *testing.T) {
		cb, _ := newTestBreaker(2, 1)
		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("half-open after timeout then closes on success", func(t *testing.T) {
		cb, clock := newTestBreaker(1, 1)
		cb.RecordFailure()
		clock.Advance(time.Minute)

		assert.True(t, cb.Allow())
		assert.Equal(t, CircuitHalfOpen, cb.State())
		assert.False(t, cb.Allow(), "only one probe in half-open")

		cb.RecordSuccess()
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("half-open failure reopens", func(t *testing.T) {
		cb, clock := newTestBreaker(1, 1)
		cb.RecordFailure()
		clock.Advance(time.Minute)
		assert.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("release returns the probe slot", func(t *testing.T) {
		cb, clock := newTestBreaker(1, 1)
		cb.RecordFailure()
		clock.Advance(time.Minute)
		assert.True(t, cb.Allow())
		cb.Release()
		assert.True(t, cb.Allow())
	})

	t.Run("reset returns to closed", func(t *testing.T) {
		var seen []CircuitState
		cb, _ := newTestBreaker(1, 1)
		cb.onStateChange = func(_, to CircuitState) { seen = append(seen, to) }

		cb.RecordFailure()
		cb.Reset()
		assert.Equal(t, CircuitClosed, cb.State())
		assert.Equal(t, []CircuitState{CircuitOpen, CircuitClosed}, seen)
	})

	t.Run("defaults for non-positive arguments", func(t *testing.T) {
		cb := NewCircuitBreaker(0, 0, 0)
		assert.Equal(t, DefaultCircuitThreshold, cb.threshold)
		assert.Equal(t, DefaultCircuitTimeout, cb.timeout)
		assert.Equal(t, DefaultCircuitHalfOpenMax, cb.halfOpenMax)
	})
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(5, 1)
	cb.RecordSuccess()
	cb.RecordFailure()

	stats := cb.Stats()
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.Equal(t, 1, stats.ConsecutiveFailures)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}
