package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(c *clock) *CircuitBreaker {
	return New("model-a", Config{
		FailureThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Now:              c.now,
	})
}

func fail(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	ticket, err := cb.Allow()
	require.NoError(t, err)
	cb.Done(ticket, false)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newTestBreaker(c)

	fail(t, cb)
	assert.Equal(t, StateClosed, cb.State())
	fail(t, cb)
	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newTestBreaker(c)

	fail(t, cb)
	ticket, err := cb.Allow()
	require.NoError(t, err)
	cb.Done(ticket, true)
	fail(t, cb)

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var transitions []string
	cb := New("model-a", Config{
		FailureThreshold: 1,
		OpenTimeout:      10 * time.Second,
		Now:              c.now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	fail(t, cb)
	c.advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	ticket, err := cb.Allow()
	require.NoError(t, err)
	_, err = cb.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)

	cb.Done(ticket, true)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newTestBreaker(c)

	fail(t, cb)
	fail(t, cb)
	c.advance(31 * time.Second)

	fail(t, cb)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_StaleTicketIgnored(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newTestBreaker(c)

	stale, err := cb.Allow()
	require.NoError(t, err)
	fail(t, cb)
	fail(t, cb)
	require.Equal(t, StateOpen, cb.State())

	cb.Done(stale, true)
	assert.Equal(t, StateOpen, cb.State())
}
