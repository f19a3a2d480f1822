package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tillsync/internal/pos"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to pos.CommandStatus
		want     bool
	}{
		{pos.CommandPending, pos.CommandInFlight, true},
		{pos.CommandInFlight, pos.CommandSucceeded, true},
		{pos.CommandInFlight, pos.CommandConflict, true},
		{pos.CommandConflict, pos.CommandSucceeded, true},
		{pos.CommandInFlight, pos.CommandFailed, true},
		{pos.CommandInFlight, pos.CommandPending, true},
		{pos.CommandFailed, pos.CommandPending, true},
		{pos.CommandPending, pos.CommandSucceeded, false},
		{pos.CommandSucceeded, pos.CommandPending, false},
		{pos.CommandSucceeded, pos.CommandFailed, false},
		{pos.CommandConflict, pos.CommandFailed, false},
		{pos.CommandFailed, pos.CommandInFlight, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCheckTransition(t *testing.T) {
	err := CheckTransition("c-1", pos.CommandSucceeded, pos.CommandPending)
	assert.True(t, errors.Is(err, pos.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "c-1")

	assert.NoError(t, CheckTransition("c-1", pos.CommandPending, pos.CommandInFlight))
}

func TestTerminal(t *testing.T) {
	now := time.Now()
	assert.True(t, Terminal(pos.Command{Status: pos.CommandSucceeded}))
	assert.True(t, Terminal(pos.Command{Status: pos.CommandFailed, Fatal: true}))
	assert.True(t, Terminal(pos.Command{Status: pos.CommandFailed, DroppedAt: &now}))
	assert.False(t, Terminal(pos.Command{Status: pos.CommandFailed}))
	assert.False(t, Terminal(pos.Command{Status: pos.CommandPending}))
}

func TestPolicy_DelayDoublesAndCaps(t *testing.T) {
	p := Policy{Initial: time.Second, Multiplier: 2, Max: 10 * time.Second}

	assert.Equal(t, 1*time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(60))
}

func TestPolicy_Jitter(t *testing.T) {
	low := Policy{Initial: time.Second, Multiplier: 2, Jitter: 0.5, Rand: func() float64 { return 0 }}
	high := Policy{Initial: time.Second, Multiplier: 2, Jitter: 0.5, Rand: func() float64 { return 0.999999 }}

	assert.Equal(t, 500*time.Millisecond, low.Delay(1))
	assert.InDelta(t, float64(1500*time.Millisecond), float64(high.Delay(1)), float64(time.Millisecond))
}

func TestPolicy_DefaultJitterStaysInBounds(t *testing.T) {
	p := DefaultPolicy()
	for i := 0; i < 100; i++ {
		d := p.Delay(3)
		assert.GreaterOrEqual(t, d, time.Duration(float64(4*time.Second)*0.8))
		assert.Less(t, d, time.Duration(float64(4*time.Second)*1.2))
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	assert.False(t, Policy{}.Exhausted(1000))
	assert.False(t, Policy{MaxAttempts: 3}.Exhausted(2))
	assert.True(t, Policy{MaxAttempts: 3}.Exhausted(3))
}

func TestOutcome(t *testing.T) {
	assert.True(t, NewSucceeded(Remote{InvoiceID: "inv-1"}).Success())
	assert.True(t, NewReplayed(Remote{}, "IDEMPOTENT_REPLAY").Success())
	assert.False(t, NewRetryable("TIMEOUT", "deadline exceeded").Success())

	assert.Equal(t, "VALIDATION_ERROR: bad sku", NewFatal("VALIDATION_ERROR", "bad sku").Err())
	assert.Equal(t, "http status 503", Outcome{Kind: Retryable, HTTPStatus: 503}.Err())
	assert.True(t, Remote{}.Empty())
	assert.Equal(t, "replayed", Replayed.String())
}
