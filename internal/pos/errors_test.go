package pos_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/pos"
)

func TestValidationHelpers(t *testing.T) {
	err := fmt.Errorf("finalize: %w", pos.NewValidationError(pos.ErrCodeEmptyCart, "sale has %d lines", 0))

	assert.True(t, pos.IsValidation(err))
	assert.True(t, pos.HasCode(err, pos.ErrCodeEmptyCart))
	assert.False(t, pos.HasCode(err, pos.ErrCodeInvalidMoney))
	assert.Equal(t, "finalize: EMPTY_CART: sale has 0 lines", err.Error())
	assert.False(t, pos.IsValidation(errors.New("plain")))
}

func TestIsInvariant(t *testing.T) {
	err := fmt.Errorf("verify: %w", &pos.InvariantError{Entity: "shift", ID: "s-1", Message: "total sales 10 != 12"})
	assert.True(t, pos.IsInvariant(err))
	assert.Contains(t, err.Error(), "invariant violated on shift s-1")
	assert.False(t, pos.IsInvariant(pos.ErrNotFound))
}

func TestMoneyDecodeError(t *testing.T) {
	var in pos.SaleInput
	err := json.Unmarshal([]byte(`{"lines":[{"unit_price":1.25}]}`), &in)
	require.Error(t, err)

	ve := pos.MoneyDecodeError(err)
	require.NotNil(t, ve)
	assert.Equal(t, pos.ErrCodeInvalidMoney, ve.Code)
	assert.Contains(t, ve.Message, "unit_price")

	err = json.Unmarshal([]byte(`{"register_id":7}`), &in)
	require.Error(t, err)
	assert.Nil(t, pos.MoneyDecodeError(err))

	assert.Nil(t, pos.MoneyDecodeError(errors.New("unexpected EOF")))
}

func TestCommandPredicates(t *testing.T) {
	now := testTime()
	tests := []struct {
		name      string
		cmd       pos.Command
		retryable bool
		dropped   bool
	}{
		{"pending", pos.Command{Status: pos.CommandPending}, false, false},
		{"failed", pos.Command{Status: pos.CommandFailed}, true, false},
		{"fatal", pos.Command{Status: pos.CommandFailed, Fatal: true}, false, false},
		{"dropped", pos.Command{Status: pos.CommandFailed, Fatal: true, DroppedAt: &now}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.cmd.Retryable())
			assert.Equal(t, tt.dropped, tt.cmd.Dropped())
		})
	}
}

func testTime() time.Time {
	return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}
