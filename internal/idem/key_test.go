package idem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/pos"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		typ  pos.CommandType
		id   string
		want string
	}{
		{pos.CmdSaleFinalize, "s-1", "sale-finalize:s-1"},
		{pos.CmdShiftOpen, "sh-1", "shift-open:sh-1"},
		{pos.CmdShiftClose, "sh-1", "shift-close:sh-1"},
		{pos.CmdShiftCashEvent, "ev-9", "shift-cash-event:ev-9"},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, err := Derive(tt.typ, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDerive_Deterministic(t *testing.T) {
	first := MustDerive(pos.CmdSaleFinalize, "0192f3c4-7d1e-7000-8000-000000000001")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, MustDerive(pos.CmdSaleFinalize, "0192f3c4-7d1e-7000-8000-000000000001"))
	}
}

func TestDerive_DistinguishesOperations(t *testing.T) {
	open := MustDerive(pos.CmdShiftOpen, "sh-1")
	closeKey := MustDerive(pos.CmdShiftClose, "sh-1")
	assert.NotEqual(t, open, closeKey, "open and close of the same shift must not collide")
}

func TestDerive_Errors(t *testing.T) {
	_, err := Derive("Unknown", "x")
	assert.Error(t, err)

	_, err = Derive(pos.CmdSaleFinalize, "")
	assert.Error(t, err)

	assert.Panics(t, func() { MustDerive("Unknown", "x") })
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`{"a":1}`))
	b := Fingerprint([]byte(`{"a":1}`))
	c := Fingerprint([]byte(`{"a":2}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
