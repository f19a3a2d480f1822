package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/ident"
	"github.com/roach88/tillsync/internal/pos"
	"github.com/roach88/tillsync/internal/testutil"
)

func TestSalePayload_Golden(t *testing.T) {
	s, _ := createTestStore(t, WithIDGenerator(ident.NewFixedGenerator("sale-0001", "cmd-0001")))

	_, cmd, err := s.FinalizeSale(context.Background(), pos.SaleInput{
		WorkspaceID: testutil.Workspace,
		RegisterID:  testutil.Register,
		CashierID:   testutil.Cashier,
		Lines: []pos.LineItem{
			{ProductID: "prod-1", Name: "Coffee beans", SKU: "CB-1", Quantity: 2, UnitPrice: 1250, Discount: 100},
			{ProductID: "prod-2", Name: "Oat milk", Quantity: 1, UnitPrice: 350},
		},
		CartDiscount: 250,
		Tax:          200,
		Payments:     []pos.Payment{{Method: pos.PaymentMethodCash, Amount: 3000}},
	})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "sale_finalize", cmd.Payload)
}

func TestPayloads_CarryIdempotencyKey(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	shift, openCmd, err := s.OpenShift(ctx, testutil.OpenShift(testutil.Cents(5000)))
	require.NoError(t, err)
	_, evCmd, err := s.RecordCashEvent(ctx, pos.CashEventInput{ShiftID: shift.ID, Type: pos.PaidIn, Amount: 100})
	require.NoError(t, err)
	_, saleCmd, err := s.FinalizeSale(ctx, testutil.CashSale(shift.ID, 900))
	require.NoError(t, err)
	_, closeCmd, err := s.CloseShift(ctx, pos.CloseShiftInput{ShiftID: shift.ID, ClosedBy: testutil.Cashier, ClosingCash: testutil.Cents(6000)})
	require.NoError(t, err)

	for _, cmd := range []pos.Command{openCmd, evCmd, saleCmd, closeCmd} {
		var body map[string]any
		require.NoError(t, json.Unmarshal(cmd.Payload, &body), cmd.Type)
		assert.Equal(t, cmd.IdempotencyKey, body["idempotencyKey"], cmd.Type)
		assert.Equal(t, testutil.Workspace, body["workspaceId"], cmd.Type)
	}

	var closeBody map[string]any
	require.NoError(t, json.Unmarshal(closeCmd.Payload, &closeBody))
	assert.EqualValues(t, 6000, closeBody["expectedCash"])
	assert.EqualValues(t, 0, closeBody["variance"])
	assert.EqualValues(t, 100, closeBody["paidIn"])
}
