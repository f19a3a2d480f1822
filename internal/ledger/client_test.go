package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/tillsync/internal/ledger"
	"github.com/roach88/tillsync/internal/ledger/ledgertest"
	"github.com/roach88/tillsync/internal/outbox"
	"github.com/roach88/tillsync/internal/pos"
)

func newClient(t *testing.T, srv *ledgertest.Server, timeout time.Duration) *ledger.Client {
	t.Helper()
	c, err := ledger.New(ledger.Config{
		BaseURL:  srv.URL,
		APIKey:   "secret",
		DeviceID: "till-7",
		Timeout:  timeout,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func saleCommand(id string) pos.Command {
	key := "sale-finalize:" + id
	return pos.Command{
		ID:             "cmd-" + id,
		WorkspaceID:    "ws-1",
		Type:           pos.CmdSaleFinalize,
		EntityID:       id,
		IdempotencyKey: key,
		Payload:        []byte(`{"grandTotal":100,"idempotencyKey":"` + key + `","saleId":"` + id + `"}`),
	}
}

func TestSubmit_SucceedsAndSendsHeaders(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()
	c := newClient(t, srv, time.Second)

	cmd := saleCommand("s1")
	out, err := c.Submit(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, outbox.Succeeded, out.Kind)
	assert.Equal(t, "inv-1", out.Remote.InvoiceID)
	assert.Equal(t, "R-000001", out.Remote.ReceiptNumber)

	reqs := srv.Received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/sync/sale", reqs[0].Path)
	assert.Equal(t, cmd.IdempotencyKey, reqs[0].IdempotencyKey)
	assert.Equal(t, "ws-1", reqs[0].WorkspaceID)
	assert.Equal(t, "till-7", reqs[0].DeviceID)
	assert.Equal(t, "Bearer secret", reqs[0].Authorization)
	assert.Equal(t, cmd.Payload, reqs[0].Body)
}

func TestSubmit_SameKeyIsReplayed(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()
	c := newClient(t, srv, time.Second)
	ctx := context.Background()

	first, err := c.Submit(ctx, saleCommand("s1"))
	require.NoError(t, err)
	second, err := c.Submit(ctx, saleCommand("s1"))
	require.NoError(t, err)

	assert.Equal(t, outbox.Succeeded, first.Kind)
	assert.Equal(t, outbox.Replayed, second.Kind)
	assert.Equal(t, first.Remote.InvoiceID, second.Remote.InvoiceID)
	assert.Equal(t, 1, srv.SideEffects())
}

func TestSubmit_Faults(t *testing.T) {
	tests := []struct {
		name  string
		fault ledgertest.Fault
		want  outbox.Kind
	}{
		{"503", ledgertest.Fault{Status: 503}, outbox.Retryable},
		{"429", ledgertest.Fault{Status: 429}, outbox.Retryable},
		{"validation", ledgertest.Fault{Status: 422, Code: ledger.CodeValidation, Message: "bad sku"}, outbox.Fatal},
		{"forbidden", ledgertest.Fault{Status: 403}, outbox.Fatal},
		{"in progress", ledgertest.Fault{Status: 409, Code: ledger.CodeIdempotencyInProgress}, outbox.Retryable},
		{"html on 200", ledgertest.Fault{Status: 200, RawBody: "<html>proxy</html>"}, outbox.Retryable},
		{"html on 502", ledgertest.Fault{Status: 502, RawBody: "bad gateway"}, outbox.Retryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ledgertest.NewServer()
			defer srv.Close()
			c := newClient(t, srv, time.Second)
			srv.Fail(tt.fault)

			out, err := c.Submit(context.Background(), saleCommand("s1"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Kind, out.Err())
			assert.Zero(t, srv.SideEffects())
		})
	}
}

func TestSubmit_TimeoutIsRetryable(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()
	c := newClient(t, srv, 50*time.Millisecond)
	srv.Fail(ledgertest.Fault{Status: 200, Delay: 300 * time.Millisecond})

	out, err := c.Submit(context.Background(), saleCommand("s1"))
	require.NoError(t, err)
	assert.Equal(t, outbox.Retryable, out.Kind)
	assert.Equal(t, ledger.CodeTransport, out.Code)
}

func TestSubmit_TransportErrorIsRetryable(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv, time.Second)
	srv.Close()

	out, err := c.Submit(context.Background(), saleCommand("s1"))
	require.NoError(t, err)
	assert.Equal(t, outbox.Retryable, out.Kind)
	assert.Equal(t, ledger.CodeTransport, out.Code)
}

func TestSubmit_CancelledContextReturnsError(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()
	c := newClient(t, srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Submit(ctx, saleCommand("s1"))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestSubmit_UnsupportedCommandIsFatal(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()
	c := newClient(t, srv, time.Second)

	cmd := saleCommand("s1")
	cmd.Type = "Refund"
	out, err := c.Submit(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, outbox.Fatal, out.Kind)
	assert.Empty(t, srv.Received())
}

func TestFetchCatalog_Pages(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()
	c := newClient(t, srv, time.Second)
	srv.SetCatalog([]ledger.CatalogItem{
		{ProductID: "p1", SKU: "A", Name: "Alpha", Price: 100},
		{ProductID: "p2", SKU: "B", Name: "Beta", Price: 200},
		{ProductID: "p3", SKU: "C", Name: "Gamma", Price: 300},
	})
	ctx := context.Background()

	page, err := c.FetchCatalog(ctx, "ws-1", "", 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "c2", page.NextCursor)

	page, err = c.FetchCatalog(ctx, "ws-1", page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, "p3", page.Items[0].Entry().ProductID)
}

func TestFetchCatalog_StatusError(t *testing.T) {
	srv := ledgertest.NewServer()
	defer srv.Close()
	c := newClient(t, srv, time.Second)

	_, err := c.FetchCatalog(context.Background(), "ws-1", "bogus", 0)
	var se *ledger.StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, 400, se.Status)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := ledger.New(ledger.Config{}, nil)
	assert.Error(t, err)
}
