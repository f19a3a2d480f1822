package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/catalog"
	"github.com/roach88/tillsync/internal/cli"
	"github.com/roach88/tillsync/internal/ledger"
	"github.com/roach88/tillsync/internal/ledger/ledgertest"
	"github.com/roach88/tillsync/internal/pos"
)

type env struct {
	dir    string
	config string
	srv    *ledgertest.Server
}

// newEnv writes a config pointing at a fresh database and, when withLedger,
// at a fake ledger.
func newEnv(t *testing.T, withLedger bool) *env {
	t.Helper()
	e := &env{dir: t.TempDir()}
	ledgerURL := ""
	if withLedger {
		e.srv = ledgertest.NewServer()
		t.Cleanup(e.srv.Close)
		ledgerURL = e.srv.URL
	}
	cfg := fmt.Sprintf(`workspace_id: ws-cli
database:
  path: %s
ledger:
  base_url: %q
  api_key: secret
  device_id: till-1
  timeout: 5s
dispatch:
  max_attempts: 3
  backoff:
    initial: 1ms
    max: 10ms
    jitter: 0
catalog:
  page_size: 2
log:
  level: error
metrics:
  enabled: false
`, filepath.Join(e.dir, "till.db"), ledgerURL)
	e.config = filepath.Join(e.dir, "tillsync.yaml")
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o600))
	return e
}

// run executes the CLI with JSON output.
func (e *env) run(t *testing.T, args ...string) (code int, stdout string) {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", e.config, "--env-file", filepath.Join(e.dir, ".env"), "--format", "json"}, args...)
	code = cli.Execute(context.Background(), full, &out, &errOut)
	return code, out.String()
}

type response[T any] struct {
	Status string        `json:"status"`
	Data   T             `json:"data"`
	Error  *cli.CLIError `json:"error"`
}

func decode[T any](t *testing.T, out string) response[T] {
	t.Helper()
	var r response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &r), out)
	return r
}

const saleJSON = `{"register_id":"reg-1","cashier_id":"cashier-1",
 "lines":[{"product_id":"p-1","name":"Coffee","quantity":2,"unit_price":350}],
 "payments":[{"method":"CASH","amount":1000}]}`

func TestShiftSaleSync(t *testing.T) {
	e := newEnv(t, true)

	code, out := e.run(t, "shift", "open", "--register", "reg-1", "--by", "cashier-1", "--starting-cash", "5000")
	require.Equal(t, cli.ExitSuccess, code, out)
	opened := decode[cli.ShiftResult](t, out)
	assert.Equal(t, "ws-cli", opened.Data.Shift.WorkspaceID)
	assert.Equal(t, pos.ShiftOpen, opened.Data.Shift.Status)
	assert.NotEmpty(t, opened.Data.CommandID)

	code, out = e.run(t, "sale", "finalize", "--json", saleJSON)
	require.Equal(t, cli.ExitSuccess, code, out)
	sale := decode[cli.SaleResult](t, out).Data.Sale
	assert.Equal(t, opened.Data.Shift.ID, sale.ShiftID)
	assert.Equal(t, int64(700), sale.GrandTotal)
	assert.Equal(t, int64(300), sale.ChangeDue)
	assert.Equal(t, pos.SalePendingSync, sale.Status)

	code, out = e.run(t, "sync")
	require.Equal(t, cli.ExitSuccess, code, out)
	report := decode[cli.SyncReport](t, out).Data
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Results, 2)
	assert.Equal(t, string(pos.CmdShiftOpen), report.Results[0].Type)
	assert.Equal(t, string(pos.CmdSaleFinalize), report.Results[1].Type)

	code, out = e.run(t, "sale", "show", sale.ID)
	require.Equal(t, cli.ExitSuccess, code, out)
	synced := decode[cli.SaleResult](t, out).Data.Sale
	assert.Equal(t, pos.SaleSynced, synced.Status)
	assert.Equal(t, "R-000002", synced.ReceiptNumber)
	assert.Equal(t, 2, e.srv.SideEffects())

	code, out = e.run(t, "sync")
	require.Equal(t, cli.ExitSuccess, code, out)
	assert.Empty(t, decode[cli.SyncReport](t, out).Data.Results)

	code, out = e.run(t, "shift", "verify", opened.Data.Shift.ID)
	require.Equal(t, cli.ExitSuccess, code, out)
	assert.True(t, decode[cli.VerifyResult](t, out).Data.Consistent)
}

func TestSaleFinalize_ValidationExitsOne(t *testing.T) {
	e := newEnv(t, false)

	code, out := e.run(t, "sale", "finalize", "--json", `{"register_id":"reg-1","cashier_id":"c","lines":[],"payments":[]}`)
	assert.Equal(t, cli.ExitFailure, code)
	r := decode[any](t, out)
	assert.Equal(t, "error", r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, string(pos.ErrCodeEmptyCart), r.Error.Code)

	code, out = e.run(t, "outbox", "list")
	require.Equal(t, cli.ExitSuccess, code, out)
	assert.Empty(t, decode[[]pos.Command](t, out).Data)
}

func TestSaleFinalize_InputErrors(t *testing.T) {
	e := newEnv(t, false)

	tests := []struct {
		name string
		args []string
	}{
		{"no input", []string{"sale", "finalize"}},
		{"bad json", []string{"sale", "finalize", "--json", "{"}},
		{"unknown field", []string{"sale", "finalize", "--json", `{"register":"reg-1"}`}},
		{"missing file", []string{"sale", "finalize", "--file", filepath.Join(e.dir, "nope.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := e.run(t, tt.args...)
			assert.Equal(t, cli.ExitCommandError, code)
			assert.Equal(t, cli.ErrCodeInput, decode[any](t, out).Error.Code)
		})
	}
}

func TestSaleFinalize_FractionalMoney(t *testing.T) {
	e := newEnv(t, false)

	code, out := e.run(t, "sale", "finalize", "--json", `{"register_id":"reg-1","cashier_id":"c",
		"lines":[{"product_id":"p","name":"Tea","quantity":1,"unit_price":2.5}],
		"payments":[{"method":"CASH","amount":300}]}`)
	assert.Equal(t, cli.ExitFailure, code)
	assert.Equal(t, string(pos.ErrCodeInvalidMoney), decode[any](t, out).Error.Code)
}

func TestSaleFinalize_FromFile(t *testing.T) {
	e := newEnv(t, false)
	path := filepath.Join(e.dir, "sale.json")
	require.NoError(t, os.WriteFile(path, []byte(saleJSON), 0o600))

	code, out := e.run(t, "sale", "finalize", "--file", path)
	require.Equal(t, cli.ExitSuccess, code, out)
	sale := decode[cli.SaleResult](t, out).Data.Sale
	assert.Empty(t, sale.ShiftID)
	assert.Equal(t, "ws-cli", sale.WorkspaceID)
}

func TestUsageErrorsExitTwo(t *testing.T) {
	e := newEnv(t, false)

	code, _ := e.run(t, "sale", "show")
	assert.Equal(t, cli.ExitCommandError, code)

	code, out := e.run(t, "shift", "open", "--bogus")
	assert.Equal(t, cli.ExitCommandError, code)
	assert.Equal(t, cli.ErrCodeInput, decode[any](t, out).Error.Code)

	var buf bytes.Buffer
	code = cli.Execute(context.Background(), []string{"--format", "xml", "outbox", "list"}, &buf, &buf)
	assert.Equal(t, cli.ExitCommandError, code)
}

func TestSyncRequiresLedger(t *testing.T) {
	e := newEnv(t, false)

	code, out := e.run(t, "sync")
	assert.Equal(t, cli.ExitCommandError, code)
	assert.Equal(t, cli.ErrCodeConfig, decode[any](t, out).Error.Code)
}

func TestMissingSaleIsNotFound(t *testing.T) {
	e := newEnv(t, false)

	code, out := e.run(t, "sale", "show", "sale-missing")
	assert.Equal(t, cli.ExitFailure, code)
	assert.Equal(t, cli.ErrCodeNotFound, decode[any](t, out).Error.Code)
}

func TestOutboxOperations(t *testing.T) {
	e := newEnv(t, true)
	e.srv.Fail(ledgertest.Fault{Status: 422, Code: ledger.CodeValidation, Message: "unknown register"})

	code, out := e.run(t, "shift", "open", "--register", "reg-1", "--by", "cashier-1")
	require.Equal(t, cli.ExitSuccess, code, out)
	commandID := decode[cli.ShiftResult](t, out).Data.CommandID

	code, out = e.run(t, "sync")
	require.Equal(t, cli.ExitSuccess, code, out)
	report := decode[cli.SyncReport](t, out).Data
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "fatal", report.Results[0].Outcome)

	code, out = e.run(t, "outbox", "list", "--status", "FAILED")
	require.Equal(t, cli.ExitSuccess, code, out)
	failed := decode[[]pos.Command](t, out).Data
	require.Len(t, failed, 1)
	assert.True(t, failed[0].Fatal)

	code, out = e.run(t, "outbox", "retry", commandID)
	require.Equal(t, cli.ExitSuccess, code, out)
	retried := decode[[]pos.Command](t, out).Data
	require.Len(t, retried, 1)
	assert.Equal(t, pos.CommandPending, retried[0].Status)

	code, out = e.run(t, "outbox", "drop", commandID, "--reason", "register retired")
	require.Equal(t, cli.ExitSuccess, code, out)
	assert.True(t, decode[pos.Command](t, out).Data.Dropped())

	code, out = e.run(t, "outbox", "retry", commandID)
	assert.Equal(t, cli.ExitFailure, code)
	assert.Equal(t, cli.ErrCodeDropped, decode[any](t, out).Error.Code)

	code, out = e.run(t, "outbox", "show", commandID)
	require.Equal(t, cli.ExitSuccess, code, out)
	detail := decode[cli.CommandDetail](t, out).Data
	tos := make([]pos.CommandStatus, 0, len(detail.Transitions))
	for _, tr := range detail.Transitions {
		tos = append(tos, tr.To)
	}
	assert.Equal(t, []pos.CommandStatus{
		pos.CommandPending, pos.CommandInFlight, pos.CommandFailed, pos.CommandPending, pos.CommandFailed,
	}, tos)

	code, out = e.run(t, "outbox", "summary")
	require.Equal(t, cli.ExitSuccess, code, out)
	assert.Equal(t, 1, decode[map[pos.CommandStatus]int](t, out).Data[pos.CommandFailed])

	code, out = e.run(t, "outbox", "retry", "--all")
	require.Equal(t, cli.ExitSuccess, code, out)
	assert.Empty(t, decode[[]pos.Command](t, out).Data)
	assert.Equal(t, 1, e.srv.Requests(failed[0].IdempotencyKey))
}

func TestOutboxRetry_NeedsTarget(t *testing.T) {
	e := newEnv(t, false)

	code, _ := e.run(t, "outbox", "retry")
	assert.Equal(t, cli.ExitCommandError, code)
	code, _ = e.run(t, "outbox", "retry", "cmd-1", "--all")
	assert.Equal(t, cli.ExitCommandError, code)
}

func TestCashEvents(t *testing.T) {
	e := newEnv(t, false)

	code, out := e.run(t, "shift", "open", "--register", "reg-1", "--by", "cashier-1", "--starting-cash", "5000")
	require.Equal(t, cli.ExitSuccess, code, out)
	shiftID := decode[cli.ShiftResult](t, out).Data.Shift.ID

	code, out = e.run(t, "cash-event", "record", shiftID, "--type", "PAID_OUT", "--amount", "1500", "--reason", "milk")
	require.Equal(t, cli.ExitSuccess, code, out)
	assert.Equal(t, int64(1), decode[cli.CashEventResult](t, out).Data.Event.Seq)

	code, out = e.run(t, "cash-event", "record", shiftID, "--type", "REFUND", "--amount", "1")
	assert.Equal(t, cli.ExitFailure, code)
	assert.Equal(t, string(pos.ErrCodeInvalidCashEventType), decode[any](t, out).Error.Code)

	code, out = e.run(t, "cash-event", "list", shiftID)
	require.Equal(t, cli.ExitSuccess, code, out)
	events := decode[[]pos.CashEvent](t, out).Data
	require.Len(t, events, 1)
	assert.Equal(t, pos.PaidOut, events[0].Type)

	code, out = e.run(t, "shift", "close", shiftID, "--by", "cashier-1", "--closing-cash", "3500")
	require.Equal(t, cli.ExitSuccess, code, out)
	closed := decode[cli.ShiftResult](t, out).Data.Shift
	assert.Equal(t, pos.ShiftClosed, closed.Status)
	require.NotNil(t, closed.Variance)
	assert.Equal(t, int64(0), *closed.Variance)

	code, _ = e.run(t, "shift", "current", "--register", "reg-1")
	assert.Equal(t, cli.ExitFailure, code)
}

func TestCatalogPullAndLookup(t *testing.T) {
	e := newEnv(t, true)
	e.srv.SetCatalog([]ledger.CatalogItem{
		{ProductID: "p-1", SKU: "COF", Name: "Coffee", Barcode: "111", Price: 350, Status: "active"},
		{ProductID: "p-2", SKU: "TEA", Name: "Tea", Price: 300, Status: "active"},
		{ProductID: "p-3", SKU: "BUN", Name: "Bun", Price: 250, Status: "active"},
	})

	code, out := e.run(t, "catalog", "pull")
	require.Equal(t, cli.ExitSuccess, code, out)
	res := decode[catalog.Result](t, out).Data
	assert.Equal(t, catalog.ModeReplace, res.Mode)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Entries)

	code, out = e.run(t, "catalog", "lookup", "--barcode", "111")
	require.Equal(t, cli.ExitSuccess, code, out)
	assert.Equal(t, "p-1", decode[pos.CatalogEntry](t, out).Data.ProductID)

	code, out = e.run(t, "catalog", "lookup", "--sku", "NOPE")
	assert.Equal(t, cli.ExitFailure, code)
	assert.Equal(t, cli.ErrCodeNotFound, decode[any](t, out).Error.Code)

	code, out = e.run(t, "catalog", "state")
	require.Equal(t, cli.ExitSuccess, code, out)
	assert.Equal(t, 3, decode[pos.CatalogState](t, out).Data.Entries)

	code, out = e.run(t, "catalog", "pull", "--mode", "sideways")
	assert.Equal(t, cli.ExitCommandError, code)
	assert.Equal(t, cli.ErrCodeInput, decode[any](t, out).Error.Code)
}
