// Package ledger is the HTTP client for the remote ledger's sync and
// catalog endpoints.
//
// Submit never returns a sync failure as an error: every response,
// transport failure and timeout is classified into an outbox.Outcome. The
// only error Submit returns is the caller's context ending, in which case
// no outcome is known and the command must be released unchanged.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/roach88/tillsync/internal/outbox"
	"github.com/roach88/tillsync/internal/pos"
)

// Header names sent with every sync request.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderWorkspaceID    = "X-Workspace-Id"
	HeaderDeviceID       = "X-Device-Id"
)

// DefaultTimeout bounds one request when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

var endpoints = map[pos.CommandType]string{
	pos.CmdSaleFinalize:   "sync/sale",
	pos.CmdShiftOpen:      "sync/shift-open",
	pos.CmdShiftClose:     "sync/shift-close",
	pos.CmdShiftCashEvent: "sync/shift-cash-event",
}

// Endpoint returns the sync path for a command type.
func Endpoint(t pos.CommandType) (string, bool) {
	p, ok := endpoints[t]
	return p, ok
}

// Config locates and authenticates the ledger.
type Config struct {
	BaseURL   string
	APIKey    string
	DeviceID  string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the remote ledger.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	http     *resty.Client
	deviceID string
	logger   *zap.Logger
}

// New creates a ledger client. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ledger: base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "tillsync"
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "application/json").
		SetLogger(logger.Sugar())
	if cfg.APIKey != "" {
		hc.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		http:     hc,
		deviceID: cfg.DeviceID,
		logger:   logger,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// Submit sends one command's canonical payload under its idempotency key
// and classifies the result.
func (c *Client) Submit(ctx context.Context, cmd pos.Command) (outbox.Outcome, error) {
	path, ok := endpoints[cmd.Type]
	if !ok {
		return outbox.NewFatal(CodeUnsupportedCommand, fmt.Sprintf("no ledger endpoint for %s", cmd.Type)), nil
	}

	var env Envelope
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderIdempotencyKey, cmd.IdempotencyKey).
		SetHeader(HeaderWorkspaceID, cmd.WorkspaceID).
		SetBody(cmd.Payload).
		SetResult(&env).
		SetError(&env)
	if c.deviceID != "" {
		req.SetHeader(HeaderDeviceID, c.deviceID)
	}

	res, err := req.Post(path)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outbox.Outcome{}, ctxErr
	}

	status := 0
	if res != nil {
		status = res.StatusCode()
	}
	if err != nil && status == 0 {
		c.logger.Debug("ledger transport error",
			zap.String("command_id", cmd.ID),
			zap.String("path", path),
			zap.Error(err),
		)
		return outbox.NewRetryable(CodeTransport, err.Error()), nil
	}

	parsed := err == nil && isJSON(res.Header().Get("Content-Type"))
	if !parsed {
		env = Envelope{}
	}
	out := Classify(status, env, parsed)
	c.logger.Debug("ledger responded",
		zap.String("command_id", cmd.ID),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Stringer("outcome", out.Kind),
		zap.String("code", out.Code),
	)
	return out, nil
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

// CatalogItem is one product in a catalog snapshot page.
type CatalogItem struct {
	ProductID    string `json:"productId"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Barcode      string `json:"barcode,omitempty"`
	Price        int64  `json:"price"`
	Taxable      bool   `json:"taxable"`
	Status       string `json:"status"`
	EstimatedQty int64  `json:"estimatedQty"`
}

// Entry converts the wire item to the local catalog replica type.
func (i CatalogItem) Entry() pos.CatalogEntry {
	return pos.CatalogEntry{
		ProductID:    i.ProductID,
		SKU:          i.SKU,
		Name:         i.Name,
		Barcode:      i.Barcode,
		Price:        i.Price,
		Taxable:      i.Taxable,
		Status:       i.Status,
		EstimatedQty: i.EstimatedQty,
	}
}

// CatalogPage is one page of GET catalog/snapshot.
type CatalogPage struct {
	Items      []CatalogItem `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
	HasMore    bool          `json:"hasMore"`
}

// StatusError is returned by FetchCatalog for a non-2xx response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger returned %d", e.Status)
}

// FetchCatalog reads one page of the catalog snapshot. An empty cursor
// starts from the beginning.
func (c *Client) FetchCatalog(ctx context.Context, workspaceID, cursor string, limit int) (CatalogPage, error) {
	var (
		page CatalogPage
		env  Envelope
	)
	req := c.http.R().
		SetContext(ctx).
		SetHeader(HeaderWorkspaceID, workspaceID).
		SetResult(&page).
		SetError(&env)
	if c.deviceID != "" {
		req.SetHeader(HeaderDeviceID, c.deviceID)
	}
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	if limit > 0 {
		req.SetQueryParam("limit", fmt.Sprint(limit))
	}

	res, err := req.Get("catalog/snapshot")
	if err != nil {
		return CatalogPage{}, fmt.Errorf("fetch catalog: %w", err)
	}
	if !res.IsSuccess() {
		return CatalogPage{}, &StatusError{Status: res.StatusCode(), Code: env.Code, Message: env.Message}
	}
	return page, nil
}
