// Package api is the local HTTP API used by the till UI and by operators.
//
// Responses are JSON. Validation failures are 422 with {code, message};
// unknown resources are 404. Every successful mutation wakes the
// dispatcher so new commands are sent without waiting for the poll.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roach88/tillsync/internal/metrics"
	"github.com/roach88/tillsync/internal/pos"
	"github.com/roach88/tillsync/internal/store"
)

// Store is the local transaction store. *store.Store implements it.
type Store interface {
	Ping(ctx context.Context) error
	FinalizeSale(ctx context.Context, in pos.SaleInput) (pos.Sale, pos.Command, error)
	GetSale(ctx context.Context, id string) (pos.Sale, error)
	ListSales(ctx context.Context, shiftID string) ([]pos.Sale, error)
	OpenShift(ctx context.Context, in pos.OpenShiftInput) (pos.ShiftSession, pos.Command, error)
	GetShift(ctx context.Context, id string) (pos.ShiftSession, error)
	GetCurrentOpenShift(ctx context.Context, registerID string) (pos.ShiftSession, error)
	CloseShift(ctx context.Context, in pos.CloseShiftInput) (pos.ShiftSession, pos.Command, error)
	VerifyShift(ctx context.Context, id string) error
	RecordCashEvent(ctx context.Context, in pos.CashEventInput) (pos.CashEvent, pos.Command, error)
	ListCashEvents(ctx context.Context, shiftID string) ([]pos.CashEvent, error)
	GetCommand(ctx context.Context, id string) (pos.Command, error)
	ListCommands(ctx context.Context, filter pos.CommandFilter) ([]pos.Command, error)
	ListTransitions(ctx context.Context, commandID string) ([]pos.CommandTransition, error)
	CountCommands(ctx context.Context) (map[pos.CommandStatus]int, error)
	LookupProduct(ctx context.Context, l store.ProductLookup) (pos.CatalogEntry, error)
	CatalogState(ctx context.Context) (pos.CatalogState, error)
}

// Operator runs the manual outbox operations. *dispatch.Dispatcher
// implements it.
type Operator interface {
	Notify()
	RetryFailedCommand(ctx context.Context, id string) (pos.Command, error)
	RetryFailedCommands(ctx context.Context) ([]pos.Command, error)
	DropCommand(ctx context.Context, id, reason string) (pos.Command, error)
}

// Error codes for failures that are not validation errors.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeCommandDropped    = "COMMAND_DROPPED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvariant         = "INVARIANT_VIOLATION"
	CodeInternal          = "INTERNAL"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type handler struct {
	store  Store
	ops    Operator
	logger *zap.Logger
}

// NewRouter builds the gin engine. m may be nil.
func NewRouter(s Store, ops Operator, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{store: s, ops: ops, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), m.Middleware())

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/sales", h.finalizeSale)
	v1.GET("/sales", h.listSales)
	v1.GET("/sales/:id", h.getSale)

	v1.POST("/shifts", h.openShift)
	v1.GET("/shifts/current", h.currentShift)
	v1.GET("/shifts/:id", h.getShift)
	v1.POST("/shifts/:id/close", h.closeShift)
	v1.POST("/shifts/:id/verify", h.verifyShift)
	v1.GET("/shifts/:id/cash-events", h.listCashEvents)
	v1.POST("/shifts/:id/cash-events", h.recordCashEvent)

	v1.GET("/outbox", h.listCommands)
	v1.GET("/outbox/summary", h.outboxSummary)
	v1.POST("/outbox/retry", h.retryAll)
	v1.GET("/outbox/:id", h.getCommand)
	v1.GET("/outbox/:id/transitions", h.listTransitions)
	v1.POST("/outbox/:id/retry", h.retryCommand)
	v1.DELETE("/outbox/:id", h.dropCommand)

	v1.GET("/catalog/lookup", h.lookupProduct)
	v1.GET("/catalog/state", h.catalogState)

	return r
}

func (h *handler) health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorBody{Code: CodeInternal, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) finalizeSale(c *gin.Context) {
	var in pos.SaleInput
	if !h.bind(c, &in) {
		return
	}
	sale, cmd, err := h.store.FinalizeSale(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ops.Notify()
	c.JSON(http.StatusCreated, gin.H{"sale": sale, "command": cmd})
}

func (h *handler) listSales(c *gin.Context) {
	shiftID := c.Query("shift_id")
	if shiftID == "" {
		h.badRequest(c, "shift_id is required")
		return
	}
	sales, err := h.store.ListSales(c.Request.Context(), shiftID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": nonNil(sales)})
}

func (h *handler) getSale(c *gin.Context) {
	sale, err := h.store.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *handler) openShift(c *gin.Context) {
	var in pos.OpenShiftInput
	if !h.bind(c, &in) {
		return
	}
	shift, cmd, err := h.store.OpenShift(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ops.Notify()
	c.JSON(http.StatusCreated, gin.H{"shift": shift, "command": cmd})
}

func (h *handler) currentShift(c *gin.Context) {
	register := c.Query("register")
	if register == "" {
		h.badRequest(c, "register is required")
		return
	}
	shift, err := h.store.GetCurrentOpenShift(c.Request.Context(), register)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, shift)
}

func (h *handler) getShift(c *gin.Context) {
	shift, err := h.store.GetShift(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, shift)
}

func (h *handler) closeShift(c *gin.Context) {
	var in pos.CloseShiftInput
	if !h.bind(c, &in) {
		return
	}
	in.ShiftID = c.Param("id")
	shift, cmd, err := h.store.CloseShift(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ops.Notify()
	c.JSON(http.StatusOK, gin.H{"shift": shift, "command": cmd})
}

func (h *handler) verifyShift(c *gin.Context) {
	if err := h.store.VerifyShift(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consistent": true})
}

func (h *handler) listCashEvents(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.store.GetShift(ctx, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	events, err := h.store.ListCashEvents(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cash_events": nonNil(events)})
}

func (h *handler) recordCashEvent(c *gin.Context) {
	var in pos.CashEventInput
	if !h.bind(c, &in) {
		return
	}
	in.ShiftID = c.Param("id")
	ev, cmd, err := h.store.RecordCashEvent(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ops.Notify()
	c.JSON(http.StatusCreated, gin.H{"cash_event": ev, "command": cmd})
}

func (h *handler) listCommands(c *gin.Context) {
	filter := pos.CommandFilter{
		WorkspaceID: c.Query("workspace"),
		EntityID:    c.Query("entity"),
	}
	if s := c.Query("status"); s != "" {
		status, ok := parseStatus(s)
		if !ok {
			h.badRequest(c, "unknown status "+strconv.Quote(s))
			return
		}
		filter.Status = status
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			h.badRequest(c, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	cmds, err := h.store.ListCommands(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": nonNil(cmds)})
}

func (h *handler) outboxSummary(c *gin.Context) {
	counts, err := h.store.CountCommands(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *handler) getCommand(c *gin.Context) {
	cmd, err := h.store.GetCommand(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cmd)
}

func (h *handler) listTransitions(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.store.GetCommand(ctx, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	trs, err := h.store.ListTransitions(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": nonNil(trs)})
}

func (h *handler) retryAll(c *gin.Context) {
	cmds, err := h.ops.RetryFailedCommands(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": nonNil(cmds)})
}

func (h *handler) retryCommand(c *gin.Context) {
	cmd, err := h.ops.RetryFailedCommand(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cmd)
}

func (h *handler) dropCommand(c *gin.Context) {
	cmd, err := h.ops.DropCommand(c.Request.Context(), c.Param("id"), c.Query("reason"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cmd)
}

func (h *handler) lookupProduct(c *gin.Context) {
	entry, err := h.store.LookupProduct(c.Request.Context(), store.ProductLookup{
		ProductID: c.Query("product_id"),
		Barcode:   c.Query("barcode"),
		SKU:       c.Query("sku"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *handler) catalogState(c *gin.Context) {
	state, err := h.store.CatalogState(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handler) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.logger.Debug("bad request body", zap.String("path", c.FullPath()), zap.Error(err))
		if ve := pos.MoneyDecodeError(err); ve != nil {
			h.fail(c, ve)
			return false
		}
		h.badRequest(c, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *handler) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorBody{Code: CodeBadRequest, Message: msg})
}

// fail maps a store or dispatcher error to a response.
func (h *handler) fail(c *gin.Context, err error) {
	var ve *pos.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, ErrorBody{Code: string(ve.Code), Message: ve.Message})
	case errors.Is(err, pos.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorBody{Code: CodeNotFound, Message: err.Error()})
	case errors.Is(err, pos.ErrCommandDropped):
		c.JSON(http.StatusConflict, ErrorBody{Code: CodeCommandDropped, Message: err.Error()})
	case errors.Is(err, pos.ErrInvalidTransition), errors.Is(err, pos.ErrCommandNotClaimable):
		c.JSON(http.StatusConflict, ErrorBody{Code: CodeInvalidTransition, Message: err.Error()})
	case pos.IsInvariant(err):
		h.logger.Error("invariant violated", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorBody{Code: CodeInvariant, Message: err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorBody{Code: CodeInternal, Message: "internal error"})
	}
}

func parseStatus(s string) (pos.CommandStatus, bool) {
	switch st := pos.CommandStatus(s); st {
	case pos.CommandPending, pos.CommandInFlight, pos.CommandSucceeded, pos.CommandFailed, pos.CommandConflict:
		return st, true
	}
	return "", false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
