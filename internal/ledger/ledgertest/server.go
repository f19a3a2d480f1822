// Package ledgertest provides an in-process fake of the remote ledger.
//
// The fake deduplicates by idempotency key the way the real ledger does:
// the first request with a key commits a side effect and later requests
// with the same key are answered IDEMPOTENT_REPLAY. Failures can be queued
// to simulate outages, validation rejections and lost responses.
package ledgertest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/tillsync/internal/ledger"
)

// Fault is a scripted response served instead of normal processing.
type Fault struct {
	Status  int // defaults to 503
	Code    string
	Message string

	// RawBody, when set, is written verbatim with a text/plain content type.
	RawBody string

	// AfterCommit commits the side effect before answering with the fault,
	// simulating a response lost after the ledger applied the request.
	AfterCommit bool

	// Delay holds the response back, to trip client timeouts.
	Delay time.Duration
}

// Request is one request the fake received.
type Request struct {
	Method         string
	Path           string
	IdempotencyKey string
	WorkspaceID    string
	DeviceID       string
	Authorization  string
	Body           []byte
}

// Record is one committed side effect.
type Record struct {
	Path      string
	Key       string
	Body      json.RawMessage
	ServerID  string
	InvoiceID string
	PaymentID string
	Receipt   string
}

// Server is a fake ledger backed by httptest.Server.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Server struct {
	*httptest.Server

	mu               sync.Mutex
	faults           []Fault
	received         []Request
	records          map[string]*Record
	order            []string
	catalog          []ledger.CatalogItem
	replayWithoutIDs bool
	n                int
}

// NewServer starts a fake ledger. Call Close when done.
func NewServer() *Server {
	s := &Server{records: make(map[string]*Record)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/sale", s.handleSync)
	mux.HandleFunc("POST /sync/shift-open", s.handleSync)
	mux.HandleFunc("POST /sync/shift-close", s.handleSync)
	mux.HandleFunc("POST /sync/shift-cash-event", s.handleSync)
	mux.HandleFunc("GET /catalog/snapshot", s.handleCatalog)

	s.Server = httptest.NewServer(mux)
	return s
}

// Fail queues faults; each is consumed by one sync request.
func (s *Server) Fail(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// ReplayWithoutIDs makes replay answers omit the original remote ids.
func (s *Server) ReplayWithoutIDs(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replayWithoutIDs = v
}

// SetCatalog replaces the products served by catalog/snapshot.
func (s *Server) SetCatalog(items []ledger.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = append([]ledger.CatalogItem(nil), items...)
}

// SideEffects returns how many distinct keys were committed.
func (s *Server) SideEffects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns committed side effects in commit order.
func (s *Server) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.records[key])
	}
	return out
}

// Received returns every sync and catalog request in arrival order.
func (s *Server) Received() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.received...)
}

// Requests returns how many requests carried key.
func (s *Server) Requests(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.received {
		if r.IdempotencyKey == key {
			n++
		}
	}
	return n
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ledger.Envelope{Code: ledger.CodeValidation, Message: "unreadable body"})
		return
	}
	key := r.Header.Get(ledger.HeaderIdempotencyKey)

	s.mu.Lock()
	s.received = append(s.received, Request{
		Method:         r.Method,
		Path:           r.URL.Path,
		IdempotencyKey: key,
		WorkspaceID:    r.Header.Get(ledger.HeaderWorkspaceID),
		DeviceID:       r.Header.Get(ledger.HeaderDeviceID),
		Authorization:  r.Header.Get("Authorization"),
		Body:           body,
	})

	var fault *Fault
	if len(s.faults) > 0 {
		f := s.faults[0]
		s.faults = s.faults[1:]
		fault = &f
	}

	if fault != nil && !fault.AfterCommit {
		s.mu.Unlock()
		writeFault(w, *fault)
		return
	}

	var payload struct {
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if key == "" || json.Unmarshal(body, &payload) != nil || payload.IdempotencyKey != key {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnprocessableEntity, ledger.Envelope{
			Code:    ledger.CodeValidation,
			Message: "idempotency key header and body disagree",
		})
		return
	}

	rec, replay := s.records[key]
	if !replay {
		rec = s.commit(r.URL.Path, key, body)
	}
	replayWithoutIDs := s.replayWithoutIDs
	s.mu.Unlock()

	if fault != nil {
		writeFault(w, *fault)
		return
	}

	env := ledger.Envelope{
		OK:              true,
		ServerInvoiceID: rec.InvoiceID,
		ServerPaymentID: rec.PaymentID,
		ReceiptNumber:   rec.Receipt,
		ServerID:        rec.ServerID,
	}
	if replay {
		env.OK = false
		env.Code = ledger.CodeIdempotentReplay
		env.Message = "already processed"
		if replayWithoutIDs {
			env = ledger.Envelope{Code: ledger.CodeIdempotentReplay}
		}
		writeJSON(w, http.StatusConflict, env)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// commit must be called with s.mu held.
func (s *Server) commit(path, key string, body []byte) *Record {
	s.n++
	rec := &Record{
		Path:     path,
		Key:      key,
		Body:     append(json.RawMessage(nil), body...),
		ServerID: fmt.Sprintf("srv-%d", s.n),
	}
	if path == "/sync/sale" {
		rec.InvoiceID = fmt.Sprintf("inv-%d", s.n)
		rec.PaymentID = fmt.Sprintf("pay-%d", s.n)
		rec.Receipt = fmt.Sprintf("R-%06d", s.n)
	}
	s.records[key] = rec
	s.order = append(s.order, key)
	return rec
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.received = append(s.received, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		WorkspaceID:   r.Header.Get(ledger.HeaderWorkspaceID),
		DeviceID:      r.Header.Get(ledger.HeaderDeviceID),
		Authorization: r.Header.Get("Authorization"),
	})
	items := s.catalog
	s.mu.Unlock()

	start := 0
	if c := r.URL.Query().Get("cursor"); c != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(c, "c"))
		if err != nil || n < 0 || n > len(items) {
			writeJSON(w, http.StatusBadRequest, ledger.Envelope{Code: ledger.CodeValidation, Message: "bad cursor"})
			return
		}
		start = n
	}
	limit := len(items)
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ledger.Envelope{Code: ledger.CodeValidation, Message: "bad limit"})
			return
		}
		limit = n
	}

	end := min(start+limit, len(items))
	page := ledger.CatalogPage{Items: append([]ledger.CatalogItem{}, items[start:end]...)}
	if end < len(items) {
		page.HasMore = true
		page.NextCursor = fmt.Sprintf("c%d", end)
	}
	writeJSON(w, http.StatusOK, page)
}

func writeFault(w http.ResponseWriter, f Fault) {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	if f.Status == 0 {
		f.Status = http.StatusServiceUnavailable
	}
	if f.RawBody != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(f.Status)
		io.WriteString(w, f.RawBody)
		return
	}
	writeJSON(w, f.Status, ledger.Envelope{Code: f.Code, Message: f.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
