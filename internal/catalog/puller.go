// Package catalog keeps the local product replica in step with the
// ledger's catalog snapshot.
package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/tillsync/internal/ledger"
	"github.com/roach88/tillsync/internal/metrics"
	"github.com/roach88/tillsync/internal/pos"
)

// DefaultPageSize is the page limit requested when none is configured.
const DefaultPageSize = 200

// maxPages stops a pull whose cursors never reach the end.
const maxPages = 10000

// Mode selects how a pull is applied to the replica.
type Mode string

const (
	// ModeReplace reads the whole snapshot and swaps the replica for it.
	// Products the ledger no longer lists disappear.
	ModeReplace Mode = "replace"
	// ModeMerge upserts each page as it arrives and resumes from the saved
	// cursor after an interrupted pull. Nothing is removed.
	ModeMerge Mode = "merge"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReplace, ModeMerge:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown catalog mode %q (want replace or merge)", s)
	}
}

// Source serves catalog snapshot pages. *ledger.Client implements it.
type Source interface {
	FetchCatalog(ctx context.Context, workspaceID, cursor string, limit int) (ledger.CatalogPage, error)
}

// Replica is the local catalog table. *store.Store implements it.
type Replica interface {
	ReplaceCatalog(ctx context.Context, entries []pos.CatalogEntry, cursor string) error
	MergeCatalog(ctx context.Context, entries []pos.CatalogEntry, cursor string) error
	CatalogState(ctx context.Context) (pos.CatalogState, error)
}

// Result summarises one pull.
type Result struct {
	Mode    Mode `json:"mode"`
	Pages   int  `json:"pages"`
	Entries int  `json:"entries"`
}

// Puller copies the ledger catalog into the replica.
type Puller struct {
	source      Source
	replica     Replica
	workspaceID string
	pageSize    int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewPuller creates a puller for one workspace. pageSize <= 0 uses
// DefaultPageSize; a nil logger disables logging.
func NewPuller(src Source, replica Replica, workspaceID string, pageSize int, logger *zap.Logger, m *metrics.Metrics) *Puller {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Puller{
		source:      src,
		replica:     replica,
		workspaceID: workspaceID,
		pageSize:    pageSize,
		logger:      logger,
		metrics:     m,
	}
}

// Pull runs one pull in the given mode.
//
// A replace pull writes nothing unless every page was read. A merge pull
// commits page by page, so an error leaves the pages already merged in
// place and the next merge continues after them.
func (p *Puller) Pull(ctx context.Context, mode Mode) (Result, error) {
	var (
		res Result
		err error
	)
	switch mode {
	case ModeReplace:
		res, err = p.replace(ctx)
	case ModeMerge:
		res, err = p.merge(ctx)
	default:
		err = fmt.Errorf("unknown catalog mode %q", mode)
	}
	p.metrics.ObserveCatalogPull(string(mode), err, res.Entries)
	if err != nil {
		p.logger.Warn("catalog pull failed", zap.String("mode", string(mode)), zap.Int("pages", res.Pages), zap.Error(err))
		return res, err
	}
	p.logger.Info("catalog pulled", zap.String("mode", string(mode)), zap.Int("pages", res.Pages), zap.Int("entries", res.Entries))
	return res, nil
}

func (p *Puller) replace(ctx context.Context) (Result, error) {
	res := Result{Mode: ModeReplace}
	var all []pos.CatalogEntry

	err := p.walk(ctx, "", func(page ledger.CatalogPage) error {
		for _, item := range page.Items {
			all = append(all, item.Entry())
		}
		res.Pages++
		return nil
	})
	if err != nil {
		return res, err
	}
	if err := p.replica.ReplaceCatalog(ctx, all, ""); err != nil {
		return res, err
	}
	res.Entries = len(all)
	return res, nil
}

func (p *Puller) merge(ctx context.Context) (Result, error) {
	res := Result{Mode: ModeMerge}
	state, err := p.replica.CatalogState(ctx)
	if err != nil {
		return res, err
	}

	err = p.walk(ctx, state.Cursor, func(page ledger.CatalogPage) error {
		entries := make([]pos.CatalogEntry, 0, len(page.Items))
		for _, item := range page.Items {
			entries = append(entries, item.Entry())
		}
		next := ""
		if page.HasMore {
			next = page.NextCursor
		}
		if err := p.replica.MergeCatalog(ctx, entries, next); err != nil {
			return err
		}
		res.Pages++
		res.Entries += len(entries)
		return nil
	})
	return res, err
}

// walk fetches pages starting at cursor until the source reports no more.
func (p *Puller) walk(ctx context.Context, cursor string, fn func(ledger.CatalogPage) error) error {
	for i := 0; i < maxPages; i++ {
		page, err := p.source.FetchCatalog(ctx, p.workspaceID, cursor, p.pageSize)
		if err != nil {
			return fmt.Errorf("fetch catalog page %d: %w", i+1, err)
		}
		if err := fn(page); err != nil {
			return err
		}
		if !page.HasMore {
			return nil
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return fmt.Errorf("catalog page %d: cursor did not advance", i+1)
		}
		cursor = page.NextCursor
	}
	return fmt.Errorf("catalog has more than %d pages", maxPages)
}
