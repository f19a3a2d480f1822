package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tillsync/internal/pos"
)

// ProductLookup selects a catalog entry by exactly one key.
// Checked in order: ProductID, Barcode, SKU.
type ProductLookup struct {
	ProductID string
	Barcode   string
	SKU       string
}

// ReplaceCatalog swaps the whole catalog replica for entries in one
// transaction. Products missing from entries are removed.
func (s *Store) ReplaceCatalog(ctx context.Context, entries []pos.CatalogEntry, cursor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_entries`); err != nil {
			return fmt.Errorf("clear catalog: %w", err)
		}
		if err := upsertCatalog(ctx, tx, entries); err != nil {
			return err
		}
		return s.touchCatalogMeta(ctx, tx, cursor)
	})
}

// MergeCatalog upserts entries by product id, keeping products that are
// not in entries.
func (s *Store) MergeCatalog(ctx context.Context, entries []pos.CatalogEntry, cursor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertCatalog(ctx, tx, entries); err != nil {
			return err
		}
		return s.touchCatalogMeta(ctx, tx, cursor)
	})
}

func upsertCatalog(ctx context.Context, q querier, entries []pos.CatalogEntry) error {
	for _, e := range entries {
		if e.ProductID == "" {
			return pos.NewValidationError(pos.ErrCodeMissingField, "catalog entry without product_id")
		}
		status := e.Status
		if status == "" {
			status = "ACTIVE"
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO catalog_entries (product_id, sku, name, barcode, price, taxable, status, estimated_qty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(product_id) DO UPDATE SET
				sku = excluded.sku,
				name = excluded.name,
				barcode = excluded.barcode,
				price = excluded.price,
				taxable = excluded.taxable,
				status = excluded.status,
				estimated_qty = excluded.estimated_qty
		`, e.ProductID, e.SKU, e.Name, e.Barcode, e.Price, boolInt(e.Taxable), status, e.EstimatedQty)
		if err != nil {
			return fmt.Errorf("upsert catalog entry %s: %w", e.ProductID, err)
		}
	}
	return nil
}

func (s *Store) touchCatalogMeta(ctx context.Context, q querier, cursor string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO catalog_meta (id, last_pulled_at, cursor) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_pulled_at = excluded.last_pulled_at, cursor = excluded.cursor
	`, millis(s.now()), cursor)
	if err != nil {
		return fmt.Errorf("update catalog meta: %w", err)
	}
	return nil
}

// LookupProduct returns one catalog entry.
// Returns an error wrapping pos.ErrNotFound if nothing matches.
func (s *Store) LookupProduct(ctx context.Context, l ProductLookup) (pos.CatalogEntry, error) {
	var (
		column string
		value  string
	)
	switch {
	case l.ProductID != "":
		column, value = "product_id", l.ProductID
	case l.Barcode != "":
		column, value = "barcode", l.Barcode
	case l.SKU != "":
		column, value = "sku", l.SKU
	default:
		return pos.CatalogEntry{}, pos.NewValidationError(pos.ErrCodeMissingField, "lookup needs a product_id, barcode or sku")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+catalogColumns+` FROM catalog_entries
		WHERE `+column+` = ?
		ORDER BY product_id ASC
		LIMIT 1
	`, value)
	e, err := scanCatalogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.CatalogEntry{}, fmt.Errorf("product with %s %s: %w", column, value, pos.ErrNotFound)
	}
	if err != nil {
		return pos.CatalogEntry{}, fmt.Errorf("lookup product: %w", err)
	}
	return e, nil
}

// CatalogState reports when the replica was last pulled and how many
// products it holds.
func (s *Store) CatalogState(ctx context.Context) (pos.CatalogState, error) {
	var state pos.CatalogState
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&state.Entries); err != nil {
		return pos.CatalogState{}, fmt.Errorf("count catalog: %w", err)
	}

	var pulledAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT last_pulled_at, cursor FROM catalog_meta WHERE id = 1`).Scan(&pulledAt, &state.Cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return pos.CatalogState{}, fmt.Errorf("read catalog meta: %w", err)
	}
	state.LastPulledAt = fromNullMillis(pulledAt)
	return state, nil
}
