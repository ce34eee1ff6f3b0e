package pricebook

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const migration = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS pricebook_items (
	id           BIGINT PRIMARY KEY,
	code         TEXT NOT NULL,
	display_name TEXT NOT NULL,
	unit_cost    NUMERIC NOT NULL,
	search_text  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pricebook_items_search_trgm
	ON pricebook_items USING gin (search_text gin_trgm_ops);
`

// CatalogItem is one pricebook entry in the load file.
type CatalogItem struct {
	ID          int64   `json:"id"`
	Code        string  `json:"code"`
	DisplayName string  `json:"display_name"`
	UnitCost    float64 `json:"unit_cost"`
}

// Migrate creates the catalog table and trigram index.
func Migrate(ctx context.Context, pool Pool) error {
	_, err := pool.Exec(ctx, migration)
	return eris.Wrap(err, "pricebook: migrate")
}

// LoadFile reads a catalog snapshot from a JSON file: either a bare array
// of items or {"items": [...]}.
func LoadFile(path string) ([]CatalogItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pricebook: read %s", path)
	}

	var items []CatalogItem
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var wrapped struct {
		Items []CatalogItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, eris.Wrapf(err, "pricebook: parse %s", path)
	}
	return wrapped.Items, nil
}

// Upsert writes catalog items into the table, replacing rows that share
// an id. search_text is the normalized display name used for similarity.
func Upsert(ctx context.Context, pool Pool, items []CatalogItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "pricebook: begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, item := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO pricebook_items (id, code, display_name, unit_cost, search_text)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				code = EXCLUDED.code,
				display_name = EXCLUDED.display_name,
				unit_cost = EXCLUDED.unit_cost,
				search_text = EXCLUDED.search_text
		`, item.ID, item.Code, item.DisplayName, item.UnitCost, NormalizeQuery(item.DisplayName))
		if err != nil {
			return eris.Wrapf(err, "pricebook: upsert item %d", item.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "pricebook: commit")
	}

	zap.L().Info("pricebook: catalog loaded", zap.Int("items", len(items)))
	return nil
}
