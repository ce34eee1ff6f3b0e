// Package pricebook retrieves canonical line items from the externally
// hosted pricebook catalog. The core contract is similarity search: given
// a free-text description, return the best-matching canonical entries
// with unit costs.
package pricebook

import (
	"context"

	"github.com/rotisserie/eris"
)

// Entry is one canonical pricebook item returned by a search.
type Entry struct {
	ID          int64   `json:"id"`
	Code        string  `json:"code"`
	DisplayName string  `json:"display_name"`
	UnitCost    float64 `json:"unit_cost"`
	Score       float64 `json:"score"`
}

// Retriever searches the pricebook. Implementations are deterministic
// given the same catalog snapshot and query.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]Entry, error)
}

// ErrRetrievalFailed wraps permanent search failures after the retry
// budget is spent. Callers leave pricebook fields null and continue.
var ErrRetrievalFailed = eris.New("pricebook: retrieval failed")

// Best returns the top match at or above scoreFloor, or nil when no
// candidate qualifies.
func Best(ctx context.Context, r Retriever, query string, k int, scoreFloor float64) (*Entry, error) {
	entries, err := r.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 || entries[0].Score < scoreFloor {
		return nil, nil
	}
	top := entries[0]
	return &top, nil
}
