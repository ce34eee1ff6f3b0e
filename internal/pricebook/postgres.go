package pricebook

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roofsignal/discrepancy-cli/internal/resilience"
)

// Pool is the subset of pgxpool.Pool the retriever needs; pgxmock
// satisfies it for unit tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresRetriever implements Retriever against a Postgres catalog using
// trigram similarity (pg_trgm). Search is deterministic for a fixed
// catalog snapshot: ordering ties are broken by item id.
type PostgresRetriever struct {
	pool  Pool
	retry resilience.RetryConfig
}

// NewPostgres connects a PostgresRetriever to the given database.
func NewPostgres(ctx context.Context, connString string) (*PostgresRetriever, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "pricebook: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "pricebook: ping")
	}
	return NewPostgresWithPool(pool), nil
}

// NewPostgresWithPool wraps an existing pool (used by tests and the loader).
func NewPostgresWithPool(pool Pool) *PostgresRetriever {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("pricebook", "search")
	return &PostgresRetriever{pool: pool, retry: cfg}
}

// Close releases the underlying pool.
func (r *PostgresRetriever) Close() {
	r.pool.Close()
}

const searchSQL = `
	SELECT id, code, display_name, unit_cost, similarity(search_text, $1) AS score
	FROM pricebook_items
	WHERE similarity(search_text, $1) > 0
	ORDER BY score DESC, id ASC
	LIMIT $2`

// Search returns the k most similar catalog entries for a free-text
// description. Transient backend errors are retried with exponential
// backoff; a spent budget yields ErrRetrievalFailed.
func (r *PostgresRetriever) Search(ctx context.Context, query string, k int) ([]Entry, error) {
	normalized := NormalizeQuery(query)
	if normalized == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}

	entries, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) ([]Entry, error) {
		return r.searchOnce(ctx, normalized, k)
	})
	if err != nil {
		zap.L().Warn("pricebook: search failed after retries",
			zap.String("query", normalized),
			zap.Error(err),
		)
		return nil, eris.Wrap(ErrRetrievalFailed, err.Error())
	}
	return entries, nil
}

func (r *PostgresRetriever) searchOnce(ctx context.Context, query string, k int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, searchSQL, query, k)
	if err != nil {
		return nil, eris.Wrap(err, "pricebook: query")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Code, &e.DisplayName, &e.UnitCost, &e.Score); err != nil {
			return nil, eris.Wrap(err, "pricebook: scan row")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "pricebook: iterate rows")
	}
	return entries, nil
}
