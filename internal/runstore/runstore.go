// Package runstore persists evaluation runs and their per-case results
// to a local SQLite database, so past runs can be compared, exported,
// and served without re-running inference.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/roofsignal/discrepancy-cli/internal/model"
	"github.com/roofsignal/discrepancy-cli/internal/scorer"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = eris.New("runstore: run not found")

// Meta identifies the configuration a run was made with.
type Meta struct {
	ExperimentName  string  `json:"experiment_name"`
	ModelID         string  `json:"model_id"`
	Temperature     float64 `json:"temperature"`
	TaxonomyVersion string  `json:"taxonomy_version"`
	PromptVersion   string  `json:"prompt_version"`
}

// Run is one evaluation run.
type Run struct {
	ID         string         `json:"id"`
	Meta       Meta           `json:"meta"`
	Status     string         `json:"status"`
	Report     *scorer.Report `json:"report,omitempty"`
	CostUSD    float64        `json:"cost_usd"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and configures WAL mode.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "runstore: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "runstore: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	meta        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	report      TEXT,
	cost_usd    REAL NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS case_results (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	case_id    TEXT NOT NULL,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, case_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_case_results_run_id ON case_results(run_id);
`

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "runstore: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new running run and returns it.
func (s *Store) CreateRun(ctx context.Context, meta Meta) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, eris.Wrap(err, "runstore: marshal meta")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, meta, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(metaJSON), StatusRunning, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runstore: insert run")
	}

	return &Run{ID: id, Meta: meta, Status: StatusRunning, StartedAt: now}, nil
}

// SaveCaseResult upserts one case's result under a run.
func (s *Store) SaveCaseResult(ctx context.Context, runID string, res model.CaseResult) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "runstore: marshal case result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO case_results (run_id, case_id, result) VALUES (?, ?, ?)
		 ON CONFLICT (run_id, case_id) DO UPDATE SET result = excluded.result`,
		runID, res.CaseID, string(resultJSON),
	)
	return eris.Wrapf(err, "runstore: save case result %s", res.CaseID)
}

// FinishRun marks a run complete with its final report and cost.
func (s *Store) FinishRun(ctx context.Context, runID string, report scorer.Report, costUSD float64) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "runstore: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, report = ?, cost_usd = ?, finished_at = ? WHERE id = ?`,
		StatusComplete, string(reportJSON), costUSD, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runstore: finish run %s", runID)
	}
	return checkAffected(res, runID)
}

// FailRun marks a run failed with an error message.
func (s *Store) FailRun(ctx context.Context, runID, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		StatusFailed, message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runstore: fail run %s", runID)
	}
	return checkAffected(res, runID)
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, meta, status, report, cost_usd, error, started_at, finished_at
		 FROM runs WHERE id = ?`, runID,
	)
	return scanRun(row)
}

// LatestRun fetches the most recently started completed run, or the most
// recently started run of any status when none completed yet.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, meta, status, report, cost_usd, error, started_at, finished_at
		 FROM runs ORDER BY (status = 'complete') DESC, started_at DESC LIMIT 1`,
	)
	return scanRun(row)
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, meta, status, report, cost_usd, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runstore: list runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "runstore: list runs")
}

// ListCaseResults returns all case results for a run, ordered by case id.
func (s *Store) ListCaseResults(ctx context.Context, runID string) ([]model.CaseResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM case_results WHERE run_id = ? ORDER BY case_id`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "runstore: list case results %s", runID)
	}
	defer rows.Close()

	var out []model.CaseResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "runstore: scan case result")
		}
		var res model.CaseResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, eris.Wrap(err, "runstore: unmarshal case result")
		}
		out = append(out, res)
	}
	return out, eris.Wrap(rows.Err(), "runstore: list case results")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		metaJSON   string
		reportJSON sql.NullString
		errMsg     sql.NullString
		finishedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &metaJSON, &run.Status, &reportJSON, &run.CostUSD, &errMsg, &run.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "runstore: scan run")
	}

	if err := json.Unmarshal([]byte(metaJSON), &run.Meta); err != nil {
		return nil, eris.Wrap(err, "runstore: unmarshal meta")
	}
	if reportJSON.Valid && reportJSON.String != "" {
		var rep scorer.Report
		if err := json.Unmarshal([]byte(reportJSON.String), &rep); err != nil {
			return nil, eris.Wrap(err, "runstore: unmarshal report")
		}
		run.Report = &rep
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func checkAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "runstore: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s", runID)
	}
	return nil
}
