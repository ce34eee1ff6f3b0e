// Package errlog persists false positives and false negatives to an
// append-only JSONL file for later review. One record per line keeps
// the file greppable and lets concurrent workers append without a
// rewrite cycle.
package errlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/roofsignal/discrepancy-cli/internal/model"
)

// Error kinds.
const (
	KindFalsePositive = "FALSE_POSITIVE"
	KindFalseNegative = "FALSE_NEGATIVE"
)

// Severities. False positives erode estimator trust faster than misses,
// so they rank higher.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
)

// CaseMetrics snapshots the case-level counts at record time.
type CaseMetrics struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Record is one logged mistake.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	CaseID    string    `json:"case_id"`
	ErrorKind string    `json:"error_kind"`
	Severity  string    `json:"severity"`

	// Deviation is the mistaken one: the spurious prediction for a false
	// positive, the missed ground truth for a false negative.
	Deviation model.Deviation `json:"deviation"`

	// Opposing lists the other side's same-class deviations, for triage
	// context on near misses.
	Opposing []model.Deviation `json:"opposing,omitempty"`

	CaseMetrics CaseMetrics `json:"case_metrics"`
}

// Log appends records to a JSONL file. Safe for concurrent use.
type Log struct {
	path string
	mu   sync.Mutex
}

// New returns a log writing to path. The file is created on first append.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

// NewFalsePositive builds a record for a spurious prediction.
func NewFalsePositive(caseID string, predicted model.Deviation, opposing []model.Deviation, metrics CaseMetrics) Record {
	return Record{
		Timestamp:   time.Now().UTC(),
		CaseID:      caseID,
		ErrorKind:   KindFalsePositive,
		Severity:    SeverityHigh,
		Deviation:   predicted,
		Opposing:    opposing,
		CaseMetrics: metrics,
	}
}

// NewFalseNegative builds a record for a missed ground-truth deviation.
func NewFalseNegative(caseID string, expected model.Deviation, opposing []model.Deviation, metrics CaseMetrics) Record {
	return Record{
		Timestamp:   time.Now().UTC(),
		CaseID:      caseID,
		ErrorKind:   KindFalseNegative,
		Severity:    SeverityMedium,
		Deviation:   expected,
		Opposing:    opposing,
		CaseMetrics: metrics,
	}
}

// Append writes records to the end of the file, one JSON line each.
func (l *Log) Append(records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return eris.Wrap(err, "errlog: mkdir")
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrap(err, "errlog: open")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return eris.Wrap(err, "errlog: encode")
		}
	}
	if err := w.Flush(); err != nil {
		return eris.Wrap(err, "errlog: flush")
	}
	return eris.Wrap(f.Close(), "errlog: close")
}

// Clear truncates the log. A missing file is not an error.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "errlog: clear")
	}
	return nil
}

// Filter narrows a Read. Zero values match everything.
type Filter struct {
	Kind   string // KindFalsePositive or KindFalseNegative
	CaseID string
	Latest int // keep only the N most recent records, 0 for all
}

// Read returns the records matching the filter, oldest first. A missing
// file reads as empty.
func (l *Log) Read(filter Filter) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "errlog: open")
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrapf(err, "errlog: line %d", line)
		}
		if filter.Kind != "" && rec.ErrorKind != filter.Kind {
			continue
		}
		if filter.CaseID != "" && rec.CaseID != filter.CaseID {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "errlog: scan")
	}

	if filter.Latest > 0 && len(out) > filter.Latest {
		out = out[len(out)-filter.Latest:]
	}
	return out, nil
}
