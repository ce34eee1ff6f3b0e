// Package dataset reads and writes the evaluation dataset: one JSON
// document mapping stable case ids to inputs and (optionally) hand-labeled
// ground truth. The store is read-only during a run; label edits land
// through Put, which bumps the labeler timestamp and rewrites the file
// atomically.
package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/roofsignal/discrepancy-cli/internal/model"
)

// ErrNotFound is returned when the dataset file does not exist.
var ErrNotFound = eris.New("dataset: not found")

// ErrMalformed is returned when the dataset file cannot be parsed.
var ErrMalformed = eris.New("dataset: malformed")

// ErrNoCase is returned by Load for an unknown case id.
var ErrNoCase = eris.New("dataset: no such case")

// Entry is one case in the dataset file.
type Entry struct {
	UUID   string            `json:"uuid"`
	Inputs Inputs            `json:"inputs"`
	Labels *model.CaseLabels `json:"labels,omitempty"`
}

// Inputs holds the raw per-case material inference runs on.
type Inputs struct {
	Conversations  [][]model.Word       `json:"conversations"`
	Estimate       model.Estimate       `json:"estimate"`
	ProductionForm model.ProductionForm `json:"production_form,omitempty"`
}

type document struct {
	Entries []Entry `json:"entries"`
}

// Store is an in-memory view over the dataset file. Concurrent readers
// are safe; concurrent writers to the same id are disallowed by contract.
type Store struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// Open reads and parses the dataset file.
func Open(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrNotFound, "%s", path)
		}
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrapf(ErrMalformed, "%s: %v", path, err)
	}

	s := &Store{
		path:    path,
		entries: make(map[string]Entry, len(doc.Entries)),
	}
	for _, e := range doc.Entries {
		if e.UUID == "" {
			return nil, eris.Wrapf(ErrMalformed, "%s: entry with empty uuid", path)
		}
		if _, dup := s.entries[e.UUID]; dup {
			return nil, eris.Wrapf(ErrMalformed, "%s: duplicate uuid %s", path, e.UUID)
		}
		s.entries[e.UUID] = e
		s.order = append(s.order, e.UUID)
	}
	return s, nil
}

// ListIDs returns all case ids in file order.
func (s *Store) ListIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// LabeledIDs returns the ids of cases that carry ground-truth labels.
// Unlabeled cases are valid inference inputs but excluded from evaluation.
func (s *Store) LabeledIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, id := range s.order {
		if s.entries[id].Labels != nil {
			out = append(out, id)
		}
	}
	return out
}

// Load returns the inputs and labels for one case. Labels are nil for
// unlabeled cases.
func (s *Store) Load(id string) (model.CaseInput, *model.CaseLabels, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return model.CaseInput{}, nil, eris.Wrapf(ErrNoCase, "%s", id)
	}

	input := model.CaseInput{
		CaseID:         e.UUID,
		Conversations:  e.Inputs.Conversations,
		Estimate:       e.Inputs.Estimate,
		ProductionForm: e.Inputs.ProductionForm,
	}
	return input, e.Labels, nil
}

// Filter intersects ids with the dataset, preserving file order, and
// reports any requested ids that are absent.
func (s *Store) Filter(subset []string) (present, missing []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(subset))
	for _, id := range subset {
		want[id] = true
	}
	for _, id := range s.order {
		if want[id] {
			present = append(present, id)
			delete(want, id)
		}
	}
	for id := range want {
		missing = append(missing, id)
	}
	return present, missing
}

// Put adds a case or replaces its labels, stamping VerifiedAt, and
// persists the whole document atomically (temp file + rename). Inputs of
// existing cases are never mutated.
func (s *Store) Put(id string, inputs Inputs, labels *model.CaseLabels) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if labels != nil {
		labels.VerifiedAt = time.Now().UTC()
	}

	if existing, ok := s.entries[id]; ok {
		existing.Labels = labels
		s.entries[id] = existing
	} else {
		s.entries[id] = Entry{UUID: id, Inputs: inputs, Labels: labels}
		s.order = append(s.order, id)
	}

	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	doc := document{Entries: make([]Entry, 0, len(s.order))}
	for _, id := range s.order {
		doc.Entries = append(doc.Entries, s.entries[id])
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "dataset: marshal")
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return eris.Wrap(err, "dataset: mkdir")
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return eris.Wrap(err, "dataset: write temp")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return eris.Wrap(err, "dataset: rename")
	}
	return nil
}
