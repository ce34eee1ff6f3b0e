package model

// MatchKind classifies one match pair.
type MatchKind string

const (
	MatchTP MatchKind = "TP"
	MatchFP MatchKind = "FP"
	MatchFN MatchKind = "FN"
)

// MatchPair links a predicted deviation to an expected one (TP), or
// records an unmatched prediction (FP) or unmatched expectation (FN).
type MatchPair struct {
	PredictedIndex *int      `json:"predicted_index,omitempty"`
	ExpectedIndex  *int      `json:"expected_index,omitempty"`
	Kind           MatchKind `json:"kind"`
	ClassPredicted string    `json:"class_predicted,omitempty"`
	ClassExpected  string    `json:"class_expected,omitempty"`

	// TP-only occurrence diagnostics. OccurrenceErrors holds the absolute
	// timestamp error in seconds for each predicted occurrence's best
	// aligned expected occurrence. OccurrenceAccurate is nil when either
	// side has no occurrences to align.
	OccurrenceErrors   []int `json:"occurrence_errors,omitempty"`
	OccurrenceAccurate *bool `json:"occurrence_accurate,omitempty"`
}

// Counts holds the TP/FP/FN tallies for one case or one class.
type Counts struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.TP += other.TP
	c.FP += other.FP
	c.FN += other.FN
}

// CaseResult is the per-run evaluation outcome for one case. It never
// overwrites ground truth; results are persisted as run artifacts.
type CaseResult struct {
	CaseID    string      `json:"case_id"`
	Predicted []Deviation `json:"predicted"`
	Expected  []Deviation `json:"expected"`
	Matches   []MatchPair `json:"matches"`
	Counts    Counts      `json:"counts"`

	// Provenance recorded so historical runs remain interpretable.
	ModelID         string  `json:"model_id"`
	Temperature     float64 `json:"temperature"`
	TaxonomyVersion string  `json:"taxonomy_version"`
	PromptVersion   string  `json:"prompt_version"`

	Warnings []string `json:"warnings,omitempty"`
}
