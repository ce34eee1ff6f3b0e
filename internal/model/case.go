package model

import "time"

// Word is a single word record from a raw call transcript.
type Word struct {
	Speaker    string  `json:"speaker"`
	Word       string  `json:"word"`
	Timestamp  float64 `json:"timestamp"` // seconds from call start
	Confidence float64 `json:"confidence"`
}

// Turn is one compacted speaker turn: the words space-joined, with the
// per-word timestamps and confidences preserved so the LLM can cite
// moments precisely.
type Turn struct {
	Speaker     string    `json:"speaker"`
	Words       string    `json:"words"`
	Timestamps  []string  `json:"timestamps"` // MM:SS per word
	Confidences []float64 `json:"confidences"`
}

// EstimateLineItem is one row of an itemized estimate.
type EstimateLineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	UnitCost    *float64 `json:"unit_cost,omitempty"`
	TotalCost   *float64 `json:"total_cost,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// Estimate is the itemized estimate attached to a case.
type Estimate struct {
	LineItems []EstimateLineItem `json:"line_items"`
}

// ProductionForm is the post-call production form. Its shape varies by
// trade and office, so it is carried as a generic record.
type ProductionForm map[string]any

// CaseInput is everything inference needs for one case: the raw
// conversations plus the documents they are checked against.
type CaseInput struct {
	CaseID         string         `json:"case_id"`
	Conversations  [][]Word       `json:"conversations"`
	Estimate       Estimate       `json:"estimate"`
	ProductionForm ProductionForm `json:"production_form,omitempty"`
}

// CaseLabels is the hand-labeled ground truth for a case.
type CaseLabels struct {
	Deviations []Deviation `json:"deviations"`
	VerifiedBy string      `json:"verified_by,omitempty"`
	VerifiedAt time.Time   `json:"verified_at,omitempty"`
	Notes      string      `json:"notes,omitempty"`
}
