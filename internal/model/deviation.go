// Package model defines the core domain types shared across the
// discrepancy pipeline: deviations, occurrences, case inputs and labels,
// and per-case evaluation results.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// AnnotationRetrievalFailed marks a deviation whose pricebook enrichment
// failed after the retry budget. Pricebook fields stay null.
const AnnotationRetrievalFailed = "RETRIEVAL_FAILED"

// Occurrence is one timestamped moment in one call where a deviation was
// asserted. Timestamp is "MM:SS" or "HH:MM:SS"; an empty timestamp means
// the LLM emitted a malformed value that was clamped.
type Occurrence struct {
	ConversationIndex int    `json:"conversation_index"`
	Timestamp         string `json:"timestamp"`
}

// Seconds resolves the timestamp to a seconds offset.
func (o Occurrence) Seconds() (int, error) {
	return ParseTimestamp(o.Timestamp)
}

// ParseTimestamp parses "MM:SS" or "HH:MM:SS" into a seconds offset.
func ParseTimestamp(ts string) (int, error) {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, eris.New(fmt.Sprintf("model: malformed timestamp %q", ts))
	}

	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, eris.New(fmt.Sprintf("model: malformed timestamp %q", ts))
		}
		total = total*60 + n
	}
	// Seconds (and minutes in HH:MM:SS) must be in range.
	sec, _ := strconv.Atoi(parts[len(parts)-1])
	if sec > 59 {
		return 0, eris.New(fmt.Sprintf("model: malformed timestamp %q", ts))
	}
	if len(parts) == 3 {
		min, _ := strconv.Atoi(parts[1])
		if min > 59 {
			return 0, eris.New(fmt.Sprintf("model: malformed timestamp %q", ts))
		}
	}
	return total, nil
}

// FormatTimestamp renders a seconds offset as "MM:SS", or "HH:MM:SS" at
// one hour and beyond.
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// PredictedLineItem is a proposed estimate entry that would resolve a
// deviation, optionally linked to a canonical pricebook item.
//
// When MatchedPricebookItemID is set, UnitCost equals the pricebook's unit
// cost at match time and TotalCost = UnitCost × (Quantity or 1).
type PredictedLineItem struct {
	Description                     string   `json:"description"`
	Quantity                        *float64 `json:"quantity,omitempty"`
	Unit                            string   `json:"unit,omitempty"`
	Notes                           string   `json:"notes,omitempty"`
	MatchedPricebookItemID          *int64   `json:"matched_pricebook_item_id,omitempty"`
	MatchedPricebookItemDisplayName *string  `json:"matched_pricebook_item_display_name,omitempty"`
	UnitCost                        *float64 `json:"unit_cost,omitempty"`
	TotalCost                       *float64 `json:"total_cost,omitempty"`
}

// Deviation is a documented omission or mismatch between what was verbally
// agreed in the sales call and what appears in the estimate or production
// form.
type Deviation struct {
	Class             string             `json:"class"`
	Explanation       string             `json:"explanation"`
	Occurrences       []Occurrence       `json:"occurrences"`
	PredictedLineItem *PredictedLineItem `json:"predicted_line_item,omitempty"`
	Annotations       []string           `json:"annotations,omitempty"`
}

// SortOccurrences orders occurrences chronologically by
// (conversation_index, timestamp seconds). Occurrences with clamped
// timestamps sort after parseable ones within the same conversation.
func (d *Deviation) SortOccurrences() {
	sort.SliceStable(d.Occurrences, func(i, j int) bool {
		a, b := d.Occurrences[i], d.Occurrences[j]
		if a.ConversationIndex != b.ConversationIndex {
			return a.ConversationIndex < b.ConversationIndex
		}
		as, aErr := a.Seconds()
		bs, bErr := b.Seconds()
		if aErr != nil {
			return false
		}
		if bErr != nil {
			return true
		}
		return as < bs
	})
}

// Annotated reports whether the deviation carries the given annotation.
func (d *Deviation) Annotated(annotation string) bool {
	for _, a := range d.Annotations {
		if a == annotation {
			return true
		}
	}
	return false
}
