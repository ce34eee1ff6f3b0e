// Package transcript compacts raw per-word call transcripts into
// speaker turns suitable for prompting. Per-word timestamps and
// confidences survive compaction so the model can cite exact moments.
package transcript

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/roofsignal/discrepancy-cli/internal/model"
)

// ErrMalformed is returned when a transcript's timestamps run backwards
// within a single speaker turn.
var ErrMalformed = eris.New("transcript: non-monotonic timestamps within speaker turn")

// DefaultSilenceThreshold is the gap, in seconds, that starts a new turn
// even when the speaker has not changed.
const DefaultSilenceThreshold = 8.0

// Compactor converts word records into turns. A new turn begins whenever
// the speaker changes or the silence threshold is exceeded.
type Compactor struct {
	silenceThreshold float64
}

// NewCompactor creates a Compactor. A non-positive threshold falls back
// to DefaultSilenceThreshold.
func NewCompactor(silenceThresholdSecs float64) *Compactor {
	if silenceThresholdSecs <= 0 {
		silenceThresholdSecs = DefaultSilenceThreshold
	}
	return &Compactor{silenceThreshold: silenceThresholdSecs}
}

// Compact folds an ordered word sequence into turns.
func (c *Compactor) Compact(words []model.Word) ([]model.Turn, error) {
	if len(words) == 0 {
		return nil, nil
	}

	var turns []model.Turn
	var cur *model.Turn
	var curWords []string
	var prev model.Word

	flush := func() {
		if cur == nil {
			return
		}
		cur.Words = strings.Join(curWords, " ")
		turns = append(turns, *cur)
		cur = nil
		curWords = nil
	}

	for i, w := range words {
		newTurn := cur == nil ||
			w.Speaker != cur.Speaker ||
			w.Timestamp-prev.Timestamp > c.silenceThreshold

		if !newTurn && w.Timestamp < prev.Timestamp {
			return nil, eris.Wrap(ErrMalformed,
				fmt.Sprintf("word %d (%q) at %.2fs follows %.2fs", i, w.Word, w.Timestamp, prev.Timestamp))
		}

		if newTurn {
			flush()
			cur = &model.Turn{Speaker: w.Speaker}
		}

		curWords = append(curWords, w.Word)
		cur.Timestamps = append(cur.Timestamps, model.FormatTimestamp(int(w.Timestamp)))
		cur.Confidences = append(cur.Confidences, w.Confidence)
		prev = w
	}
	flush()

	return turns, nil
}

// Format renders turns as a plain-text block for the inference prompt.
// Each turn carries its starting timestamp; low-confidence words are not
// marked here since per-word confidences are rendered separately when the
// prompt needs them.
func Format(turns []model.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		start := ""
		if len(t.Timestamps) > 0 {
			start = t.Timestamps[0]
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", start, t.Speaker, t.Words)
	}
	return b.String()
}
