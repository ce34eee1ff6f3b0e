package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roofsignal/discrepancy-cli/internal/model"
)

func dev(class string, occurrences ...model.Occurrence) model.Deviation {
	return model.Deviation{Class: class, Occurrences: occurrences}
}

func occ(conv int, ts string) model.Occurrence {
	return model.Occurrence{ConversationIndex: conv, Timestamp: ts}
}

func TestExactMatchIsAccurateTP(t *testing.T) {
	predicted := []model.Deviation{dev("scope_discrepancy", occ(0, "12:40"))}
	expected := []model.Deviation{dev("scope_discrepancy", occ(0, "12:40"))}

	res := Match(predicted, expected, DefaultConfig())
	assert.Equal(t, model.Counts{TP: 1}, res.Counts)
	require.Len(t, res.Pairs, 1)

	pair := res.Pairs[0]
	assert.Equal(t, model.MatchTP, pair.Kind)
	assert.Equal(t, []int{0}, pair.OccurrenceErrors)
	require.NotNil(t, pair.OccurrenceAccurate)
	assert.True(t, *pair.OccurrenceAccurate)
}

func TestNearMissWithinToleranceIsAccurate(t *testing.T) {
	// 39:55 vs 39:26 is a 29 second error, inside the 30 second default.
	predicted := []model.Deviation{dev("incorrect_quantity", occ(0, "39:55"))}
	expected := []model.Deviation{dev("incorrect_quantity", occ(0, "39:26"))}

	res := Match(predicted, expected, DefaultConfig())
	require.Len(t, res.Pairs, 1)
	pair := res.Pairs[0]
	assert.Equal(t, model.MatchTP, pair.Kind)
	assert.Equal(t, []int{29}, pair.OccurrenceErrors)
	require.NotNil(t, pair.OccurrenceAccurate)
	assert.True(t, *pair.OccurrenceAccurate)
}

func TestMissBeyondToleranceStillTPButInaccurate(t *testing.T) {
	// Class-equal pairs always match; only the occurrence diagnostics flip.
	predicted := []model.Deviation{dev("labor_line_item_missing", occ(0, "10:44"))}
	expected := []model.Deviation{dev("labor_line_item_missing", occ(0, "10:00"))}

	res := Match(predicted, expected, DefaultConfig())
	assert.Equal(t, model.Counts{TP: 1}, res.Counts)
	pair := res.Pairs[0]
	assert.Equal(t, []int{44}, pair.OccurrenceErrors)
	require.NotNil(t, pair.OccurrenceAccurate)
	assert.False(t, *pair.OccurrenceAccurate)
}

func TestClassMismatchYieldsFPAndFN(t *testing.T) {
	predicted := []model.Deviation{dev("scope_discrepancy", occ(0, "05:00"))}
	expected := []model.Deviation{dev("incorrect_quantity", occ(0, "05:00"))}

	res := Match(predicted, expected, DefaultConfig())
	assert.Equal(t, model.Counts{FP: 1, FN: 1}, res.Counts)
	require.Len(t, res.Pairs, 2)

	var fp, fn *model.MatchPair
	for i := range res.Pairs {
		switch res.Pairs[i].Kind {
		case model.MatchFP:
			fp = &res.Pairs[i]
		case model.MatchFN:
			fn = &res.Pairs[i]
		}
	}
	require.NotNil(t, fp)
	require.NotNil(t, fn)
	assert.Equal(t, "scope_discrepancy", fp.ClassPredicted)
	assert.Nil(t, fp.ExpectedIndex)
	assert.Equal(t, "incorrect_quantity", fn.ClassExpected)
	assert.Nil(t, fn.PredictedIndex)
}

func TestMatchingIsOneToOne(t *testing.T) {
	// Two same-class predictions compete for one expected deviation; the
	// better-aligned one wins, the other becomes an FP.
	predicted := []model.Deviation{
		dev("scope_discrepancy", occ(0, "20:00")),
		dev("scope_discrepancy", occ(0, "08:05")),
	}
	expected := []model.Deviation{dev("scope_discrepancy", occ(0, "08:00"))}

	res := Match(predicted, expected, DefaultConfig())
	assert.Equal(t, model.Counts{TP: 1, FP: 1}, res.Counts)

	seenP := map[int]int{}
	seenE := map[int]int{}
	for _, p := range res.Pairs {
		if p.PredictedIndex != nil {
			seenP[*p.PredictedIndex]++
		}
		if p.ExpectedIndex != nil {
			seenE[*p.ExpectedIndex]++
		}
	}
	for pi, n := range seenP {
		assert.Equal(t, 1, n, "predicted index %d appears %d times", pi, n)
	}
	for ei, n := range seenE {
		assert.Equal(t, 1, n, "expected index %d appears %d times", ei, n)
	}

	// The closer prediction (index 1) took the slot.
	for _, p := range res.Pairs {
		if p.Kind == model.MatchTP {
			require.NotNil(t, p.PredictedIndex)
			assert.Equal(t, 1, *p.PredictedIndex)
		}
	}
}

func TestCountsAreConsistent(t *testing.T) {
	predicted := []model.Deviation{
		dev("scope_discrepancy", occ(0, "01:00")),
		dev("incorrect_quantity", occ(0, "02:00")),
		dev("labor_line_item_missing", occ(1, "03:00")),
	}
	expected := []model.Deviation{
		dev("scope_discrepancy", occ(0, "01:05")),
		dev("discount_applied_not_tracked", occ(0, "09:00")),
	}

	res := Match(predicted, expected, DefaultConfig())
	assert.Equal(t, len(predicted), res.Counts.TP+res.Counts.FP)
	assert.Equal(t, len(expected), res.Counts.TP+res.Counts.FN)
	assert.Len(t, res.Pairs, res.Counts.TP+res.Counts.FP+res.Counts.FN)
}

func TestEmptySidesProduceOnlyOneKind(t *testing.T) {
	preds := []model.Deviation{dev("scope_discrepancy"), dev("incorrect_quantity")}

	res := Match(preds, nil, DefaultConfig())
	assert.Equal(t, model.Counts{FP: 2}, res.Counts)

	res = Match(nil, preds, DefaultConfig())
	assert.Equal(t, model.Counts{FN: 2}, res.Counts)

	res = Match(nil, nil, DefaultConfig())
	assert.Equal(t, model.Counts{}, res.Counts)
	assert.Empty(t, res.Pairs)
}

func TestNoOccurrencesExcludedFromAccuracy(t *testing.T) {
	predicted := []model.Deviation{dev("untracked_or_incorrect_customer_preference")}
	expected := []model.Deviation{dev("untracked_or_incorrect_customer_preference", occ(0, "04:00"))}

	res := Match(predicted, expected, DefaultConfig())
	assert.Equal(t, model.Counts{TP: 1}, res.Counts)
	pair := res.Pairs[0]
	assert.Nil(t, pair.OccurrenceAccurate)
	assert.Empty(t, pair.OccurrenceErrors)
}

func TestClampedTimestampNeverAligns(t *testing.T) {
	predicted := []model.Deviation{dev("scope_discrepancy", occ(0, ""))}
	expected := []model.Deviation{dev("scope_discrepancy", occ(0, "04:00"))}

	res := Match(predicted, expected, DefaultConfig())
	assert.Equal(t, model.Counts{TP: 1}, res.Counts)
	assert.Nil(t, res.Pairs[0].OccurrenceAccurate)
}

func TestCrossConversationOccurrencesNeverAlign(t *testing.T) {
	predicted := []model.Deviation{dev("scope_discrepancy", occ(1, "04:00"))}
	expected := []model.Deviation{dev("scope_discrepancy", occ(0, "04:00"))}

	res := Match(predicted, expected, DefaultConfig())
	assert.Equal(t, model.Counts{TP: 1}, res.Counts)
	assert.Nil(t, res.Pairs[0].OccurrenceAccurate)
}

func TestWideningToleranceNeverFlipsAccurateToInaccurate(t *testing.T) {
	predicted := []model.Deviation{
		dev("scope_discrepancy", occ(0, "10:10")),
		dev("incorrect_quantity", occ(0, "20:50")),
	}
	expected := []model.Deviation{
		dev("scope_discrepancy", occ(0, "10:00")),
		dev("incorrect_quantity", occ(0, "20:00")),
	}

	accurate := func(tolerance int) map[int]bool {
		cfg := DefaultConfig()
		cfg.ToleranceSeconds = tolerance
		out := map[int]bool{}
		for _, p := range Match(predicted, expected, cfg).Pairs {
			if p.Kind == model.MatchTP && p.OccurrenceAccurate != nil {
				out[*p.ExpectedIndex] = *p.OccurrenceAccurate
			}
		}
		return out
	}

	narrow := accurate(15)
	wide := accurate(60)
	for ei, acc := range narrow {
		if acc {
			assert.True(t, wide[ei], "expected index %d lost accuracy when tolerance widened", ei)
		}
	}
	assert.False(t, narrow[1]) // 50s error, outside 15s
	assert.True(t, wide[1])    // inside 60s
}

func TestTieBreakPrefersLowerIndices(t *testing.T) {
	// Identical alignment everywhere; the pairing must be deterministic
	// and favor lower (predicted, expected) index pairs.
	predicted := []model.Deviation{
		dev("scope_discrepancy", occ(0, "05:00")),
		dev("scope_discrepancy", occ(0, "05:00")),
	}
	expected := []model.Deviation{
		dev("scope_discrepancy", occ(0, "05:00")),
		dev("scope_discrepancy", occ(0, "05:00")),
	}

	res := Match(predicted, expected, DefaultConfig())
	assert.Equal(t, model.Counts{TP: 2}, res.Counts)
	for _, p := range res.Pairs {
		require.NotNil(t, p.PredictedIndex)
		require.NotNil(t, p.ExpectedIndex)
		assert.Equal(t, *p.PredictedIndex, *p.ExpectedIndex)
	}
}
