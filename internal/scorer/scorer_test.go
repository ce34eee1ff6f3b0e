package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roofsignal/discrepancy-cli/internal/model"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func tpPair(class string, accurate *bool, errs ...int) model.MatchPair {
	return model.MatchPair{
		PredictedIndex:     intPtr(0),
		ExpectedIndex:      intPtr(0),
		Kind:               model.MatchTP,
		ClassPredicted:     class,
		ClassExpected:      class,
		OccurrenceErrors:   errs,
		OccurrenceAccurate: accurate,
	}
}

func fpPair(class string) model.MatchPair {
	return model.MatchPair{PredictedIndex: intPtr(0), Kind: model.MatchFP, ClassPredicted: class}
}

func fnPair(class string) model.MatchPair {
	return model.MatchPair{ExpectedIndex: intPtr(0), Kind: model.MatchFN, ClassExpected: class}
}

func classMetrics(t *testing.T, rep Report, class string) ClassMetrics {
	t.Helper()
	for _, m := range rep.Classes {
		if m.Class == class {
			return m
		}
	}
	t.Fatalf("class %s not in report", class)
	return ClassMetrics{}
}

func TestReportPerClassMetrics(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(model.CaseResult{CaseID: "c1", Matches: []model.MatchPair{
		tpPair("scope_discrepancy", boolPtr(true), 5),
		fpPair("scope_discrepancy"),
	}})
	acc.Add(model.CaseResult{CaseID: "c2", Matches: []model.MatchPair{
		fnPair("scope_discrepancy"),
		tpPair("incorrect_quantity", boolPtr(false), 45),
	}})

	rep := acc.Report()
	assert.Equal(t, 2, rep.Cases)

	sd := classMetrics(t, rep, "scope_discrepancy")
	assert.Equal(t, 1, sd.TP)
	assert.Equal(t, 1, sd.FP)
	assert.Equal(t, 1, sd.FN)
	require.NotNil(t, sd.Precision)
	assert.InDelta(t, 0.5, *sd.Precision, 1e-9)
	require.NotNil(t, sd.Recall)
	assert.InDelta(t, 0.5, *sd.Recall, 1e-9)
	require.NotNil(t, sd.F1)
	assert.InDelta(t, 0.5, *sd.F1, 1e-9)

	iq := classMetrics(t, rep, "incorrect_quantity")
	require.NotNil(t, iq.F1)
	assert.InDelta(t, 1.0, *iq.F1, 1e-9)
}

func TestReportMicroAndMacro(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(model.CaseResult{Matches: []model.MatchPair{
		tpPair("a", nil),
		tpPair("a", nil),
		fpPair("a"),
		fnPair("b"),
	}})

	rep := acc.Report()
	// micro: TP=2 FP=1 FN=1 → P=2/3 R=2/3 F1=2/3
	require.NotNil(t, rep.MicroF1)
	assert.InDelta(t, 2.0/3.0, *rep.MicroF1, 1e-9)
	// macro: class a has F1=0.8; class b has nil precision, excluded.
	require.NotNil(t, rep.MacroF1)
	assert.InDelta(t, 0.8, *rep.MacroF1, 1e-9)
}

func TestZeroDenominatorsAreNil(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(model.CaseResult{Matches: []model.MatchPair{fnPair("a")}})

	rep := acc.Report()
	m := classMetrics(t, rep, "a")
	assert.Nil(t, m.Precision) // no predictions
	require.NotNil(t, m.Recall)
	assert.Zero(t, *m.Recall)
	assert.Nil(t, m.F1)
	assert.Nil(t, rep.MacroF1)
	assert.Nil(t, rep.OccurrenceAccuracy)
}

func TestOccurrenceAccuracy(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(model.CaseResult{Matches: []model.MatchPair{
		tpPair("a", boolPtr(true), 10, 20),
		tpPair("a", boolPtr(false), 90),
		tpPair("a", nil), // no alignable occurrences, excluded
	}})

	rep := acc.Report()
	require.NotNil(t, rep.OccurrenceAccuracy)
	assert.InDelta(t, 0.5, *rep.OccurrenceAccuracy, 1e-9)
	require.NotNil(t, rep.MeanOccurrenceErr)
	assert.InDelta(t, 40.0, *rep.MeanOccurrenceErr, 1e-9) // (10+20+90)/3
}

func TestConfusionMatrix(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(model.CaseResult{Matches: []model.MatchPair{
		tpPair("a", nil),
		fnPair("b"),
		fpPair("c"),
	}})

	rep := acc.Report()
	assert.Equal(t, 1, rep.Confusion["a"]["a"])
	assert.Equal(t, 1, rep.Confusion["b"]["c"])
}

func TestErroredCases(t *testing.T) {
	acc := NewAccumulator()
	acc.AddErrored()
	acc.AddErrored()

	rep := acc.Report()
	assert.Equal(t, 2, rep.Errored)
	assert.Zero(t, rep.Cases)
}

func TestMergeMatchesSequentialAdd(t *testing.T) {
	results := []model.CaseResult{
		{Matches: []model.MatchPair{tpPair("a", boolPtr(true), 5), fpPair("b")}},
		{Matches: []model.MatchPair{fnPair("a"), tpPair("b", boolPtr(false), 60)}},
		{Matches: []model.MatchPair{fpPair("a"), fnPair("c")}},
	}

	sequential := NewAccumulator()
	for _, r := range results {
		sequential.Add(r)
	}

	left, right := NewAccumulator(), NewAccumulator()
	left.Add(results[0])
	right.Add(results[1])
	right.Add(results[2])
	left.Merge(right)

	assert.Equal(t, sequential.Report(), left.Report())
}
