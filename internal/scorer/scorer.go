// Package scorer aggregates per-case match results into run-level
// evaluation metrics: per-class and overall precision/recall/F1, a
// confusion matrix, and occurrence-alignment accuracy.
package scorer

import (
	"sort"
	"sync"

	"github.com/roofsignal/discrepancy-cli/internal/model"
)

// Accumulator folds case results into running totals. Safe for
// concurrent Add from worker goroutines.
type Accumulator struct {
	mu sync.Mutex

	cases   int
	errored int

	perClass map[string]model.Counts
	// confusion[expected][predicted] counts TP pairs on the diagonal and
	// within-case FP×FN co-occurrence off it.
	confusion map[string]map[string]int

	occTotal    int // TP pairs with alignable occurrences
	occAccurate int
	occErrSum   int // sum of per-occurrence absolute errors, seconds
	occErrCount int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		perClass:  make(map[string]model.Counts),
		confusion: make(map[string]map[string]int),
	}
}

// Add folds one case result in.
func (a *Accumulator) Add(res model.CaseResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cases++

	var fps, fns []string
	for _, pair := range res.Matches {
		switch pair.Kind {
		case model.MatchTP:
			c := a.perClass[pair.ClassExpected]
			c.TP++
			a.perClass[pair.ClassExpected] = c
			a.bump(pair.ClassExpected, pair.ClassPredicted)
			if pair.OccurrenceAccurate != nil {
				a.occTotal++
				if *pair.OccurrenceAccurate {
					a.occAccurate++
				}
			}
			for _, e := range pair.OccurrenceErrors {
				a.occErrSum += e
				a.occErrCount++
			}
		case model.MatchFP:
			c := a.perClass[pair.ClassPredicted]
			c.FP++
			a.perClass[pair.ClassPredicted] = c
			fps = append(fps, pair.ClassPredicted)
		case model.MatchFN:
			c := a.perClass[pair.ClassExpected]
			c.FN++
			a.perClass[pair.ClassExpected] = c
			fns = append(fns, pair.ClassExpected)
		}
	}

	// Off-diagonal confusion: which classes got predicted when another
	// was expected, within the same case. Informational only.
	for _, fn := range fns {
		for _, fp := range fps {
			a.bump(fn, fp)
		}
	}
}

// AddErrored records a case that failed before scoring.
func (a *Accumulator) AddErrored() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errored++
}

// Merge folds another accumulator's totals into this one.
func (a *Accumulator) Merge(other *Accumulator) {
	other.mu.Lock()
	defer other.mu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cases += other.cases
	a.errored += other.errored
	for class, c := range other.perClass {
		cur := a.perClass[class]
		cur.Add(c)
		a.perClass[class] = cur
	}
	for exp, row := range other.confusion {
		for pred, n := range row {
			a.bumpN(exp, pred, n)
		}
	}
	a.occTotal += other.occTotal
	a.occAccurate += other.occAccurate
	a.occErrSum += other.occErrSum
	a.occErrCount += other.occErrCount
}

func (a *Accumulator) bump(expected, predicted string) {
	a.bumpN(expected, predicted, 1)
}

func (a *Accumulator) bumpN(expected, predicted string, n int) {
	row, ok := a.confusion[expected]
	if !ok {
		row = make(map[string]int)
		a.confusion[expected] = row
	}
	row[predicted] += n
}

// ClassMetrics are the per-class evaluation numbers. Precision, recall,
// and F1 are nil when their denominator is zero; nil metrics are
// excluded from the macro averages.
type ClassMetrics struct {
	Class     string   `json:"class"`
	TP        int      `json:"tp"`
	FP        int      `json:"fp"`
	FN        int      `json:"fn"`
	Precision *float64 `json:"precision,omitempty"`
	Recall    *float64 `json:"recall,omitempty"`
	F1        *float64 `json:"f1,omitempty"`
}

// Report is the final run-level summary.
type Report struct {
	Cases   int `json:"cases"`
	Errored int `json:"errored"`

	Classes []ClassMetrics `json:"classes"`

	MicroPrecision *float64 `json:"micro_precision,omitempty"`
	MicroRecall    *float64 `json:"micro_recall,omitempty"`
	MicroF1        *float64 `json:"micro_f1,omitempty"`
	MacroF1        *float64 `json:"macro_f1,omitempty"`

	// Confusion[expected][predicted]; diagonal entries are TPs.
	Confusion map[string]map[string]int `json:"confusion,omitempty"`

	OccurrenceAccuracy *float64 `json:"occurrence_accuracy,omitempty"`
	MeanOccurrenceErr  *float64 `json:"mean_occurrence_error_seconds,omitempty"`
}

// Report computes the summary from the accumulated totals.
func (a *Accumulator) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	rep := Report{Cases: a.cases, Errored: a.errored}

	classes := make([]string, 0, len(a.perClass))
	for class := range a.perClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	var total model.Counts
	var f1Sum float64
	var f1N int
	for _, class := range classes {
		c := a.perClass[class]
		total.Add(c)

		m := ClassMetrics{Class: class, TP: c.TP, FP: c.FP, FN: c.FN}
		m.Precision = ratio(c.TP, c.TP+c.FP)
		m.Recall = ratio(c.TP, c.TP+c.FN)
		m.F1 = f1(m.Precision, m.Recall)
		if m.F1 != nil {
			f1Sum += *m.F1
			f1N++
		}
		rep.Classes = append(rep.Classes, m)
	}

	rep.MicroPrecision = ratio(total.TP, total.TP+total.FP)
	rep.MicroRecall = ratio(total.TP, total.TP+total.FN)
	rep.MicroF1 = f1(rep.MicroPrecision, rep.MicroRecall)
	if f1N > 0 {
		v := f1Sum / float64(f1N)
		rep.MacroF1 = &v
	}

	if len(a.confusion) > 0 {
		rep.Confusion = make(map[string]map[string]int, len(a.confusion))
		for exp, row := range a.confusion {
			dst := make(map[string]int, len(row))
			for pred, n := range row {
				dst[pred] = n
			}
			rep.Confusion[exp] = dst
		}
	}

	rep.OccurrenceAccuracy = ratio(a.occAccurate, a.occTotal)
	if a.occErrCount > 0 {
		v := float64(a.occErrSum) / float64(a.occErrCount)
		rep.MeanOccurrenceErr = &v
	}

	return rep
}

func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

func f1(p, r *float64) *float64 {
	if p == nil || r == nil || *p+*r == 0 {
		return nil
	}
	v := 2 * *p * *r / (*p + *r)
	return &v
}
