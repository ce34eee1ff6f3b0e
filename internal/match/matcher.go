// Package match pairs predicted deviations with ground-truth deviations
// for one case and classifies each side as TP, FP, or FN.
//
// Pairing is a maximal one-to-one matching under a simple cost model:
// cross-class pairs are disallowed outright; among same-class pairs,
// better occurrence alignment wins, with a small penalty proportional to
// absolute timestamp error. A greedy pass is sufficient at current
// cardinalities (well under 20 deviations per case); the MatchPair
// contract would survive a swap to min-cost assignment.
package match

import (
	"math"
	"sort"

	"github.com/roofsignal/discrepancy-cli/internal/model"
)

// DefaultToleranceSeconds is the occurrence-alignment tolerance.
const DefaultToleranceSeconds = 30

// Config tunes the matcher.
type Config struct {
	// ToleranceSeconds is the maximum absolute error between a predicted
	// and an expected occurrence timestamp for them to count as aligned.
	ToleranceSeconds int

	// SecondPenalty is the score penalty per second of timestamp error.
	// Small relative to the alignment bonus so alignment count dominates.
	SecondPenalty float64
}

// DefaultConfig returns the standard matcher configuration.
func DefaultConfig() Config {
	return Config{
		ToleranceSeconds: DefaultToleranceSeconds,
		SecondPenalty:    0.01,
	}
}

// Result is the matching outcome for one case.
type Result struct {
	Pairs  []model.MatchPair
	Counts model.Counts
}

type candidate struct {
	pi, ei  int
	aligned int
	totErr  int
}

func (c candidate) score(cfg Config) float64 {
	return float64(c.aligned)*100 - cfg.SecondPenalty*float64(c.totErr)
}

// Match computes the one-to-one matching between predicted and expected
// deviations. Every expected deviation yields either a TP pair or an FN
// pair; every unmatched prediction yields an FP pair.
func Match(predicted, expected []model.Deviation, cfg Config) Result {
	if cfg.ToleranceSeconds <= 0 {
		cfg.ToleranceSeconds = DefaultToleranceSeconds
	}
	if cfg.SecondPenalty <= 0 {
		cfg.SecondPenalty = 0.01
	}

	// Same-class candidates only; cross-class pairs are disallowed.
	var candidates []candidate
	for pi, p := range predicted {
		for ei, e := range expected {
			if p.Class != e.Class {
				continue
			}
			aligned, totErr := alignmentStats(p.Occurrences, e.Occurrences, cfg.ToleranceSeconds)
			candidates = append(candidates, candidate{pi: pi, ei: ei, aligned: aligned, totErr: totErr})
		}
	}

	// Best score first; ties broken by (predicted_index, expected_index).
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := candidates[i].score(cfg), candidates[j].score(cfg)
		if si != sj {
			return si > sj
		}
		if candidates[i].pi != candidates[j].pi {
			return candidates[i].pi < candidates[j].pi
		}
		return candidates[i].ei < candidates[j].ei
	})

	usedP := make(map[int]bool, len(predicted))
	usedE := make(map[int]bool, len(expected))
	chosen := make(map[int]int) // expected index → predicted index
	for _, c := range candidates {
		if usedP[c.pi] || usedE[c.ei] {
			continue
		}
		usedP[c.pi] = true
		usedE[c.ei] = true
		chosen[c.ei] = c.pi
	}

	var res Result
	for ei := range expected {
		pi, ok := chosen[ei]
		if !ok {
			ei := ei
			res.Pairs = append(res.Pairs, model.MatchPair{
				ExpectedIndex: &ei,
				Kind:          model.MatchFN,
				ClassExpected: expected[ei].Class,
			})
			res.Counts.FN++
			continue
		}

		pair := model.MatchPair{
			PredictedIndex: &pi,
			ExpectedIndex:  &ei,
			Kind:           model.MatchTP,
			ClassPredicted: predicted[pi].Class,
			ClassExpected:  expected[ei].Class,
		}
		errs, accurate, ok := occurrenceErrors(predicted[pi].Occurrences, expected[ei].Occurrences, cfg.ToleranceSeconds)
		if ok {
			pair.OccurrenceErrors = errs
			pair.OccurrenceAccurate = &accurate
		}
		res.Pairs = append(res.Pairs, pair)
		res.Counts.TP++
	}

	for pi := range predicted {
		if usedP[pi] {
			continue
		}
		pi := pi
		res.Pairs = append(res.Pairs, model.MatchPair{
			PredictedIndex: &pi,
			Kind:           model.MatchFP,
			ClassPredicted: predicted[pi].Class,
		})
		res.Counts.FP++
	}

	return res
}

// alignmentStats counts predicted occurrences aligned within tolerance
// and sums the absolute errors of each prediction's best expected match.
func alignmentStats(pred, exp []model.Occurrence, tolerance int) (aligned, totErr int) {
	for _, p := range pred {
		if best, ok := bestError(p, exp); ok {
			totErr += best
			if best <= tolerance {
				aligned++
			}
		}
	}
	return aligned, totErr
}

// occurrenceErrors computes per-occurrence diagnostics for a TP pair.
// ok is false when either side has nothing alignable, in which case the
// pair is excluded from occurrence-accuracy aggregation.
func occurrenceErrors(pred, exp []model.Occurrence, tolerance int) (errs []int, accurate bool, ok bool) {
	for _, p := range pred {
		if best, found := bestError(p, exp); found {
			errs = append(errs, best)
			if best <= tolerance {
				accurate = true
			}
		}
	}
	return errs, accurate, len(errs) > 0
}

// bestError returns the smallest absolute timestamp error between p and
// any expected occurrence in the same conversation. Occurrences with
// clamped (unparseable) timestamps never align.
func bestError(p model.Occurrence, exp []model.Occurrence) (int, bool) {
	ps, err := p.Seconds()
	if err != nil {
		return 0, false
	}

	best := math.MaxInt
	for _, e := range exp {
		if e.ConversationIndex != p.ConversationIndex {
			continue
		}
		es, err := e.Seconds()
		if err != nil {
			continue
		}
		if d := abs(ps - es); d < best {
			best = d
		}
	}
	if best == math.MaxInt {
		return 0, false
	}
	return best, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
