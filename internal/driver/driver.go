// Package driver orchestrates evaluation runs: it fans labeled cases out
// to the inference engine under a bounded worker pool, matches predictions
// against ground truth, aggregates metrics, and records mistakes.
package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roofsignal/discrepancy-cli/internal/dataset"
	"github.com/roofsignal/discrepancy-cli/internal/errlog"
	"github.com/roofsignal/discrepancy-cli/internal/inference"
	"github.com/roofsignal/discrepancy-cli/internal/match"
	"github.com/roofsignal/discrepancy-cli/internal/model"
	"github.com/roofsignal/discrepancy-cli/internal/runstore"
	"github.com/roofsignal/discrepancy-cli/internal/scorer"
	"github.com/roofsignal/discrepancy-cli/pkg/anthropic"
)

// DefaultMaxConcurrency bounds the number of cases in flight at once.
const DefaultMaxConcurrency = 10

// Inferencer is the slice of the inference engine the driver needs.
type Inferencer interface {
	Infer(ctx context.Context, input model.CaseInput) (*inference.Prediction, error)
}

// Options configure one evaluation run.
type Options struct {
	// Subset restricts the run to these case ids. Empty means all labeled
	// cases. Unknown ids fail the run before any inference happens.
	Subset []string

	ClearErrorLog  bool
	MaxConcurrency int
	ExperimentName string
	Match          match.Config
}

// Driver wires the run together. ErrorLog and Runs are optional; a nil
// value disables that output.
type Driver struct {
	Store    *dataset.Store
	Engine   Inferencer
	ErrorLog *errlog.Log
	Runs     *runstore.Store
	Meta     runstore.Meta
}

// Summary is the outcome of an evaluation run.
type Summary struct {
	RunID     string
	Report    scorer.Report
	Usage     anthropic.TokenUsage
	CostUSD   float64
	StartedAt time.Time
}

// Run evaluates all (or a subset of) labeled cases.
func (d *Driver) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}

	ids, err := d.resolveCases(opts.Subset)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, eris.New("driver: no labeled cases to evaluate")
	}

	if opts.ClearErrorLog && d.ErrorLog != nil {
		if err := d.ErrorLog.Clear(); err != nil {
			return nil, err
		}
	}

	startedAt := time.Now().UTC()

	var runID string
	if d.Runs != nil {
		meta := d.Meta
		meta.ExperimentName = opts.ExperimentName
		run, err := d.Runs.CreateRun(ctx, meta)
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}

	log := zap.L().With(zap.String("run_id", runID))
	log.Info("starting evaluation",
		zap.Int("cases", len(ids)),
		zap.Int("max_concurrency", opts.MaxConcurrency))

	acc := scorer.NewAccumulator()
	var mu sync.Mutex
	var usage anthropic.TokenUsage

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrency)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, caseUsage, err := d.evaluateCase(gctx, id, opts.Match)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Error("case failed", zap.String("case_id", id), zap.Error(err))
				acc.AddErrored()
				return nil
			}

			acc.Add(*res)
			mu.Lock()
			usage.Add(caseUsage)
			mu.Unlock()

			if d.Runs != nil && runID != "" {
				if err := d.Runs.SaveCaseResult(gctx, runID, *res); err != nil {
					log.Warn("case result not persisted", zap.String("case_id", id), zap.Error(err))
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if d.Runs != nil && runID != "" {
			_ = d.Runs.FailRun(context.WithoutCancel(ctx), runID, err.Error())
		}
		return nil, eris.Wrap(err, "driver: evaluation interrupted")
	}

	report := acc.Report()
	summary := &Summary{
		RunID:     runID,
		Report:    report,
		Usage:     usage,
		CostUSD:   usage.EstimateCost(d.Meta.ModelID),
		StartedAt: startedAt,
	}

	if d.Runs != nil && runID != "" {
		if err := d.Runs.FinishRun(ctx, runID, report, summary.CostUSD); err != nil {
			return nil, err
		}
	}

	log.Info("evaluation complete",
		zap.Int("cases", report.Cases),
		zap.Int("errored", report.Errored),
		zap.Float64("cost_usd", summary.CostUSD))
	return summary, nil
}

// evaluateCase runs one case end to end and returns its result.
func (d *Driver) evaluateCase(ctx context.Context, id string, matchCfg match.Config) (*model.CaseResult, anthropic.TokenUsage, error) {
	input, labels, err := d.Store.Load(id)
	if err != nil {
		return nil, anthropic.TokenUsage{}, err
	}
	if labels == nil {
		return nil, anthropic.TokenUsage{}, eris.New(fmt.Sprintf("driver: case %s has no labels", id))
	}

	pred, err := d.Engine.Infer(ctx, input)
	if err != nil {
		return nil, anthropic.TokenUsage{}, err
	}

	matched := match.Match(pred.Deviations, labels.Deviations, matchCfg)

	res := &model.CaseResult{
		CaseID:          id,
		Predicted:       pred.Deviations,
		Expected:        labels.Deviations,
		Matches:         matched.Pairs,
		Counts:          matched.Counts,
		ModelID:         pred.ModelID,
		Temperature:     pred.Temperature,
		TaxonomyVersion: d.Meta.TaxonomyVersion,
		PromptVersion:   d.Meta.PromptVersion,
		Warnings:        pred.Warnings,
	}

	if d.ErrorLog != nil {
		if err := d.logMistakes(res); err != nil {
			return nil, anthropic.TokenUsage{}, err
		}
	}

	return res, pred.Usage, nil
}

// logMistakes appends one error-log record per FP and FN pair.
func (d *Driver) logMistakes(res *model.CaseResult) error {
	metrics := errlog.CaseMetrics{TP: res.Counts.TP, FP: res.Counts.FP, FN: res.Counts.FN}

	var records []errlog.Record
	for _, pair := range res.Matches {
		switch pair.Kind {
		case model.MatchFP:
			p := res.Predicted[*pair.PredictedIndex]
			records = append(records, errlog.NewFalsePositive(res.CaseID, p, sameClass(res.Expected, p.Class), metrics))
		case model.MatchFN:
			e := res.Expected[*pair.ExpectedIndex]
			records = append(records, errlog.NewFalseNegative(res.CaseID, e, sameClass(res.Predicted, e.Class), metrics))
		}
	}
	return d.ErrorLog.Append(records...)
}

// sameClass returns the deviations in pool sharing class, for triage
// context in error records.
func sameClass(pool []model.Deviation, class string) []model.Deviation {
	var out []model.Deviation
	for _, d := range pool {
		if d.Class == class {
			out = append(out, d)
		}
	}
	return out
}

// resolveCases turns the subset option into a concrete ordered id list.
func (d *Driver) resolveCases(subset []string) ([]string, error) {
	labeled := d.Store.LabeledIDs()
	if len(subset) == 0 {
		return labeled, nil
	}

	present, missing := d.Store.Filter(subset)
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, eris.Wrapf(dataset.ErrNoCase, "%v", missing)
	}

	// Subset may name unlabeled cases; those cannot be evaluated.
	labeledSet := make(map[string]bool, len(labeled))
	for _, id := range labeled {
		labeledSet[id] = true
	}
	var ids []string
	for _, id := range present {
		if !labeledSet[id] {
			return nil, eris.New(fmt.Sprintf("driver: case %s has no labels", id))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// InferenceOutcome is one case's result from an inference-only pass.
type InferenceOutcome struct {
	CaseID     string               `json:"case_id"`
	Deviations []model.Deviation    `json:"deviations,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
	Error      string               `json:"error,omitempty"`
	Usage      anthropic.TokenUsage `json:"-"`
}

// RunInference runs inference without evaluation, over labeled and
// unlabeled cases alike. Per-case failures are reported, not fatal.
func (d *Driver) RunInference(ctx context.Context, subset []string, maxConcurrency int) ([]InferenceOutcome, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	ids := d.Store.ListIDs()
	if len(subset) > 0 {
		present, missing := d.Store.Filter(subset)
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, eris.Wrapf(dataset.ErrNoCase, "%v", missing)
		}
		ids = present
	}

	outcomes := make([]InferenceOutcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcome := InferenceOutcome{CaseID: id}
			input, _, err := d.Store.Load(id)
			if err == nil {
				var pred *inference.Prediction
				pred, err = d.Engine.Infer(gctx, input)
				if err == nil {
					outcome.Deviations = pred.Deviations
					outcome.Warnings = pred.Warnings
					outcome.Usage = pred.Usage
				}
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				outcome.Error = err.Error()
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "driver: inference interrupted")
	}
	return outcomes, nil
}
