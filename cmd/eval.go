package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roofsignal/discrepancy-cli/internal/driver"
	"github.com/roofsignal/discrepancy-cli/internal/match"
	"github.com/roofsignal/discrepancy-cli/internal/runstore"
	"github.com/roofsignal/discrepancy-cli/pkg/tracker"
)

var (
	evalSubset         []string
	evalClearErrorLog  bool
	evalMaxConcurrency int
	evalExperimentName string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate predictions against the labeled dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEval(ctx, "eval")
		if err != nil {
			return err
		}
		defer env.Close()

		maxConcurrency := evalMaxConcurrency
		if maxConcurrency == 0 {
			maxConcurrency = cfg.Eval.MaxConcurrency
		}
		matchCfg := match.DefaultConfig()
		matchCfg.ToleranceSeconds = cfg.Eval.OccurrenceToleranceSecs

		summary, err := env.driver.Run(ctx, driver.Options{
			Subset:         evalSubset,
			ClearErrorLog:  evalClearErrorLog,
			MaxConcurrency: maxConcurrency,
			ExperimentName: evalExperimentName,
			Match:          matchCfg,
		})
		if err != nil {
			return err
		}

		printSummary(cmd, summary)

		if cfg.Tracker.Token != "" && cfg.Tracker.DatabaseID != "" {
			uploadSummary(ctx, env, summary)
		}
		return nil
	},
}

func printSummary(cmd *cobra.Command, s *driver.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", s.RunID)
	fmt.Fprintf(out, "cases evaluated: %d (errored: %d)\n", s.Report.Cases, s.Report.Errored)
	fmt.Fprintf(out, "micro precision: %s  recall: %s  f1: %s\n",
		fmtMetric(s.Report.MicroPrecision), fmtMetric(s.Report.MicroRecall), fmtMetric(s.Report.MicroF1))
	fmt.Fprintf(out, "macro f1: %s\n", fmtMetric(s.Report.MacroF1))
	fmt.Fprintf(out, "occurrence accuracy: %s  mean error: %s s\n",
		fmtMetric(s.Report.OccurrenceAccuracy), fmtMetric(s.Report.MeanOccurrenceErr))
	fmt.Fprintln(out)

	fmt.Fprintf(out, "%-45s %4s %4s %4s %9s %9s %9s\n", "class", "tp", "fp", "fn", "precision", "recall", "f1")
	for _, m := range s.Report.Classes {
		fmt.Fprintf(out, "%-45s %4d %4d %4d %9s %9s %9s\n",
			m.Class, m.TP, m.FP, m.FN, fmtMetric(m.Precision), fmtMetric(m.Recall), fmtMetric(m.F1))
	}
	fmt.Fprintf(out, "\nestimated cost: $%.4f\n", s.CostUSD)
}

func fmtMetric(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}

// uploadSummary pushes the run to the experiment log. Failures are
// logged, never fatal: the run already succeeded.
func uploadSummary(ctx context.Context, env *evalEnv, s *driver.Summary) {
	client := tracker.NewClient(cfg.Tracker.Token)
	up := tracker.RunUpload{
		RunID:              s.RunID,
		ExperimentName:     evalExperimentName,
		ModelID:            cfg.Anthropic.Model,
		Temperature:        cfg.Anthropic.Temperature,
		TaxonomyVersion:    env.taxonomy.Version(),
		PromptVersion:      env.driver.Meta.PromptVersion,
		Status:             runstore.StatusComplete,
		Cases:              s.Report.Cases,
		Errored:            s.Report.Errored,
		CostUSD:            s.CostUSD,
		MicroF1:            s.Report.MicroF1,
		MacroF1:            s.Report.MacroF1,
		OccurrenceAccuracy: s.Report.OccurrenceAccuracy,
		StartedAt:          s.StartedAt,
	}
	if _, err := tracker.UploadRun(ctx, client, cfg.Tracker.DatabaseID, up); err != nil {
		zap.L().Warn("experiment log upload failed", zap.Error(err))
		return
	}
	zap.L().Info("run uploaded to experiment log", zap.String("run_id", s.RunID))
}

func init() {
	evalCmd.Flags().StringSliceVar(&evalSubset, "subset", nil, "restrict evaluation to these case ids")
	evalCmd.Flags().BoolVar(&evalClearErrorLog, "clear-error-log", false, "truncate the error log before the run")
	evalCmd.Flags().IntVar(&evalMaxConcurrency, "max-concurrency", 0, "cases in flight at once (default from config)")
	evalCmd.Flags().StringVar(&evalExperimentName, "experiment-name", "", "experiment name recorded with the run")
	rootCmd.AddCommand(evalCmd)
}
