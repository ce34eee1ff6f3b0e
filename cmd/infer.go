package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roofsignal/discrepancy-cli/pkg/anthropic"
)

var (
	inferSubset         []string
	inferMaxConcurrency int
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Run inference over cases and print predictions as JSON",
	Long:  "Runs the detection pipeline without evaluation. Unlabeled cases are included; per-case failures are reported in the output instead of aborting the run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEval(ctx, "infer")
		if err != nil {
			return err
		}
		defer env.Close()

		maxConcurrency := inferMaxConcurrency
		if maxConcurrency == 0 {
			maxConcurrency = cfg.Eval.MaxConcurrency
		}

		outcomes, err := env.driver.RunInference(ctx, inferSubset, maxConcurrency)
		if err != nil {
			return err
		}

		var usage anthropic.TokenUsage
		for _, o := range outcomes {
			usage.Add(o.Usage)
		}
		usage.LogCost(cfg.Anthropic.Model, "inference run")

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	},
}

func init() {
	inferCmd.Flags().StringSliceVar(&inferSubset, "subset", nil, "restrict inference to these case ids")
	inferCmd.Flags().IntVar(&inferMaxConcurrency, "max-concurrency", 0, "cases in flight at once (default from config)")
	rootCmd.AddCommand(inferCmd)
}
