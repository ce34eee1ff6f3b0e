package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roofsignal/discrepancy-cli/internal/report"
	"github.com/roofsignal/discrepancy-cli/internal/runstore"
)

var (
	exportRunID string
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's metrics and case results to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("export"); err != nil {
			return err
		}

		runs, err := runstore.Open(cfg.RunStore.Path)
		if err != nil {
			return err
		}
		defer runs.Close()
		if err := runs.Migrate(ctx); err != nil {
			return err
		}

		var run *runstore.Run
		if exportRunID != "" {
			run, err = runs.GetRun(ctx, exportRunID)
		} else {
			run, err = runs.LatestRun(ctx)
		}
		if err != nil {
			return err
		}

		results, err := runs.ListCaseResults(ctx, run.ID)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("run-%s.xlsx", run.ID)
		}
		if err := report.WriteXLSX(out, *run, results); err != nil {
			return err
		}

		zap.L().Info("run exported",
			zap.String("run_id", run.ID),
			zap.Int("cases", len(results)),
			zap.String("path", out))
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "run", "", "run id to export (default: most recent complete run)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default run-<id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
