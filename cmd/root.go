package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roofsignal/discrepancy-cli/internal/config"
	"github.com/roofsignal/discrepancy-cli/internal/dataset"
	"github.com/roofsignal/discrepancy-cli/internal/taxonomy"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "discrepancy-cli",
	Short: "Estimate-discrepancy detection and evaluation",
	Long:  "Audits roofing sales-call transcripts against estimates and production forms using Claude, and evaluates predictions against a hand-labeled dataset.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// exitCode maps error classes to the documented exit codes: 2 for
// configuration problems, 3 for dataset problems, 1 otherwise.
func exitCode(err error) int {
	switch {
	case eris.Is(err, config.ErrInvalid),
		eris.Is(err, taxonomy.ErrInvalid):
		return 2
	case eris.Is(err, dataset.ErrNotFound),
		eris.Is(err, dataset.ErrMalformed),
		eris.Is(err, dataset.ErrNoCase):
		return 3
	default:
		return 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
