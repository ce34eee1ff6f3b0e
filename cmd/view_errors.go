package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/roofsignal/discrepancy-cli/internal/errlog"
	"github.com/roofsignal/discrepancy-cli/internal/report"
)

var (
	viewKind   string
	viewCaseID string
	viewLatest int
	viewFormat string
)

var viewErrorsCmd = &cobra.Command{
	Use:   "view-errors",
	Short: "Print recorded evaluation mistakes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("view"); err != nil {
			return err
		}

		var kind string
		switch viewKind {
		case "":
		case "fp":
			kind = errlog.KindFalsePositive
		case "fn":
			kind = errlog.KindFalseNegative
		default:
			return eris.New("view-errors: --kind must be fp or fn")
		}

		switch viewFormat {
		case report.FormatText, report.FormatMarkdown, report.FormatJSON:
		default:
			return eris.New("view-errors: --format must be text, markdown, or json")
		}

		records, err := errlog.New(cfg.ErrorLog.Path).Read(errlog.Filter{
			Kind:   kind,
			CaseID: viewCaseID,
			Latest: viewLatest,
		})
		if err != nil {
			return err
		}

		return report.RenderErrors(cmd.OutOrStdout(), records, viewFormat)
	},
}

func init() {
	viewErrorsCmd.Flags().StringVar(&viewKind, "kind", "", "filter by error kind: fp or fn")
	viewErrorsCmd.Flags().StringVar(&viewCaseID, "case-id", "", "filter by case id")
	viewErrorsCmd.Flags().IntVar(&viewLatest, "latest", 0, "show only the N most recent records")
	viewErrorsCmd.Flags().StringVar(&viewFormat, "format", report.FormatText, "output format: text, markdown, or json")
	rootCmd.AddCommand(viewErrorsCmd)
}
