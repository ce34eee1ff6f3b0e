package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roofsignal/discrepancy-cli/internal/pricebook"
)

var pricebookFile string

var pricebookLoadCmd = &cobra.Command{
	Use:   "pricebook-load",
	Short: "Load a pricebook catalog file into Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("pricebook"); err != nil {
			return err
		}

		items, err := pricebook.LoadFile(pricebookFile)
		if err != nil {
			return err
		}

		pool, err := pgxpool.New(ctx, cfg.Pricebook.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pricebook.Migrate(ctx, pool); err != nil {
			return err
		}
		if err := pricebook.Upsert(ctx, pool, items); err != nil {
			return err
		}

		zap.L().Info("pricebook loaded",
			zap.String("file", pricebookFile),
			zap.Int("items", len(items)))
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d pricebook items\n", len(items))
		return nil
	},
}

func init() {
	pricebookLoadCmd.Flags().StringVar(&pricebookFile, "file", "pricebook.json", "catalog file to load")
	rootCmd.AddCommand(pricebookLoadCmd)
}
