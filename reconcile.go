package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileFix bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Report paid orders missing a kitchen ticket or paid notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildCore(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		report, err := app.reconciler.RunOnce(ctx, reconcileFix)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if !report.Clean() && !reconcileFix {
			return fmt.Errorf("%d orders need repair, rerun with --fix", len(report.MissingTickets)+len(report.UnnotifiedPaid))
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileFix, "fix", false, "re-create missing tickets and re-send paid notifications")
}
