package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"infoportal/internal/bootstrap"
	"infoportal/internal/bootstrap/logging"
	"infoportal/internal/errs"
)

var syncFormID string

// syncCmd runs reconciliation once, for one form or for every linked form.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile local submissions against the remote survey backend",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, services bootstrap.Services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		if syncFormID != "" {
			result, err := services.Sync.SyncForm(ctx, syncFormID, "cli")
			if err != nil {
				return errs.Wrapf(err, "sync form %s", syncFormID)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"form %s: created=%d updated=%d deleted=%d validation=%d failures=%d\n",
				result.FormID, result.Created, result.Updated, result.Deleted,
				result.ValidationUpdated, result.Failures)
			return err
		}

		results, err := services.Sync.SyncAll(ctx, "cli")
		if err != nil {
			return errs.Wrap(err, "sync all forms")
		}
		for _, result := range results {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(),
				"form %s: created=%d updated=%d deleted=%d validation=%d failures=%d\n",
				result.FormID, result.Created, result.Updated, result.Deleted,
				result.ValidationUpdated, result.Failures); err != nil {
				return err
			}
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVar(&syncFormID, "form", "", "Sync a single form id instead of all linked forms")
}
