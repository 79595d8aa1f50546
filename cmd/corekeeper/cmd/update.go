package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/corekeeper/internal/service/lifecycle"
)

var (
	// forceBackup enables the binary backup for this update.
	forceBackup bool
	// skipBackup disables the binary backup for this update.
	skipBackup bool

	// updateCmd installs a release of a core.
	updateCmd = &cobra.Command{
		Use:   "update <xray|mihomo> <version>",
		Short: "Download and install a core release",
		Long: "Download the release asset for this router, back up the installed binary, " +
			"install the new one and restart the core if it was running.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forceBackup && skipBackup {
				return errConflictingFlags
			}

			ctx, stop := signalContext()
			defer stop()

			manager, err := newManager(ctx)
			if err != nil {
				return err
			}

			request := lifecycle.UpdateRequest{Core: args[0], Version: args[1]}

			switch {
			case forceBackup:
				request.Backup = &forceBackup
			case skipBackup:
				disabled := false
				request.Backup = &disabled
			}

			err = manager.TriggerUpdate(ctx, request)

			return respond(cmd, lifecycle.Respond(ctx, "update", err), err)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	updateCmd.Flags().BoolVar(&forceBackup, "backup", false, "back up the installed binary regardless of settings")
	updateCmd.Flags().BoolVar(&skipBackup, "no-backup", false, "skip the backup regardless of settings")
	rootCmd.AddCommand(updateCmd)
}
