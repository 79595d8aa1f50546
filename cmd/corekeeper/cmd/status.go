package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/corekeeper/internal/service/lifecycle"
)

var (
	// statusCmd reports installed and running cores.
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show installed cores, versions and the running state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			manager, err := newManager(ctx)
			if err != nil {
				return err
			}

			report, err := manager.Status(ctx)
			if err != nil {
				report.Error = lifecycle.Respond(ctx, "status", err).Error
			}

			return respond(cmd, report, err)
		},
	}

	// pidCmd prints the pid of a running core.
	pidCmd = &cobra.Command{
		Use:       "pid <xray|mihomo>",
		Short:     "Print the pid of a running core",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"xray", "mihomo"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			manager, err := newManager(ctx)
			if err != nil {
				return err
			}

			pid, running, err := manager.GetPID(ctx, args[0])

			response := struct {
				lifecycle.Response
				PID     int  `json:"pid,omitempty"`
				Running bool `json:"running"`
			}{
				Response: lifecycle.Respond(ctx, "pid", err),
				PID:      pid,
				Running:  running,
			}

			return respond(cmd, response, err)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(statusCmd, pidCmd)
}
