package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/corekeeper/internal/service/lifecycle"
)

var (
	// controlCmd runs a control action on a core.
	controlCmd = &cobra.Command{
		Use:   "control <start|stop|hardRestart|softRestart> [xray|mihomo]",
		Short: "Start, stop or restart a core",
		Long: "start, stop and hardRestart go through the init script of the active core; " +
			"softRestart kills the core process and spawns it directly.",
		Args: cobra.RangeArgs(1, 2),
		ValidArgs: []string{
			lifecycle.ActionStart,
			lifecycle.ActionStop,
			lifecycle.ActionHardRestart,
			lifecycle.ActionSoftRestart,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 1 {
				name = args[1]
			}

			return runControl(cmd, args[0], name)
		},
	}

	// switchCmd makes the init scripts run another core.
	switchCmd = &cobra.Command{
		Use:       "switch <xray|mihomo>",
		Short:     "Switch the active core",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"xray", "mihomo"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, lifecycle.ActionSwitchCore, args[0])
		},
	}
)

func runControl(cmd *cobra.Command, action, name string) error {
	ctx, stop := signalContext()
	defer stop()

	manager, err := newManager(ctx)
	if err != nil {
		return err
	}

	err = manager.Control(ctx, action, name)

	return respond(cmd, lifecycle.Respond(ctx, action, err), err)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(controlCmd, switchCmd)
}
