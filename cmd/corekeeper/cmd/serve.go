package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/corekeeper/internal/service/daemon"
)

var (
	// metricsAddress overrides the configured listen address.
	metricsAddress string

	// serveCmd runs the long-lived daemon.
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the request API and metrics, following the active core until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return daemon.Run(ctx, &daemon.Options{
				Settings:       settings,
				MetricsAddress: metricsAddress,
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	serveCmd.Flags().StringVarP(&metricsAddress, "metrics-addr", "m", "", "API and metrics listen address, e.g. :9091")
	rootCmd.AddCommand(serveCmd)
}
