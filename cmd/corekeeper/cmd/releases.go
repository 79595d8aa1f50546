package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/corekeeper/internal/service/lifecycle"
)

// releasesCmd lists the recent releases of a core.
var releasesCmd = &cobra.Command{
	Use:       "releases <xray|mihomo>",
	Short:     "List the most recent releases of a core",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"xray", "mihomo"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		manager, err := newManager(ctx)
		if err != nil {
			return err
		}

		releases, err := manager.ListReleases(ctx, args[0])
		response := lifecycle.ReleasesResponse{Success: err == nil, Releases: releases}

		if err != nil {
			response.Error = lifecycle.Respond(ctx, "releases", err).Error
		}

		return respond(cmd, response, err)
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(releasesCmd)
}
