package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/oshokin/corekeeper/internal/config"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/metrics"
	"github.com/oshokin/corekeeper/internal/service/lifecycle"
	"github.com/oshokin/corekeeper/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the configured log level.
	logLevel string

	// settings are loaded before any subcommand runs.
	settings *config.Config
	// closeLog releases the activity log file.
	closeLog = func() error { return nil }

	// rootCmd represents the base command managing the proxy cores.
	rootCmd = &cobra.Command{
		Use:           "corekeeper",
		Short:         "Update and control the xray and mihomo proxy cores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}

			return setup()
		},
	}
)

// Execute runs the corekeeper CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()

	persistMetrics()

	_ = closeLog()

	if err != nil {
		if !isReported(err) {
			_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		}

		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")
}

// setup loads the settings and installs the logger writing to the activity log.
func setup() error {
	var err error

	settings, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	levelName := settings.LogLevel
	if logLevel != "" {
		levelName = logLevel
	}

	level, ok := logger.ParseLogLevel(levelName)
	if !ok {
		return fmt.Errorf("%w: %q", errBadLogLevel, levelName)
	}

	closeLog, err = logger.Setup(level, settings.ErrorLog)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}

	return nil
}

// persistMetrics leaves the samples of this run in the shared textfile.
func persistMetrics() {
	if settings == nil || settings.MetricsTextfile == "" {
		return
	}

	if err := metrics.Persist(settings.MetricsTextfile, prometheus.DefaultGatherer); err != nil {
		logger.WarnKV(context.Background(), "Unable to persist metrics", "path", settings.MetricsTextfile, "error", err)
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// newManager wires the lifecycle manager from the loaded settings.
func newManager(ctx context.Context) (*lifecycle.Manager, error) {
	return lifecycle.NewFromConfig(ctx, settings)
}

// reportedError marks failures already printed as a JSON response.
type reportedError struct {
	err error
}

func (e reportedError) Error() string {
	return e.err.Error()
}

func (e reportedError) Unwrap() error {
	return e.err
}

func isReported(err error) bool {
	_, ok := err.(reportedError) //nolint:errorlint // Only the top-level error is inspected.
	return ok
}

// respond prints the response as JSON and returns a non-nil error when the request failed.
func respond(cmd *cobra.Command, response any, err error) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")

	if encErr := encoder.Encode(response); encErr != nil {
		return fmt.Errorf("encode response: %w", encErr)
	}

	if err != nil {
		return reportedError{err: err}
	}

	return nil
}
