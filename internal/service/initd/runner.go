// Package initd drives the cores through their system init scripts.
package initd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
)

// Action is an init script verb.
type Action string

const (
	Start   Action = "start"
	Stop    Action = "stop"
	Restart Action = "restart"
)

const logFileMode = 0o644

// errUnknownAction is returned for verbs the init scripts do not implement.
var errUnknownAction = errors.New("unknown init action")

// Runner executes init scripts with their output appended to the shared log.
type Runner struct {
	logPath string
}

// NewRunner creates a runner appending script output to logPath.
func NewRunner(logPath string) *Runner {
	return &Runner{logPath: logPath}
}

// Run executes `<script> <action>` and waits for it.
func (r *Runner) Run(ctx context.Context, script string, action Action) error {
	switch action {
	case Start, Stop, Restart:
	default:
		return fmt.Errorf("%w: %w %q", core.ErrProcess, errUnknownAction, action)
	}

	ctx = logger.WithKV(logger.WithName(ctx, "initd"), "script", filepath.Base(script), "action", action)

	logFile, err := os.OpenFile(r.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFileMode)
	if err != nil {
		return fmt.Errorf("%w: open log: %w", core.ErrProcess, err)
	}

	defer func() {
		_ = logFile.Close()
	}()

	//nolint:gosec // The script path comes from the daemon settings.
	cmd := exec.CommandContext(ctx, script, string(action))
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	logger.Info(ctx, "Running init script")

	if err = cmd.Run(); err != nil {
		logger.ErrorKV(ctx, "Init script failed", "error", err)
		return fmt.Errorf("%w: %s %s: %w", core.ErrProcess, script, action, err)
	}

	return nil
}

// TruncateLog empties the shared log.
func (r *Runner) TruncateLog() error {
	if err := os.Truncate(r.logPath, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("truncate %s: %w", r.logPath, err)
	}

	return nil
}
