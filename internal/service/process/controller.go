package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/metrics"
)

const (
	logFileMode      = 0o644
	exitPollInterval = 100 * time.Millisecond
	exitWaitTimeout  = 3 * time.Second
)

var errStillRunning = errors.New("process did not exit after kill")

// Controller starts and kills core processes.
type Controller struct {
	table   Table
	binDir  string
	logPath string
	gid     int
	arch    string
	kill    func(pid int) error
	setFD   func(pid int, limit uint64) error
}

// Option configures the controller.
type Option func(*Controller)

// WithGroupID starts cores with the given group id; 0 keeps the daemon's group.
func WithGroupID(gid int) Option {
	return func(c *Controller) {
		c.gid = gid
	}
}

// WithArch selects the open-file limit by CPU architecture.
func WithArch(arch string) Option {
	return func(c *Controller) {
		if arch != "" {
			c.arch = arch
		}
	}
}

// WithKill replaces the kill signal delivery.
func WithKill(kill func(pid int) error) Option {
	return func(c *Controller) {
		if kill != nil {
			c.kill = kill
		}
	}
}

// NewController creates a controller starting binaries from binDir and appending their output to logPath.
func NewController(table Table, binDir, logPath string, opts ...Option) *Controller {
	c := &Controller{
		table:   table,
		binDir:  binDir,
		logPath: logPath,
		arch:    runtime.GOARCH,
		kill: func(pid int) error {
			return unix.Kill(pid, unix.SIGKILL)
		},
		setFD: setFDLimit,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetPID returns the pid of the running core, if any.
func (c *Controller) GetPID(name core.Name) (int, bool, error) {
	pid, ok, err := FindPID(c.table, string(name))
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", core.ErrProcess, err)
	}

	return pid, ok, nil
}

// Spawn starts the core detached in its own session and reaps it in the background.
func (c *Controller) Spawn(ctx context.Context, id core.Identity) (*core.ProcessHandle, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "process"), "core", id.Name)

	binary := filepath.Join(c.binDir, string(id.Name))

	logFile, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFileMode)
	if err != nil {
		return nil, fmt.Errorf("%w: open log: %w", core.ErrProcess, err)
	}

	// The child keeps its own descriptor.
	defer func() {
		_ = logFile.Close()
	}()

	env := append(os.Environ(), id.Env()...)

	//nolint:gosec // The binary path is built from the fixed core names.
	cmd := exec.Command(binary)
	cmd.Dir = c.binDir
	cmd.Env = env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = c.sysProcAttr()

	if err = cmd.Start(); err != nil {
		logger.ErrorKV(ctx, "Unable to start core", "binary", binary, "error", err)
		return nil, fmt.Errorf("%w: start %s: %w", core.ErrProcess, binary, err)
	}

	limit := FDLimit(c.arch)
	if err = c.setFD(cmd.Process.Pid, limit); err != nil {
		logger.WarnKV(ctx, "Unable to set the open-file limit", "pid", cmd.Process.Pid, "error", err)
	}

	metrics.ProcessRestarts.WithLabelValues(string(id.Name)).Inc()
	logger.InfoKV(ctx, "Core started", "pid", cmd.Process.Pid, "nofile", limit)

	reapCtx := context.WithoutCancel(ctx)

	go func() {
		if werr := cmd.Wait(); werr != nil {
			logger.WarnKV(reapCtx, "Core exited", "pid", cmd.Process.Pid, "error", werr)
			return
		}

		logger.InfoKV(reapCtx, "Core exited", "pid", cmd.Process.Pid)
	}()

	return &core.ProcessHandle{
		PID:           cmd.Process.Pid,
		Env:           id.Env(),
		SessionLeader: true,
		FDLimit:       limit,
	}, nil
}

// Kill terminates the running core immediately and waits for it to leave the process table.
// It reports whether a process was running.
func (c *Controller) Kill(ctx context.Context, name core.Name) (bool, error) {
	pid, running, err := c.GetPID(name)
	if err != nil || !running {
		return false, err
	}

	logger.InfoKV(ctx, "Killing core", "core", name, "pid", pid)

	if err = c.kill(pid); err != nil && !errors.Is(err, unix.ESRCH) {
		return true, fmt.Errorf("%w: kill %d: %w", core.ErrProcess, pid, err)
	}

	return true, c.waitExit(ctx, name, pid)
}

// SoftRestart kills the running core, if any, and spawns a replacement.
func (c *Controller) SoftRestart(ctx context.Context, id core.Identity) (*core.ProcessHandle, error) {
	if _, err := c.Kill(ctx, id.Name); err != nil {
		if !errors.Is(err, errStillRunning) {
			return nil, err
		}

		logger.WarnKV(ctx, "Old core is still listed, starting anyway", "core", id.Name, "error", err)
	}

	return c.Spawn(ctx, id)
}

func (c *Controller) waitExit(ctx context.Context, name core.Name, pid int) error {
	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()

	deadline := time.After(exitWaitTimeout)

	for {
		list, err := c.table.Processes()
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrProcess, err)
		}

		if !listed(list, string(name), pid) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w: pid %d", errStillRunning, pid)
		case <-ticker.C:
		}
	}
}

func listed(list []Process, name string, pid int) bool {
	for _, p := range list {
		if p.PID == pid && p.Name == name {
			return true
		}
	}

	return false
}

func (c *Controller) sysProcAttr() *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setsid: true}

	if c.gid > 0 {
		attr.Credential = &syscall.Credential{
			Uid:         uint32(os.Getuid()), //nolint:gosec // Uids are non-negative.
			Gid:         uint32(c.gid),       //nolint:gosec // Checked above.
			NoSetGroups: true,
		}
	}

	return attr
}
