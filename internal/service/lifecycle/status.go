package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/service/release"
)

const (
	probeTimeout   = 5 * time.Second
	unknownVersion = "?"
)

// ProcessInfo describes a running core.
type ProcessInfo struct {
	PID        int    `json:"pid"`
	RSS        uint64 `json:"rss"`
	UptimeSecs int64  `json:"uptime"`
}

// StatusReport is the state of both cores.
type StatusReport struct {
	Success     bool                   `json:"success"`
	Cores       []string               `json:"cores"`
	CurrentCore string                 `json:"currentCore"`
	Running     bool                   `json:"running"`
	Versions    map[string]string      `json:"versions"`
	Processes   map[string]ProcessInfo `json:"processes,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Status reports the installed cores, their versions and which one is running.
// When the active core is not running but the other one is, the other one becomes active.
func (m *Manager) Status(ctx context.Context) (report StatusReport, err error) {
	defer guard(ctx, "status", &err)

	ctx = logger.WithName(ctx, "status")

	if err = m.reconcileActive(ctx); err != nil {
		return StatusReport{}, err
	}

	report = StatusReport{
		Success:     true,
		Cores:       []string{},
		CurrentCore: string(m.deps.State.Active().Name),
		Versions:    make(map[string]string),
		Processes:   make(map[string]ProcessInfo),
	}

	var (
		mu    sync.Mutex
		group errgroup.Group
	)

	for _, id := range core.All() {
		binary := filepath.Join(m.paths.InstallDir, string(id.Name))

		_, statErr := os.Stat(binary)
		installed := statErr == nil

		if installed {
			report.Cores = append(report.Cores, string(id.Name))
		}

		pid, running, perr := m.deps.Processes.GetPID(id.Name)
		if perr != nil {
			return StatusReport{}, perr
		}

		if running {
			report.Running = true
		}

		group.Go(func() error {
			var (
				version string
				info    *ProcessInfo
			)

			if installed {
				version = m.probeVersion(ctx, id, binary)
			}

			if running {
				info = processInfo(ctx, pid)
			}

			mu.Lock()
			defer mu.Unlock()

			if installed {
				report.Versions[string(id.Name)] = version
			}

			if info != nil {
				report.Processes[string(id.Name)] = *info
			}

			return nil
		})
	}

	_ = group.Wait()

	return report, nil
}

// reconcileActive follows a core that was started outside of the daemon.
func (m *Manager) reconcileActive(ctx context.Context) error {
	active := m.deps.State.Active()

	_, running, err := m.deps.Processes.GetPID(active.Name)
	if err != nil || running {
		return err
	}

	alternate := active.Alternate()

	_, running, err = m.deps.Processes.GetPID(alternate.Name)
	if err != nil {
		return err
	}

	if running {
		logger.InfoKV(ctx, "Following the running core", "core", alternate.Name)
		m.deps.State.Set(alternate)

		return nil
	}

	if _, err = m.deps.State.Refresh(ctx); err != nil {
		logger.WarnKV(ctx, "Unable to re-read the init script", "error", err)
	}

	return nil
}

func (m *Manager) probeVersion(ctx context.Context, id core.Identity, binary string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := m.probe(ctx, binary, id.VersionArgs()...)
	if err != nil && len(output) == 0 {
		logger.WarnKV(ctx, "Unable to read the core version", "core", id.Name, "error", err)
		return unknownVersion
	}

	return ParseVersion(id.Name, output)
}

// ParseVersion extracts the version from `xray version` or `mihomo -v` output.
func ParseVersion(name core.Name, output []byte) string {
	fields := strings.Fields(string(output))

	switch name {
	case core.Xray:
		if len(fields) > 1 {
			return release.NormalizeVersion(fields[1])
		}
	case core.Mihomo:
		if len(fields) > 2 {
			return fields[2]
		}
	}

	return unknownVersion
}

func processInfo(ctx context.Context, pid int) *ProcessInfo {
	info := &ProcessInfo{PID: pid}

	proc, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // Pids fit into int32.
	if err != nil {
		if !errors.Is(err, process.ErrorProcessNotRunning) {
			logger.DebugKV(ctx, "Unable to inspect the process", "pid", pid, "error", err)
		}

		return info
	}

	if memory, merr := proc.MemoryInfoWithContext(ctx); merr == nil {
		info.RSS = memory.RSS
	}

	if created, cerr := proc.CreateTimeWithContext(ctx); cerr == nil {
		info.UptimeSecs = int64(time.Since(time.UnixMilli(created)).Seconds())
	}

	return info
}
