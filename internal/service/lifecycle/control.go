package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/service/common"
	"github.com/oshokin/corekeeper/internal/service/initd"
)

// Control actions accepted by Control.
const (
	ActionStart       = "start"
	ActionStop        = "stop"
	ActionHardRestart = "hardRestart"
	ActionSoftRestart = "softRestart"
	ActionSwitchCore  = "switchCore"
)

var errUnknownAction = errors.New("unknown action")

// Control dispatches a control action by name. An empty core means the active one.
func (m *Manager) Control(ctx context.Context, action, name string) error {
	switch action {
	case ActionStart:
		return m.Start(ctx, name)
	case ActionStop:
		return m.Stop(ctx, name)
	case ActionHardRestart:
		return m.HardRestart(ctx, name)
	case ActionSoftRestart:
		return m.SoftRestart(ctx, name)
	case ActionSwitchCore:
		return m.SwitchCore(ctx, name)
	default:
		return fmt.Errorf("%w: %q", errUnknownAction, action)
	}
}

// GetPID returns the pid of the running core.
func (m *Manager) GetPID(ctx context.Context, name string) (pid int, running bool, err error) {
	defer guard(ctx, "pid", &err)

	id, err := core.Lookup(name)
	if err != nil {
		return 0, false, err
	}

	return m.deps.Processes.GetPID(id.Name)
}

// SoftRestart kills the core directly and spawns it again, bypassing the init script.
func (m *Manager) SoftRestart(ctx context.Context, name string) (err error) {
	defer guard(ctx, ActionSoftRestart, &err)

	id, err := m.identity(name)
	if err != nil {
		return err
	}

	_, err = m.deps.Processes.SoftRestart(logger.WithName(ctx, "control"), id)

	return err
}

// Start runs the init script start action.
func (m *Manager) Start(ctx context.Context, name string) (err error) {
	defer guard(ctx, ActionStart, &err)

	if _, err = m.identity(name); err != nil {
		return err
	}

	return m.initStart(logger.WithName(ctx, "control"), m.deps.State.InitScript(), initd.Start)
}

// Stop runs the init script stop action.
func (m *Manager) Stop(ctx context.Context, name string) (err error) {
	defer guard(ctx, ActionStop, &err)

	if _, err = m.identity(name); err != nil {
		return err
	}

	return m.deps.Init.Run(logger.WithName(ctx, "control"), m.deps.State.InitScript(), initd.Stop)
}

// HardRestart runs the init script restart action.
func (m *Manager) HardRestart(ctx context.Context, name string) (err error) {
	defer guard(ctx, ActionHardRestart, &err)

	if _, err = m.identity(name); err != nil {
		return err
	}

	return m.initStart(logger.WithName(ctx, "control"), m.deps.State.InitScript(), initd.Restart)
}

// SwitchCore makes the init scripts run the other core. Switching to the active core is a no-op.
func (m *Manager) SwitchCore(ctx context.Context, name string) (err error) {
	defer guard(ctx, ActionSwitchCore, &err)

	id, err := core.Lookup(name)
	if err != nil {
		return err
	}

	ctx = logger.WithKV(logger.WithName(ctx, "switch"), "core", id.Name)

	current := m.deps.State.Snapshot()
	if current.Identity.Name == id.Name {
		logger.Info(ctx, "Core already active")
		return nil
	}

	if err = m.deps.Init.Run(ctx, current.InitScript, initd.Stop); err != nil {
		logger.WarnKV(ctx, "Stopping the previous core failed", "error", err)
	}

	if err = m.deps.State.Switch(ctx, id); err != nil {
		return fmt.Errorf("switch init script: %w", err)
	}

	logger.InfoKV(ctx, "Active core switched",
		"previous", current.Identity.Name,
		"requested_by", common.ActorOrUnknown().String(),
	)

	return m.initStart(ctx, current.InitScript, initd.Start)
}

// initStart starts or restarts through the init script, clearing the shared log first
// when the active core shares it with the init service. The script always starts the active core.
func (m *Manager) initStart(ctx context.Context, script string, action initd.Action) error {
	if m.deps.State.Active().SharesInitLog() {
		if err := m.deps.Init.TruncateLog(); err != nil {
			logger.WarnKV(ctx, "Unable to truncate the log", "error", err)
		}
	}

	return m.deps.Init.Run(ctx, script, action)
}

// identity resolves name, defaulting to the active core.
func (m *Manager) identity(name string) (core.Identity, error) {
	if name == "" {
		return m.deps.State.Active(), nil
	}

	return core.Lookup(name)
}
