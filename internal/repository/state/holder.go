package state

import (
	"context"
	"errors"
	"sync"

	"github.com/oshokin/corekeeper/internal/domain/core"
)

// Holder owns the active core shared by the orchestrator, status queries and the watcher.
// Locks are held only while copying the value, never across i/o.
type Holder struct {
	mu     sync.RWMutex
	active core.ActiveCore
	repo   Repository
}

// NewHolder creates a holder starting from initial until Refresh succeeds.
func NewHolder(repo Repository, initial core.ActiveCore) *Holder {
	return &Holder{repo: repo, active: initial}
}

// Snapshot returns the active core and its init script.
func (h *Holder) Snapshot() core.ActiveCore {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.active
}

// Active returns the active core.
func (h *Holder) Active() core.Identity {
	return h.Snapshot().Identity
}

// InitScript returns the init script controlling the active core.
func (h *Holder) InitScript() string {
	return h.Snapshot().InitScript
}

// Set replaces the active core in memory only.
func (h *Holder) Set(id core.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.active.Identity = id
}

// Refresh re-reads the active core from the init scripts.
// A missing init script keeps the current value.
func (h *Holder) Refresh(ctx context.Context) (core.ActiveCore, error) {
	loaded, err := h.repo.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return h.Snapshot(), nil
	}

	if err != nil {
		return core.ActiveCore{}, err
	}

	h.mu.Lock()
	h.active = loaded
	h.mu.Unlock()

	return loaded, nil
}

// Switch persists id as the active core and updates the in-memory value.
func (h *Holder) Switch(ctx context.Context, id core.Identity) error {
	next := h.Snapshot()
	next.Identity = id

	if err := h.repo.Save(ctx, next); err != nil {
		return err
	}

	h.Set(id)

	return nil
}
