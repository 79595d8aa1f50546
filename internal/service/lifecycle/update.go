package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/metrics"
	"github.com/oshokin/corekeeper/internal/service/common"
	"github.com/oshokin/corekeeper/internal/service/initd"
	"github.com/oshokin/corekeeper/internal/service/marker"
	"github.com/oshokin/corekeeper/internal/service/release"
)

// UpdateRequest asks for a core binary upgrade.
type UpdateRequest struct {
	Core    string `json:"core"`
	Version string `json:"version"`
	// Backup overrides the configured backup flag when set.
	Backup *bool `json:"backup,omitempty"`
}

// ListReleases returns the recent releases of the core.
func (m *Manager) ListReleases(ctx context.Context, name string) (releases []core.Release, err error) {
	defer guard(ctx, "releases", &err)

	id, err := core.Lookup(name)
	if err != nil {
		return nil, err
	}

	return m.deps.Releases.List(ctx, id)
}

// TriggerUpdate downloads and installs the requested version, restarting the core if it was running.
// A second update of the same core is rejected while one is in progress.
func (m *Manager) TriggerUpdate(ctx context.Context, req UpdateRequest) (err error) {
	defer guard(ctx, "update", &err)

	id, err := core.Lookup(req.Core)
	if err != nil {
		return err
	}

	lock := m.locks[id.Name]
	if !lock.TryLock() {
		return fmt.Errorf("%w: %s", core.ErrUpdateInProgress, id.Name)
	}

	defer lock.Unlock()

	if m.paths.MarkerDir != "" {
		held, markErr := marker.Acquire(m.paths.MarkerDir, string(id.Name))
		if markErr != nil {
			if errors.Is(markErr, marker.ErrHeld) {
				return fmt.Errorf("%w: %w", core.ErrUpdateInProgress, markErr)
			}

			return markErr
		}

		defer held.Release() //nolint:errcheck // The kernel drops the lock on exit anyway.
	}

	// Once accepted the pipeline runs to completion; a caller going away must not leave the core stopped.
	ctx = context.WithoutCancel(ctx)
	ctx = logger.WithKV(logger.WithName(ctx, "update"), "request_id", uuid.NewString(), "core", id.Name)

	started := time.Now()

	defer func() {
		metrics.UpdateTotal.WithLabelValues(string(id.Name), metrics.Result(err)).Inc()
		metrics.UpdateDuration.WithLabelValues(string(id.Name)).Observe(time.Since(started).Seconds())
	}()

	backup := m.deps.Settings.BackupEnabled()
	if req.Backup != nil {
		backup = *req.Backup
	}

	version := release.NormalizeVersion(req.Version)

	logger.InfoKV(ctx, "Update requested",
		"version", version,
		"backup", backup,
		"arch", m.arch,
		"requested_by", common.ActorOrUnknown().String(),
	)

	if err = m.update(ctx, id, version, backup); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Update finished", "version", version, "elapsed", time.Since(started).Round(time.Millisecond))

	return nil
}

func (m *Manager) update(ctx context.Context, id core.Identity, version string, backup bool) error {
	_, wasRunning, err := m.deps.Processes.GetPID(id.Name)
	if err != nil {
		return err
	}

	asset, err := m.resolveAsset(ctx, id, version)
	if err != nil {
		return err
	}

	artifact, err := m.deps.Fetcher.Fetch(ctx, asset.DownloadURL, m.deps.Settings.Mirrors())
	if err != nil {
		return err
	}

	defer func() {
		if rerr := artifact.Remove(); rerr != nil {
			logger.WarnKV(ctx, "Unable to remove the downloaded artifact", "path", artifact.Path, "error", rerr)
		}
	}()

	workDir, err := os.MkdirTemp(m.paths.TempDir, "corekeeper-"+string(id.Name)+"-*")
	if err != nil {
		return fmt.Errorf("%w: create work directory: %w", core.ErrExtractionIO, err)
	}

	defer func() {
		_ = os.RemoveAll(workDir)
	}()

	extracted := filepath.Join(workDir, string(id.Name))

	err = m.deps.Extractor.Extract(ctx, artifact, release.Extension(id.Name), string(id.Name), extracted)
	if err != nil {
		return err
	}

	script := m.deps.State.InitScript()

	if wasRunning {
		logger.Info(ctx, "Stopping the core before installation")

		if err = m.deps.Init.Run(ctx, script, initd.Stop); err != nil {
			return err
		}
	}

	_, installErr := m.deps.Installer.Install(ctx, extracted, filepath.Join(m.paths.InstallDir, string(id.Name)), backup)

	if !wasRunning {
		return installErr
	}

	// The core goes back up even when the install failed, the old binary is still in place.
	logger.Info(ctx, "Starting the core after installation")

	startErr := m.initStart(ctx, script, initd.Start)

	return errors.Join(installErr, startErr)
}

// resolveAsset prefers release metadata and falls back to the naming table when the listing is unavailable.
func (m *Manager) resolveAsset(ctx context.Context, id core.Identity, version string) (core.Asset, error) {
	// Unsupported architectures fail before any network round trip.
	if _, err := release.AssetName(id.Name, m.arch, version); err != nil {
		return core.Asset{}, err
	}

	listed, err := m.deps.Releases.Find(ctx, id, version)
	if err != nil {
		logger.WarnKV(ctx, "Release metadata unavailable, using the download template", "error", err)
	}

	asset, err := release.ResolveAsset(id, m.arch, version, m.paths.DownloadBase, listed)
	if err != nil {
		return core.Asset{}, err
	}

	logger.InfoKV(ctx, "Asset resolved", "file", asset.FileName, "url", asset.DownloadURL)

	return asset, nil
}
