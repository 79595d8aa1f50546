package lifecycle

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/oshokin/corekeeper/internal/config"
	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/repository/state"
	"github.com/oshokin/corekeeper/internal/service/download"
	"github.com/oshokin/corekeeper/internal/service/extract"
	"github.com/oshokin/corekeeper/internal/service/initd"
	"github.com/oshokin/corekeeper/internal/service/install"
	"github.com/oshokin/corekeeper/internal/service/process"
	"github.com/oshokin/corekeeper/internal/service/release"
)

// githubTokenEnv optionally authorizes release listings.
const githubTokenEnv = "GITHUB_TOKEN"

// NewFromConfig wires a manager from the daemon settings and detects the active core.
func NewFromConfig(ctx context.Context, settings *config.Config) (*Manager, error) {
	if err := config.Validate(settings); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	if err := os.MkdirAll(settings.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	var initial core.ActiveCore

	initial.Identity = core.MustLookup(core.Xray)
	if len(settings.InitScripts) > 0 {
		initial.InitScript = settings.InitScripts[0]
	}

	holder := state.NewHolder(state.NewFileRepository(settings.InitScripts), initial)

	active, err := holder.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect active core: %w", err)
	}

	logger.InfoKV(ctx, "Active core detected", "core", active.Identity.Name, "init_script", active.InitScript)

	arch := settings.Architecture()

	deps := Dependencies{
		Releases: release.NewResolver(
			release.WithEndpoints(settings.Endpoints.GitHubAPI, settings.Endpoints.JSDelivrAPI),
			release.WithCallTimeout(settings.Release.Timeout),
			release.WithRateLimit(settings.Release.RateInterval, settings.Release.RateBurst),
			release.WithToken(strings.TrimSpace(os.Getenv(githubTokenEnv))),
		),
		Fetcher: download.New(
			download.WithTimeouts(settings.Download.Timeout, settings.Download.StallTimeout),
			download.WithSpoolThreshold(settings.Download.SpoolThreshold, settings.TempDir),
			download.WithMinMirrorSize(settings.Download.MinMirrorSize),
		),
		Extractor: extract.New(settings.ExtractWorkers),
		Installer: install.New(settings.BackupDir, settings.TimezoneOffset()),
		Processes: process.NewController(process.NewTable(), settings.InstallDir, settings.ErrorLog,
			process.WithGroupID(settings.CoreGroupID),
			process.WithArch(arch),
		),
		Init:     initd.NewRunner(settings.ErrorLog),
		State:    holder,
		Settings: settings,
	}

	paths := Paths{
		InstallDir:   settings.InstallDir,
		TempDir:      settings.TempDir,
		DownloadBase: settings.Endpoints.GitHubDownload,
		MarkerDir:    settings.TempDir,
	}

	return New(deps, paths, arch), nil
}

// State returns the active core holder.
func (m *Manager) State() *state.Holder {
	return m.deps.State
}
