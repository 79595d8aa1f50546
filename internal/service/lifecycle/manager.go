package lifecycle

import (
	"context"
	"os/exec"
	"sync"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/repository/state"
	"github.com/oshokin/corekeeper/internal/service/initd"
)

// Releases lists and finds published releases.
type Releases interface {
	List(ctx context.Context, id core.Identity) ([]core.Release, error)
	Find(ctx context.Context, id core.Identity, version string) (*core.Release, error)
}

// Fetcher downloads an artifact with mirror fallback.
type Fetcher interface {
	Fetch(ctx context.Context, url string, mirrors []string) (*core.Artifact, error)
}

// Extractor pulls the binary out of an artifact.
type Extractor interface {
	Extract(ctx context.Context, artifact *core.Artifact, extension, binary, output string) error
}

// Installer activates an extracted binary.
type Installer interface {
	Install(ctx context.Context, source, target string, backup bool) (*core.Installation, error)
}

// Processes finds and restarts core processes.
type Processes interface {
	GetPID(name core.Name) (int, bool, error)
	SoftRestart(ctx context.Context, id core.Identity) (*core.ProcessHandle, error)
}

// InitRunner drives the init scripts.
type InitRunner interface {
	Run(ctx context.Context, script string, action initd.Action) error
	TruncateLog() error
}

// Settings supplies the user preferences the pipeline depends on.
type Settings interface {
	Mirrors() []string
	BackupEnabled() bool
}

// Dependencies are the collaborators of the manager.
type Dependencies struct {
	Releases  Releases
	Fetcher   Fetcher
	Extractor Extractor
	Installer Installer
	Processes Processes
	Init      InitRunner
	State     *state.Holder
	Settings  Settings
}

// Paths are the filesystem locations the manager works in.
type Paths struct {
	// InstallDir holds the active binaries.
	InstallDir string
	// TempDir receives per-request working directories.
	TempDir string
	// DownloadBase is the release-download host used when metadata has no asset.
	DownloadBase string
	// MarkerDir holds the cross-process update markers; empty disables them.
	MarkerDir string
}

// Manager is the entry point for update, control and status requests.
type Manager struct {
	deps  Dependencies
	paths Paths
	arch  string

	// locks reject a second update of the same core while one is running.
	locks map[core.Name]*sync.Mutex

	// probe runs a core binary to read its version.
	probe func(ctx context.Context, binary string, args ...string) ([]byte, error)
}

// New creates a manager for the given CPU architecture.
func New(deps Dependencies, paths Paths, arch string) *Manager {
	locks := make(map[core.Name]*sync.Mutex, len(core.All()))
	for _, id := range core.All() {
		locks[id.Name] = &sync.Mutex{}
	}

	return &Manager{
		deps:  deps,
		paths: paths,
		arch:  arch,
		locks: locks,
		probe: runBinary,
	}
}

func runBinary(ctx context.Context, binary string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, args...).Output()
}
