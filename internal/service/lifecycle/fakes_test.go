package lifecycle

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/service/initd"
)

// errFake is the failure injected by the fakes.
var errFake = errors.New("fake failure")

// fakeReleases serves a fixed release listing.
type fakeReleases struct {
	// releases is returned by List and searched by Find.
	releases []core.Release
	// err, when set, fails both List and Find.
	err error
}

// List returns the configured listing.
func (f *fakeReleases) List(context.Context, core.Identity) ([]core.Release, error) {
	return f.releases, f.err
}

// Find returns the listed release with the given version, or nil when it is not listed.
func (f *fakeReleases) Find(_ context.Context, _ core.Identity, version string) (*core.Release, error) {
	if f.err != nil {
		return nil, f.err
	}

	for i := range f.releases {
		if f.releases[i].Version == version {
			return &f.releases[i], nil
		}
	}

	return nil, nil //nolint:nilnil // Mirrors the resolver contract.
}

// fakeFetcher records requested URLs and returns canned artifact bytes.
type fakeFetcher struct {
	// mu guards urls.
	mu sync.Mutex
	// urls lists every fetched URL in call order.
	urls []string
	// data is the artifact content.
	data []byte
	// err, when set, fails every fetch.
	err error
	// spool, when set, makes the artifact disk-backed at this path.
	spool string
	// block selects URLs whose fetch waits on release after closing entered.
	block func(url string) bool
	// entered is closed when a blocked fetch starts.
	entered chan struct{}
	// release unblocks a blocked fetch.
	release chan struct{}
	// panics makes Fetch panic.
	panics bool
}

// Fetch records the URL and returns the configured artifact.
func (f *fakeFetcher) Fetch(_ context.Context, url string, _ []string) (*core.Artifact, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if f.panics {
		panic("fetcher exploded")
	}

	if f.block != nil && f.block(url) {
		close(f.entered)
		<-f.release
	}

	if f.err != nil {
		return nil, f.err
	}

	if f.spool != "" {
		if err := os.WriteFile(f.spool, f.data, 0o600); err != nil {
			return nil, err
		}

		return &core.Artifact{Path: f.spool, Size: int64(len(f.data))}, nil
	}

	return &core.Artifact{Data: f.data, Size: int64(len(f.data))}, nil
}

// fakeExtractor writes the in-memory artifact as the extracted binary.
type fakeExtractor struct {
	// err, when set, fails every extraction.
	err error
}

// Extract writes the artifact bytes to output.
func (f *fakeExtractor) Extract(_ context.Context, artifact *core.Artifact, _, _, output string) error {
	if f.err != nil {
		return f.err
	}

	return os.WriteFile(output, artifact.Data, 0o755)
}

// fakeInstaller records install targets without touching the filesystem.
type fakeInstaller struct {
	// mu guards the recorded calls.
	mu sync.Mutex
	// calls counts Install invocations.
	calls int
	// targets lists the install targets in call order.
	targets []string
	// backups lists the backup flags in call order.
	backups []bool
	// err, when set, fails every install.
	err error
	// onInstall runs inside Install before it returns.
	onInstall func()
}

// Install records the call and reports the configured result.
func (f *fakeInstaller) Install(_ context.Context, _, target string, backup bool) (*core.Installation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.targets = append(f.targets, target)
	f.backups = append(f.backups, backup)

	if f.onInstall != nil {
		f.onInstall()
	}

	if f.err != nil {
		return nil, f.err
	}

	return &core.Installation{TargetPath: target}, nil
}

// fakeProcesses is an in-memory process table.
type fakeProcesses struct {
	// mu guards running and restarted.
	mu sync.Mutex
	// running maps running cores to their pids.
	running map[core.Name]int
	// restarted lists soft-restarted cores in call order.
	restarted []core.Name
	// err, when set, fails GetPID.
	err error
}

// GetPID looks the core up in running.
func (f *fakeProcesses) GetPID(name core.Name) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, false, f.err
	}

	pid, ok := f.running[name]

	return pid, ok, nil
}

// SoftRestart records the restart and returns a fixed handle.
func (f *fakeProcesses) SoftRestart(_ context.Context, id core.Identity) (*core.ProcessHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.restarted = append(f.restarted, id.Name)

	return &core.ProcessHandle{PID: 1000, SessionLeader: true}, nil
}

// initCall is one recorded init script invocation.
type initCall struct {
	script string
	action initd.Action
}

// fakeInit records init script actions. Like the real runner it refuses to run on a done context.
type fakeInit struct {
	// mu guards calls and truncated.
	mu sync.Mutex
	// calls lists the executed actions in order.
	calls []initCall
	// truncated counts log truncations.
	truncated int
	// failOn makes the given action fail with a process error.
	failOn initd.Action
}

// Run records the action.
func (f *fakeInit) Run(ctx context.Context, script string, action initd.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	f.calls = append(f.calls, initCall{script: script, action: action})

	if f.failOn == action {
		return core.ErrProcess
	}

	return nil
}

// TruncateLog counts the truncation.
func (f *fakeInit) TruncateLog() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.truncated++

	return nil
}

// actions returns the recorded actions in order.
func (f *fakeInit) actions() []initd.Action {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]initd.Action, 0, len(f.calls))
	for _, call := range f.calls {
		result = append(result, call.action)
	}

	return result
}

// fakeSettings is a static Settings implementation.
type fakeSettings struct {
	// mirrors are returned by Mirrors.
	mirrors []string
	// backup is returned by BackupEnabled.
	backup bool
}

// Mirrors returns the configured mirrors.
func (f fakeSettings) Mirrors() []string {
	return f.mirrors
}

// BackupEnabled returns the configured backup flag.
func (f fakeSettings) BackupEnabled() bool {
	return f.backup
}
