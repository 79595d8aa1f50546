package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/oshokin/corekeeper/internal/domain/core"
)

// scriptMode keeps init scripts executable after a rewrite.
const scriptMode = 0o755

// Repository defines persistence operations for the active core.
type Repository interface {
	Load(ctx context.Context) (core.ActiveCore, error)
	Save(ctx context.Context, active core.ActiveCore) error
}

// FileRepository reads and rewrites the active core in the init scripts.
type FileRepository struct {
	// scripts are the candidate init scripts in order of preference.
	scripts []string
	// mu serializes script rewrites.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when none of the init scripts exists.
	ErrNotFound = errors.New("init script not found")

	errNoClientLine = errors.New("init script has no name_client line")

	clientLine = regexp.MustCompile(`(?m)^(\s*name_client=)"?([A-Za-z0-9_-]*)"?`)
)

// NewFileRepository creates a repository over the candidate init scripts.
func NewFileRepository(scripts []string) *FileRepository {
	cleaned := make([]string, 0, len(scripts))
	for _, script := range scripts {
		cleaned = append(cleaned, filepath.Clean(script))
	}

	return &FileRepository{scripts: cleaned}
}

// Load detects the active core from the first existing init script.
func (r *FileRepository) Load(_ context.Context) (core.ActiveCore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, script := range r.scripts {
		contents, err := os.ReadFile(script)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err != nil {
			return core.ActiveCore{}, fmt.Errorf("read init script: %w", err)
		}

		return core.ActiveCore{Identity: detect(contents), InitScript: script}, nil
	}

	return core.ActiveCore{}, ErrNotFound
}

// Save points the init script at the given core.
func (r *FileRepository) Save(_ context.Context, active core.ActiveCore) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(active.InitScript)
	if err != nil {
		return fmt.Errorf("read init script: %w", err)
	}

	if !clientLine.Match(contents) {
		return fmt.Errorf("%w: %s", errNoClientLine, active.InitScript)
	}

	updated := clientLine.ReplaceAll(contents, []byte(`${1}"`+string(active.Identity.Name)+`"`))

	if err = os.WriteFile(active.InitScript, updated, scriptMode); err != nil {
		return fmt.Errorf("write init script: %w", err)
	}

	if err = os.Chmod(active.InitScript, scriptMode); err != nil {
		return fmt.Errorf("chmod init script: %w", err)
	}

	return nil
}

func detect(contents []byte) core.Identity {
	for _, match := range clientLine.FindAllSubmatch(contents, -1) {
		if string(match[2]) == string(core.Mihomo) {
			return core.MustLookup(core.Mihomo)
		}
	}

	return core.MustLookup(core.Xray)
}
