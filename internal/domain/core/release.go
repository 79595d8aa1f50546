package core

import (
	"errors"
	"os"
	"time"
)

// Release is one published version of a core.
type Release struct {
	// Version always carries the leading "v".
	Version      string  `json:"version"`
	Name         string  `json:"name"`
	PublishedAt  string  `json:"publishedAt"`
	IsPrerelease bool    `json:"isPrerelease"`
	Assets       []Asset `json:"-"`
}

// Asset is a single downloadable file of a release.
type Asset struct {
	FileName    string
	DownloadURL string
}

// DirectSource marks an artifact fetched without a mirror.
const DirectSource = -1

// Artifact is the downloaded asset, kept in memory or spooled to a file.
type Artifact struct {
	// Data holds small artifacts.
	Data []byte
	// Path points to the spooled file of large artifacts.
	Path string
	// Size is the total byte count.
	Size int64
	// Mirror is the zero-based mirror index or DirectSource.
	Mirror int
}

// Spooled reports whether the artifact lives on disk.
func (a *Artifact) Spooled() bool {
	return a.Path != ""
}

// Remove deletes the spooled file, if any.
func (a *Artifact) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}

	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// Installation records an activated binary.
type Installation struct {
	TargetPath string
	// BackupPath is empty when no backup was made.
	BackupPath string
	Timestamp  time.Time
}

// ProcessHandle describes a spawned core.
type ProcessHandle struct {
	PID           int
	Env           []string
	SessionLeader bool
	FDLimit       uint64
}

// ActiveCore is the core the init scripts currently run.
type ActiveCore struct {
	Identity Identity
	// InitScript is the script controlling the active core.
	InitScript string
}

// Actor identifies who requested a state-changing operation.
type Actor struct {
	Hostname string `json:"hostname"`
	Username string `json:"username"`
}

// String formats the actor as user@host.
func (a Actor) String() string {
	return a.Username + "@" + a.Hostname
}
