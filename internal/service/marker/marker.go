// Package marker provides the update marker that keeps two corekeeper
// processes from replacing the same core binary at once.
package marker

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrHeld is returned when another process holds the marker.
var ErrHeld = errors.New("update marker is held")

// Marker is an acquired update marker. The kernel drops it when the holder exits.
type Marker struct {
	file *os.File
}

// Filename returns the marker path for the core inside dir.
func Filename(dir, name string) string {
	return filepath.Join(dir, "corekeeper-"+name+".update")
}

// Acquire takes the marker without blocking.
func Acquire(dir, name string) (*Marker, error) {
	path := Filename(dir, name)

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open update marker: %w", err)
	}

	if err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		owner := holder(file)

		_ = file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w by pid %s", ErrHeld, owner)
		}

		return nil, fmt.Errorf("lock update marker: %w", err)
	}

	// The pid is informational only.
	if err = file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Marker{file: file}, nil
}

// Release drops the marker. The file stays in place so later lockers share the inode.
func (m *Marker) Release() error {
	if m == nil || m.file == nil {
		return nil
	}

	unlockErr := unix.Flock(int(m.file.Fd()), unix.LOCK_UN)
	closeErr := m.file.Close()
	m.file = nil

	return errors.Join(unlockErr, closeErr)
}

func holder(file *os.File) string {
	buf := make([]byte, 16)

	n, _ := file.ReadAt(buf, 0)
	if pid := string(bytes.TrimSpace(buf[:n])); pid != "" {
		return pid
	}

	return "?"
}
