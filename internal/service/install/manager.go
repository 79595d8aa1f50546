package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
)

const (
	// ExecutableMode is applied to every activated binary.
	ExecutableMode fs.FileMode = 0o755

	backupDirMode     fs.FileMode = 0o755
	backupStampLayout             = "20060102-150405"
	maxBackupSuffix               = 100
)

var errBackupNameTaken = errors.New("no free backup name")

// Manager backs up and replaces core binaries.
type Manager struct {
	backupDir string
	location  *time.Location
	now       func() time.Time
	link      func(oldname, newname string) error
	rename    func(oldpath, newpath string) error
}

// Option configures the manager.
type Option func(*Manager)

// WithClock replaces the time source used for backup names.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a manager storing backups in backupDir with names stamped
// in the zone timezoneOffset hours east of UTC.
func New(backupDir string, timezoneOffset int, opts ...Option) *Manager {
	m := &Manager{
		backupDir: backupDir,
		location:  time.FixedZone("UTC"+strconv.Itoa(timezoneOffset), timezoneOffset*int(time.Hour/time.Second)),
		now:       time.Now,
		link:      os.Link,
		rename:    os.Rename,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Install moves source onto target, backing the old target up first when backup is set.
// A failed backup aborts before the target is touched.
func (m *Manager) Install(ctx context.Context, source, target string, backup bool) (*core.Installation, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "install"), "target", target)

	record := &core.Installation{TargetPath: target, Timestamp: m.now()}

	var restore func()

	if backup {
		backupPath, moved, err := m.backup(ctx, target, record.Timestamp)
		if err != nil {
			return nil, err
		}

		record.BackupPath = backupPath

		if moved {
			restore = func() {
				if rerr := m.rename(backupPath, target); rerr != nil {
					logger.ErrorKV(ctx, "Unable to restore the backup", "backup", backupPath, "error", rerr)
				}
			}
		}
	}

	if err := m.activate(ctx, source, target); err != nil {
		if restore != nil {
			restore()
		}

		return nil, fmt.Errorf("%w: %w", core.ErrInstallFailed, err)
	}

	if err := os.Chmod(target, ExecutableMode); err != nil {
		return nil, fmt.Errorf("%w: chmod %s: %w", core.ErrInstallFailed, target, err)
	}

	logger.InfoKV(ctx, "Binary installed", "backup", record.BackupPath)

	return record, nil
}

// BackupName returns the backup file name of binary for the moment t.
func (m *Manager) BackupName(binary string, t time.Time) string {
	return binary + "-" + t.In(m.location).Format(backupStampLayout)
}

// backup keeps a copy of target. It returns an empty path when there is nothing to back up
// and reports whether target itself was moved away.
func (m *Manager) backup(ctx context.Context, target string, stamp time.Time) (string, bool, error) {
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		logger.Info(ctx, "No installed binary, skipping backup")
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("%w: %w", core.ErrBackupFailed, err)
	}

	if err := os.MkdirAll(m.backupDir, backupDirMode); err != nil {
		return "", false, fmt.Errorf("%w: %w", core.ErrBackupFailed, err)
	}

	path, err := m.freeBackupPath(m.BackupName(filepath.Base(target), stamp))
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", core.ErrBackupFailed, err)
	}

	// A hard link keeps the target in place until the swap.
	linkErr := m.link(target, path)
	if linkErr == nil {
		logger.InfoKV(ctx, "Binary backed up", "backup", path)
		return path, false, nil
	}

	renameErr := m.rename(target, path)
	if renameErr == nil {
		logger.InfoKV(ctx, "Binary moved to backup", "backup", path)
		return path, true, nil
	}

	if err = copyFile(target, path); err != nil {
		_ = os.Remove(path)

		return "", false, fmt.Errorf("%w: link: %w, rename: %w, copy: %w", core.ErrBackupFailed, linkErr, renameErr, err)
	}

	logger.InfoKV(ctx, "Binary copied to backup", "backup", path)

	return path, false, nil
}

// freeBackupPath never returns an existing path, so backups are never overwritten.
func (m *Manager) freeBackupPath(name string) (string, error) {
	candidate := filepath.Join(m.backupDir, name)

	for i := 1; i <= maxBackupSuffix; i++ {
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}

		candidate = filepath.Join(m.backupDir, name+"-"+strconv.Itoa(i))
	}

	return "", fmt.Errorf("%w: %s", errBackupNameTaken, name)
}

// activate renames source onto target, falling back to an in-directory swap for cross-device moves.
func (m *Manager) activate(ctx context.Context, source, target string) error {
	err := m.rename(source, target)
	if err == nil {
		return nil
	}

	logger.WarnKV(ctx, "Atomic rename failed, copying instead", "error", err)

	if err = applyCopy(source, target); err != nil {
		return err
	}

	if err = os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove the extracted binary", "path", source, "error", err)
	}

	return nil
}

// applyCopy writes source next to target and swaps it in.
func applyCopy(source, target string) error {
	src, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open extracted binary: %w", err)
	}

	defer func() {
		_ = src.Close()
	}()

	// go-update swaps through the existing target, so a missing one gets a placeholder.
	if _, err = os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, cerr := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, ExecutableMode)
		if cerr != nil {
			return fmt.Errorf("create placeholder: %w", cerr)
		}

		_ = placeholder.Close()
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: ExecutableMode,
	}

	if err = goupdate.Apply(src, options); err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			return fmt.Errorf("apply update: %w (rollback: %w)", err, rerr)
		}

		return fmt.Errorf("apply update: %w", err)
	}

	return nil
}

func copyFile(source, target string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}

	defer func() {
		_ = src.Close()
	}()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}

	return dst.Close()
}
