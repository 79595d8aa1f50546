package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCore is returned for names outside of the two managed cores.
	ErrUnknownCore = errors.New("unknown core")
	// ErrReleaseLookupFailed means no release source produced a listing.
	ErrReleaseLookupFailed = errors.New("no releases available")
	// ErrUnsupportedArchitecture means the asset table has no entry for the CPU.
	ErrUnsupportedArchitecture = errors.New("architecture is not supported")
	// ErrAssetNotFound means no downloadable asset could be determined.
	ErrAssetNotFound = errors.New("release or asset not found")
	// ErrDownloadFailed means the direct source and every mirror failed.
	ErrDownloadFailed = errors.New("download failed")
	// ErrExtractionFailed is the parent of every extraction error.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrArchiveFormat is a format-level extraction error.
	ErrArchiveFormat = fmt.Errorf("%w: bad archive", ErrExtractionFailed)
	// ErrMemberNotFound means the archive has no entry with the binary name.
	ErrMemberNotFound = fmt.Errorf("%w: binary not found in archive", ErrExtractionFailed)
	// ErrExtractionIO is a filesystem-level extraction error.
	ErrExtractionIO = fmt.Errorf("%w: i/o error", ErrExtractionFailed)
	// ErrInstallFailed is the parent of every installation error.
	ErrInstallFailed = errors.New("install failed")
	// ErrBackupFailed means the existing binary could not be backed up.
	ErrBackupFailed = fmt.Errorf("%w: backup failed", ErrInstallFailed)
	// ErrProcess covers spawn, signal and init script failures.
	ErrProcess = errors.New("process error")
	// ErrUpdateInProgress rejects a second concurrent update of the same core.
	ErrUpdateInProgress = errors.New("update already in progress")
)
