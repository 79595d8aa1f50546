// Package extract pulls a core executable out of a downloaded zip or gzip archive.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/semaphore"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
)

// ExecutableMode is applied to every extracted binary.
const ExecutableMode fs.FileMode = 0o755

const defaultWorkers = 2

var errUnknownExtension = errors.New("unsupported archive extension")

// Extractor runs extractions on a bounded number of workers.
type Extractor struct {
	workers *semaphore.Weighted
}

// New creates an extractor allowing workers concurrent extractions.
func New(workers int) *Extractor {
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Extractor{workers: semaphore.NewWeighted(int64(workers))}
}

// Extract writes the member called binary from artifact to output.
// The extension selects the container: ".zip" or ".gz". On failure output is removed.
func (e *Extractor) Extract(
	ctx context.Context,
	artifact *core.Artifact,
	extension, binary, output string,
) error {
	if err := e.workers.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: wait for worker: %w", core.ErrExtractionIO, err)
	}

	done := make(chan error, 1)

	go func() {
		defer e.workers.Release(1)

		done <- extract(artifact, extension, binary, output)
	}()

	// The worker owns the output file; wait for it even if ctx is canceled.
	err := <-done
	if err != nil {
		_ = os.Remove(output)
		logger.WarnKV(ctx, "Extraction failed", "binary", binary, "error", err)

		return err
	}

	logger.InfoKV(ctx, "Binary extracted", "binary", binary, "path", output)

	return nil
}

func extract(artifact *core.Artifact, extension, binary, output string) error {
	switch strings.ToLower(extension) {
	case ".zip":
		return extractZip(artifact, binary, output)
	case ".gz", ".gzip":
		return extractGzip(artifact, output)
	default:
		return fmt.Errorf("%w: %w %q", core.ErrArchiveFormat, errUnknownExtension, extension)
	}
}

func extractZip(artifact *core.Artifact, binary, output string) error {
	var (
		reader *zip.Reader
		err    error
	)

	if artifact.Spooled() {
		var closer *zip.ReadCloser

		closer, err = zip.OpenReader(artifact.Path)
		if err != nil {
			return formatOrIO(err)
		}

		defer func() {
			_ = closer.Close()
		}()

		reader = &closer.Reader
	} else {
		reader, err = zip.NewReader(bytes.NewReader(artifact.Data), int64(len(artifact.Data)))
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrArchiveFormat, err)
		}
	}

	for _, file := range reader.File {
		if file.Name != binary || file.FileInfo().IsDir() {
			continue
		}

		src, err := file.Open()
		if err != nil {
			return fmt.Errorf("%w: open %s: %w", core.ErrArchiveFormat, file.Name, err)
		}

		defer func() {
			_ = src.Close()
		}()

		return writeExecutable(src, output)
	}

	return fmt.Errorf("%w: %q", core.ErrMemberNotFound, binary)
}

func extractGzip(artifact *core.Artifact, output string) error {
	var src io.Reader

	if artifact.Spooled() {
		file, err := os.Open(artifact.Path)
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrExtractionIO, err)
		}

		defer func() {
			_ = file.Close()
		}()

		src = file
	} else {
		src = bytes.NewReader(artifact.Data)
	}

	zr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrArchiveFormat, err)
	}

	defer func() {
		_ = zr.Close()
	}()

	// Only the first member carries the binary.
	zr.Multistream(false)

	return writeExecutable(zr, output)
}

// writeExecutable streams src into output and marks it executable.
// Decoder failures are format errors, filesystem failures are i/o errors.
func writeExecutable(src io.Reader, output string) error {
	dst, err := os.OpenFile(output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, ExecutableMode)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrExtractionIO, err)
	}

	written, err := io.Copy(dst, readerOnly{src})
	if err != nil {
		_ = dst.Close()

		var writeErr *fs.PathError
		if errors.As(err, &writeErr) {
			return fmt.Errorf("%w: %w", core.ErrExtractionIO, err)
		}

		return fmt.Errorf("%w: %w", core.ErrArchiveFormat, err)
	}

	if err = dst.Close(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrExtractionIO, err)
	}

	if written == 0 {
		return fmt.Errorf("%w: empty binary", core.ErrArchiveFormat)
	}

	if err = os.Chmod(output, ExecutableMode); err != nil {
		return fmt.Errorf("%w: %w", core.ErrExtractionIO, err)
	}

	return nil
}

// readerOnly hides WriterTo so write errors surface from dst as *fs.PathError.
type readerOnly struct {
	io.Reader
}

func formatOrIO(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return fmt.Errorf("%w: %w", core.ErrExtractionIO, err)
	}

	return fmt.Errorf("%w: %w", core.ErrArchiveFormat, err)
}
