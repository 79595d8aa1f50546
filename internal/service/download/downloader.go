package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/metrics"
	"github.com/oshokin/corekeeper/internal/version"
)

const (
	defaultTimeout        = 120 * time.Second
	defaultStallTimeout   = 15 * time.Second
	defaultSpoolThreshold = 50 << 20
	defaultMinMirrorSize  = 1 << 20
	chunkSize             = 32 << 10
)

var (
	errBadHTTPStatus = errors.New("unexpected http status")
	errStalled       = errors.New("no data received within the stall timeout")
	errEmptyBody     = errors.New("empty response body")
	errHTMLResponse  = errors.New("html page instead of a binary")
	errTooSmall      = errors.New("response too small to be an artifact")
)

// Downloader fetches artifacts from a direct URL and a list of mirrors.
type Downloader struct {
	client         *http.Client
	timeout        time.Duration
	stallTimeout   time.Duration
	spoolThreshold int64
	minMirrorSize  int64
	tempDir        string
}

// Option configures the downloader.
type Option func(*Downloader)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		if client != nil {
			d.client = client
		}
	}
}

// WithTimeouts sets the per-attempt timeout and the per-chunk stall timeout.
func WithTimeouts(overall, stall time.Duration) Option {
	return func(d *Downloader) {
		if overall > 0 {
			d.timeout = overall
		}

		if stall > 0 {
			d.stallTimeout = stall
		}
	}
}

// WithSpoolThreshold keeps artifacts larger than threshold bytes on disk under dir.
func WithSpoolThreshold(threshold int64, dir string) Option {
	return func(d *Downloader) {
		if threshold > 0 {
			d.spoolThreshold = threshold
		}

		d.tempDir = dir
	}
}

// WithMinMirrorSize rejects mirror responses smaller than size bytes.
func WithMinMirrorSize(size int64) Option {
	return func(d *Downloader) {
		if size >= 0 {
			d.minMirrorSize = size
		}
	}
}

// New creates a downloader with the default limits.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		client:         http.DefaultClient,
		timeout:        defaultTimeout,
		stallTimeout:   defaultStallTimeout,
		spoolThreshold: defaultSpoolThreshold,
		minMirrorSize:  defaultMinMirrorSize,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Fetch downloads url directly and then through each mirror in order until one succeeds.
// The direct source is tried once. A spooled artifact must be removed by the caller.
func (d *Downloader) Fetch(ctx context.Context, url string, mirrors []string) (*core.Artifact, error) {
	ctx = logger.WithName(ctx, "download")

	logger.InfoKV(ctx, "Downloading directly", "url", url)

	artifact, err := d.attempt(ctx, url, core.DirectSource)
	if err == nil {
		d.succeeded(ctx, artifact, metrics.SourceDirect)
		return artifact, nil
	}

	d.failed(ctx, metrics.SourceDirect, core.DirectSource, err)

	failures := []error{fmt.Errorf("direct: %w", err)}

	for i, mirror := range mirrors {
		mirrorURL := strings.TrimRight(mirror, "/") + "/" + url

		logger.InfoKV(ctx, "Trying mirror", "mirror", i+1, "url", mirrorURL)

		artifact, err = d.attempt(ctx, mirrorURL, i)
		if err == nil {
			d.succeeded(ctx, artifact, metrics.SourceMirror)
			return artifact, nil
		}

		d.failed(ctx, metrics.SourceMirror, i, err)
		failures = append(failures, fmt.Errorf("mirror #%d: %w", i+1, err))
	}

	return nil, fmt.Errorf("%w: neither the direct source nor any of %d mirrors succeeded: %w",
		core.ErrDownloadFailed, len(mirrors), errors.Join(failures...))
}

func (d *Downloader) succeeded(ctx context.Context, artifact *core.Artifact, source string) {
	metrics.DownloadAttempts.WithLabelValues(source, metrics.ResultSuccess).Inc()
	metrics.DownloadBytes.Add(float64(artifact.Size))

	kvs := []any{"bytes", artifact.Size, "spooled", artifact.Spooled()}
	if artifact.Mirror != core.DirectSource {
		kvs = append(kvs, "mirror", artifact.Mirror+1)
	}

	logger.InfoKV(ctx, "Download complete", kvs...)
}

func (d *Downloader) failed(ctx context.Context, source string, mirror int, err error) {
	kvs := []any{"error", err}
	if mirror != core.DirectSource {
		kvs = append(kvs, "mirror", mirror+1)
	}

	switch {
	case errors.Is(err, errHTMLResponse), errors.Is(err, errTooSmall):
		metrics.DownloadAttempts.WithLabelValues(source, metrics.ResultRejected).Inc()
		logger.WarnKV(ctx, "Mirror rejected", kvs...)
	case errors.Is(err, errStalled):
		metrics.DownloadAttempts.WithLabelValues(source, metrics.ResultFailure).Inc()
		logger.WarnKV(ctx, "Download stalled", kvs...)
	case mirror == core.DirectSource:
		metrics.DownloadAttempts.WithLabelValues(source, metrics.ResultFailure).Inc()
		logger.WarnKV(ctx, "Direct download failed, switching to mirrors", kvs...)
	default:
		metrics.DownloadAttempts.WithLabelValues(source, metrics.ResultFailure).Inc()
		logger.WarnKV(ctx, "Mirror unavailable", kvs...)
	}
}

// attempt performs one bounded download. mirror is the mirror index or core.DirectSource.
func (d *Downloader) attempt(ctx context.Context, url string, mirror int) (*core.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	// The stall timer also covers the wait for response headers.
	stall := time.AfterFunc(d.stallTimeout, func() { abort(errStalled) })
	defer stall.Stop()

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, attemptError(ctx, err)
	}

	// The first chunk gets a full stall window of its own.
	stall.Reset(d.stallTimeout)

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %d", errBadHTTPStatus, resp.StatusCode)
	}

	isMirror := mirror != core.DirectSource
	if isMirror {
		if isHTML(resp.Header.Get("Content-Type")) {
			return nil, fmt.Errorf("%w: content-type %q", errHTMLResponse, resp.Header.Get("Content-Type"))
		}

		if resp.ContentLength >= 0 && resp.ContentLength < d.minMirrorSize {
			return nil, fmt.Errorf("%w: %d bytes announced", errTooSmall, resp.ContentLength)
		}
	}

	out := &spool{dir: d.tempDir, threshold: d.spoolThreshold}

	if err = d.copy(ctx, out, resp.Body, stall); err != nil {
		out.discard()
		return nil, err
	}

	switch {
	case out.size == 0:
		out.discard()
		return nil, errEmptyBody
	case isMirror && out.size < d.minMirrorSize:
		size := out.size
		out.discard()

		return nil, fmt.Errorf("%w: %d bytes received", errTooSmall, size)
	}

	return out.artifact(mirror)
}

// copy streams the body in chunks, re-arming the stall timer after every chunk.
func (d *Downloader) copy(ctx context.Context, dst io.Writer, body io.Reader, stall *time.Timer) error {
	buf := make([]byte, chunkSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			stall.Reset(d.stallTimeout)

			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return attemptError(ctx, err)
		}
	}
}

// attemptError reports the stall instead of the generic cancellation it caused.
func attemptError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, errStalled) || errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", cause, err)
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", errStalled, err)
	}

	return err
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}

	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
