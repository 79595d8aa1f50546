package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/metrics"
	"github.com/oshokin/corekeeper/internal/version"
)

const (
	// MaxReleases is the number of most recent releases returned by List.
	MaxReleases = 10

	defaultGitHubAPI   = "https://api.github.com"
	defaultJSDelivrAPI = "https://data.jsdelivr.com"
	defaultCallTimeout = 10 * time.Second

	// maxMetadataSize caps the listing payloads; GitHub pages with assets stay well below it.
	maxMetadataSize = 8 << 20
)

var (
	errBadHTTPStatus = errors.New("unexpected http status")
	errThrottled     = errors.New("primary source throttled")
	errEmptyListing  = errors.New("empty release listing")
)

// Resolver lists releases of a core.
type Resolver struct {
	// client performs the metadata requests.
	client *http.Client
	// githubAPI is the base URL of the primary source.
	githubAPI string
	// jsdelivrAPI is the base URL of the fallback source.
	jsdelivrAPI string
	// token authorizes GitHub requests when set.
	token string
	// limiter throttles the primary source; nil disables throttling.
	limiter *rate.Limiter
	// callTimeout bounds every metadata request.
	callTimeout time.Duration
	// group collapses concurrent listings of the same core.
	group singleflight.Group
}

// Option configures the resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.client = client
		}
	}
}

// WithEndpoints overrides the GitHub API and jsDelivr API base URLs.
func WithEndpoints(githubAPI, jsdelivrAPI string) Option {
	return func(r *Resolver) {
		if githubAPI != "" {
			r.githubAPI = strings.TrimRight(githubAPI, "/")
		}

		if jsdelivrAPI != "" {
			r.jsdelivrAPI = strings.TrimRight(jsdelivrAPI, "/")
		}
	}
}

// WithToken authorizes GitHub API requests.
func WithToken(token string) Option {
	return func(r *Resolver) {
		r.token = strings.TrimSpace(token)
	}
}

// WithRateLimit allows burst GitHub requests per interval.
// When the budget is exhausted the resolver goes straight to the fallback source.
func WithRateLimit(interval time.Duration, burst int) Option {
	return func(r *Resolver) {
		if interval > 0 && burst > 0 {
			r.limiter = rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst)
		}
	}
}

// WithCallTimeout bounds each metadata request.
func WithCallTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.callTimeout = timeout
		}
	}
}

// NewResolver creates a resolver talking to the public endpoints by default.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:      http.DefaultClient,
		githubAPI:   defaultGitHubAPI,
		jsdelivrAPI: defaultJSDelivrAPI,
		callTimeout: defaultCallTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type githubRelease struct {
	TagName     string        `json:"tag_name"`
	Name        string        `json:"name"`
	PublishedAt string        `json:"published_at"`
	Prerelease  bool          `json:"prerelease"`
	Assets      []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type jsdelivrPackage struct {
	Versions []string `json:"versions"`
}

// List returns up to MaxReleases most recent releases, newest first.
// Concurrent calls for the same core share one lookup.
func (r *Resolver) List(ctx context.Context, id core.Identity) ([]core.Release, error) {
	result, err, _ := r.group.Do(string(id.Name), func() (any, error) {
		return r.list(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	releases, _ := result.([]core.Release)

	// Callers own their copy.
	return append([]core.Release(nil), releases...), nil
}

// Find returns the listed release with the given version or nil if it is not listed.
func (r *Resolver) Find(ctx context.Context, id core.Identity, version string) (*core.Release, error) {
	releases, err := r.List(ctx, id)
	if err != nil {
		return nil, err
	}

	version = NormalizeVersion(version)
	for i := range releases {
		if releases[i].Version == version {
			return &releases[i], nil
		}
	}

	return nil, nil //nolint:nilnil // An unlisted version is not an error, callers fall back to the template.
}

func (r *Resolver) list(ctx context.Context, id core.Identity) ([]core.Release, error) {
	ctx = logger.WithKV(ctx, "core", id.Name)

	releases, err := r.fromGitHub(ctx, id.Repository)
	metrics.ReleaseLookups.WithLabelValues(metrics.SourceGitHub, metrics.Result(err)).Inc()

	if err == nil {
		return releases, nil
	}

	logger.WarnKV(ctx, "GitHub release listing failed, trying jsDelivr", "error", err)

	releases, err = r.fromJSDelivr(ctx, id.Repository)
	metrics.ReleaseLookups.WithLabelValues(metrics.SourceJSDelivr, metrics.Result(err)).Inc()

	if err == nil {
		return releases, nil
	}

	logger.WarnKV(ctx, "jsDelivr release listing failed", "error", err)

	return nil, fmt.Errorf("%w: neither GitHub nor jsDelivr answered for %s", core.ErrReleaseLookupFailed, id.Name)
}

func (r *Resolver) fromGitHub(ctx context.Context, repository string) ([]core.Release, error) {
	if r.limiter != nil && !r.limiter.Allow() {
		return nil, errThrottled
	}

	var payload []githubRelease
	if err := r.getJSON(ctx, r.githubAPI+"/repos/"+repository+"/releases", true, &payload); err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		return nil, errEmptyListing
	}

	releases := make([]core.Release, 0, min(len(payload), MaxReleases))

	for _, item := range payload[:min(len(payload), MaxReleases)] {
		published, _, _ := strings.Cut(item.PublishedAt, "T")

		assets := make([]core.Asset, 0, len(item.Assets))
		for _, asset := range item.Assets {
			assets = append(assets, core.Asset{FileName: asset.Name, DownloadURL: asset.BrowserDownloadURL})
		}

		releases = append(releases, core.Release{
			Version:      NormalizeVersion(item.TagName),
			Name:         item.Name,
			PublishedAt:  published,
			IsPrerelease: item.Prerelease,
			Assets:       assets,
		})
	}

	return releases, nil
}

func (r *Resolver) fromJSDelivr(ctx context.Context, repository string) ([]core.Release, error) {
	var payload jsdelivrPackage
	if err := r.getJSON(ctx, r.jsdelivrAPI+"/v1/package/gh/"+repository, false, &payload); err != nil {
		return nil, err
	}

	if len(payload.Versions) == 0 {
		return nil, errEmptyListing
	}

	releases := make([]core.Release, 0, min(len(payload.Versions), MaxReleases))

	for _, raw := range payload.Versions[:min(len(payload.Versions), MaxReleases)] {
		tag := NormalizeVersion(raw)

		releases = append(releases, core.Release{
			Version:      tag,
			Name:         "Release " + tag,
			IsPrerelease: IsPrerelease(tag),
		})
	}

	return releases, nil
}

func (r *Resolver) getJSON(ctx context.Context, url string, github bool, target any) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	if github {
		req.Header.Set("Accept", "application/vnd.github+json")

		if r.token != "" {
			req.Header.Set("Authorization", "Bearer "+r.token)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d from %s", errBadHTTPStatus, resp.StatusCode, url)
	}

	if err = json.NewDecoder(io.LimitReader(resp.Body, maxMetadataSize)).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}

	return nil
}
