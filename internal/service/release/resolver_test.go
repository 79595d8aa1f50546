package release

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/corekeeper/internal/domain/core"
)

func githubPayload(count int) string {
	items := make([]string, 0, count)
	for i := range count {
		items = append(items, fmt.Sprintf(
			`{"tag_name":"v1.%d.0","name":"Xray-core v1.%d.0","published_at":"2025-01-%02dT10:00:00Z","prerelease":%t,`+
				`"assets":[{"name":"Xray-linux-arm64-v8a.zip","browser_download_url":"https://dl.example/%d.zip"}]}`,
			count-i, count-i, i+1, i == 0, count-i))
	}

	return "[" + strings.Join(items, ",") + "]"
}

// TestResolver_GitHub parses the primary listing and keeps only the newest releases.
func TestResolver_GitHub(t *testing.T) {
	t.Parallel()

	var jsdHits atomic.Int32

	github := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/XTLS/Xray-core/releases", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(githubPayload(12)))
	}))
	defer github.Close()

	jsd := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		jsdHits.Add(1)
	}))
	defer jsd.Close()

	resolver := NewResolver(WithEndpoints(github.URL, jsd.URL), WithToken("secret"))

	releases, err := resolver.List(t.Context(), core.MustLookup(core.Xray))
	require.NoError(t, err)
	require.Len(t, releases, MaxReleases)
	require.Equal(t, "v1.12.0", releases[0].Version)
	require.Equal(t, "2025-01-01", releases[0].PublishedAt)
	require.True(t, releases[0].IsPrerelease)
	require.Equal(t, "v1.3.0", releases[9].Version)
	require.Len(t, releases[0].Assets, 1)
	require.Zero(t, jsdHits.Load())

	found, err := resolver.Find(t.Context(), core.MustLookup(core.Xray), "1.5.0")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "https://dl.example/5.zip", found.Assets[0].DownloadURL)

	missing, err := resolver.Find(t.Context(), core.MustLookup(core.Xray), "9.9.9")
	require.NoError(t, err)
	require.Nil(t, missing)
}

// TestResolver_FallbackToJSDelivr synthesizes names for the version-only fallback source.
func TestResolver_FallbackToJSDelivr(t *testing.T) {
	t.Parallel()

	for name, handler := range map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
		"garbage": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>rate limited</html>"))
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			github := httptest.NewServer(handler)
			defer github.Close()

			jsd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/package/gh/MetaCubeX/mihomo", r.URL.Path)
				_, _ = w.Write([]byte(`{"versions":["1.19.2","1.19.1-alpha","v1.19.0"]}`))
			}))
			defer jsd.Close()

			resolver := NewResolver(WithEndpoints(github.URL, jsd.URL))

			releases, err := resolver.List(t.Context(), core.MustLookup(core.Mihomo))
			require.NoError(t, err)
			require.Equal(t, []core.Release{
				{Version: "v1.19.2", Name: "Release v1.19.2"},
				{Version: "v1.19.1-alpha", Name: "Release v1.19.1-alpha", IsPrerelease: true},
				{Version: "v1.19.0", Name: "Release v1.19.0"},
			}, releases)
		})
	}
}

// TestResolver_BothSourcesFail returns the lookup error instead of an empty listing.
func TestResolver_BothSourcesFail(t *testing.T) {
	t.Parallel()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	resolver := NewResolver(WithEndpoints(broken.URL, broken.URL), WithCallTimeout(time.Second))

	releases, err := resolver.List(t.Context(), core.MustLookup(core.Xray))
	require.ErrorIs(t, err, core.ErrReleaseLookupFailed)
	require.Nil(t, releases)
}

// TestResolver_ThrottledGoesToFallback skips GitHub once the rate budget is spent.
func TestResolver_ThrottledGoesToFallback(t *testing.T) {
	t.Parallel()

	var githubHits atomic.Int32

	github := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		githubHits.Add(1)
		_, _ = w.Write([]byte(githubPayload(1)))
	}))
	defer github.Close()

	jsd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"versions":["1.0.0"]}`))
	}))
	defer jsd.Close()

	resolver := NewResolver(WithEndpoints(github.URL, jsd.URL), WithRateLimit(time.Hour, 1))
	id := core.MustLookup(core.Xray)

	first, err := resolver.List(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, "Xray-core v1.1.0", first[0].Name)

	second, err := resolver.List(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, "Release v1.0.0", second[0].Name)
	require.EqualValues(t, 1, githubHits.Load())
}
