package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/metrics"
	"github.com/oshokin/corekeeper/internal/repository/state"
	"github.com/oshokin/corekeeper/internal/service/lifecycle"
	"github.com/oshokin/corekeeper/internal/service/release"
)

// fakeRequests records the requests routed by the API.
type fakeRequests struct {
	// mu guards the recorded requests.
	mu sync.Mutex
	// updates lists the update requests in call order.
	updates []lifecycle.UpdateRequest
	// controls lists "action core" pairs in call order.
	controls []string
	// err, when set, fails every request.
	err error
}

// ListReleases returns one release for any core.
func (f *fakeRequests) ListReleases(_ context.Context, name string) ([]core.Release, error) {
	if f.err != nil {
		return nil, f.err
	}

	return []core.Release{{Version: "1.0.0", Name: name}}, nil
}

// TriggerUpdate records the request.
func (f *fakeRequests) TriggerUpdate(_ context.Context, req lifecycle.UpdateRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates = append(f.updates, req)

	return f.err
}

// Control records the action.
func (f *fakeRequests) Control(_ context.Context, action, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.controls = append(f.controls, action+" "+name)

	return f.err
}

// Status reports xray as the running core.
func (f *fakeRequests) Status(context.Context) (lifecycle.StatusReport, error) {
	return lifecycle.StatusReport{Success: f.err == nil, CurrentCore: "xray", Running: true}, f.err
}

func testHolder() *state.Holder {
	return state.NewHolder(state.NewFileRepository(nil), core.ActiveCore{
		Identity:   core.MustLookup(core.Xray),
		InitScript: "/opt/etc/init.d/S24xray",
	})
}

func do(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))

	return rec
}

// TestAPI_RoutesRequests maps the HTTP surface onto the lifecycle operations.
func TestAPI_RoutesRequests(t *testing.T) {
	t.Parallel()

	requests := &fakeRequests{}
	mux := newMux(testHolder(), requests, "")

	rec := do(t, mux, http.MethodGet, "/api/update?core=mihomo", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var releases lifecycle.ReleasesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &releases))
	require.True(t, releases.Success)
	require.Equal(t, "mihomo", releases.Releases[0].Name)

	rec = do(t, mux, http.MethodPost, "/api/update", `{"core":"xray","version":"25.3.6","backup":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true}`, rec.Body.String())
	require.Len(t, requests.updates, 1)
	require.Equal(t, "25.3.6", requests.updates[0].Version)
	require.NotNil(t, requests.updates[0].Backup)
	require.False(t, *requests.updates[0].Backup)

	rec = do(t, mux, http.MethodPost, "/api/control", `{"action":"softRestart","core":"mihomo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"softRestart mihomo"}, requests.controls)

	rec = do(t, mux, http.MethodGet, "/api/control", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report lifecycle.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "xray", report.CurrentCore)
	require.True(t, report.Running)
}

// TestAPI_Failures returns the uniform error response.
func TestAPI_Failures(t *testing.T) {
	t.Parallel()

	mux := newMux(testHolder(), &fakeRequests{err: core.ErrUpdateInProgress}, "")

	rec := do(t, mux, http.MethodPost, "/api/update", `{"core":"xray","version":"1.0.0"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var response lifecycle.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.False(t, response.Success)
	require.Contains(t, response.Error, core.ErrUpdateInProgress.Error())

	rec = do(t, mux, http.MethodPost, "/api/control", `{"action":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/update", `{"core":"xray","unknown":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestAPI_SharesReleaseLookups coalesces concurrent listings through the daemon's single resolver.
func TestAPI_SharesReleaseLookups(t *testing.T) {
	t.Parallel()

	var githubHits atomic.Int32

	github := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		githubHits.Add(1)
		time.Sleep(300 * time.Millisecond)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"tag_name":"v1.0.0","name":"1.0.0","published_at":"2025-06-01T10:00:00Z"}]`))
	}))
	defer github.Close()

	jsdelivr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"versions":["1.0.0"]}`))
	}))
	defer jsdelivr.Close()

	manager := lifecycle.New(lifecycle.Dependencies{
		Releases: release.NewResolver(release.WithEndpoints(github.URL, jsdelivr.URL)),
		State:    testHolder(),
	}, lifecycle.Paths{}, "arm64")

	server := httptest.NewServer(newMux(testHolder(), manager, ""))
	defer server.Close()

	const callers = 8

	var (
		wg       sync.WaitGroup
		failures atomic.Int32
	)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			resp, err := http.Get(server.URL + "/api/update?core=xray") //nolint:noctx // Test client.
			if err != nil {
				failures.Add(1)
				return
			}

			defer resp.Body.Close()

			var body lifecycle.ReleasesResponse
			if json.NewDecoder(resp.Body).Decode(&body) != nil || !body.Success {
				failures.Add(1)
			}
		}()
	}

	wg.Wait()

	require.Zero(t, failures.Load())
	require.Less(t, githubHits.Load(), int32(callers))
}

// TestMetrics_ServesCountersOfFinishedCommands exposes what a finished update command persisted.
func TestMetrics_ServesCountersOfFinishedCommands(t *testing.T) {
	t.Parallel()

	textfile := filepath.Join(t.TempDir(), "corekeeper.prom")

	// The collectors of a separate update process.
	command := prometheus.NewRegistry()
	updates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "corekeeper_update_total",
		Help: "Core update requests by core and result",
	}, []string{"core", "result"})
	command.MustRegister(updates)
	updates.WithLabelValues("mihomo", metrics.ResultSuccess).Add(3)

	require.NoError(t, metrics.Persist(textfile, command))

	rec := do(t, newMux(testHolder(), &fakeRequests{}, textfile), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Contains(t, rec.Body.String(), `corekeeper_update_total{core="mihomo",result="success"} 3`)
}
