package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
)

func observedContext(t *testing.T) (context.Context, *observer.ObservedLogs) {
	t.Helper()

	observed, logs := observer.New(zapcore.DebugLevel)

	return logger.ToContext(t.Context(), zap.New(observed).Sugar()), logs
}

func binaryHandler(payload []byte, hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}
}

func failingHandler(hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}

		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

// TestFetch_Direct returns the direct body without touching mirrors.
func TestFetch_Direct(t *testing.T) {
	t.Parallel()

	var mirrorHits atomic.Int32

	direct := httptest.NewServer(binaryHandler([]byte("binary"), nil))
	defer direct.Close()

	mirror := httptest.NewServer(binaryHandler([]byte("binary"), &mirrorHits))
	defer mirror.Close()

	ctx, _ := observedContext(t)

	artifact, err := New().Fetch(ctx, direct.URL+"/asset.zip", []string{mirror.URL})
	require.NoError(t, err)
	require.Equal(t, []byte("binary"), artifact.Data)
	require.EqualValues(t, 6, artifact.Size)
	require.Equal(t, core.DirectSource, artifact.Mirror)
	require.Zero(t, mirrorHits.Load())
}

// TestFetch_FirstGoodMirrorWins skips a failing mirror, stops at the first good one and logs each step.
func TestFetch_FirstGoodMirrorWins(t *testing.T) {
	t.Parallel()

	var thirdHits atomic.Int32

	payload := bytes.Repeat([]byte{0x7f}, 4096)

	direct := httptest.NewServer(failingHandler(nil))
	defer direct.Close()

	first := httptest.NewServer(failingHandler(nil))
	defer first.Close()

	var requested atomic.Value

	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}))
	defer second.Close()

	third := httptest.NewServer(binaryHandler(payload, &thirdHits))
	defer third.Close()

	ctx, logs := observedContext(t)
	target := direct.URL + "/XTLS/Xray-core/releases/download/v1.2.3/Xray-linux-arm64-v8a.zip"

	artifact, err := New(WithMinMirrorSize(1024)).Fetch(ctx, target, []string{first.URL, second.URL + "/", third.URL})
	require.NoError(t, err)
	require.Equal(t, 1, artifact.Mirror)
	require.Equal(t, payload, artifact.Data)
	require.Zero(t, thirdHits.Load())
	require.Equal(t, "/"+target, requested.Load())

	require.Equal(t, 1, logs.FilterMessage("Direct download failed, switching to mirrors").Len())
	require.Equal(t, 2, logs.FilterMessage("Trying mirror").Len())
	require.Equal(t, 1, logs.FilterMessage("Mirror unavailable").Len())

	tries := logs.FilterMessage("Trying mirror").All()
	require.EqualValues(t, 1, tries[0].ContextMap()["mirror"])
	require.EqualValues(t, 2, tries[1].ContextMap()["mirror"])
}

// TestFetch_RejectsHTMLMirror refuses an HTML page regardless of its size.
func TestFetch_RejectsHTMLMirror(t *testing.T) {
	t.Parallel()

	direct := httptest.NewServer(failingHandler(nil))
	defer direct.Close()

	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(bytes.Repeat([]byte("<p>captive portal</p>"), 1<<16))
	}))
	defer html.Close()

	ctx, logs := observedContext(t)

	_, err := New(WithMinMirrorSize(0)).Fetch(ctx, direct.URL+"/asset.gz", []string{html.URL})
	require.ErrorIs(t, err, core.ErrDownloadFailed)
	require.ErrorIs(t, err, errHTMLResponse)

	rejected := logs.FilterMessage("Mirror rejected").All()
	require.Len(t, rejected, 1)
	require.EqualValues(t, 1, rejected[0].ContextMap()["mirror"])
	require.Equal(t, zapcore.WarnLevel, rejected[0].Level)
}

// TestFetch_RejectsSmallMirror treats a tiny mirror body as a disguised error page.
func TestFetch_RejectsSmallMirror(t *testing.T) {
	t.Parallel()

	direct := httptest.NewServer(failingHandler(nil))
	defer direct.Close()

	tiny := httptest.NewServer(binaryHandler([]byte("Not Found"), nil))
	defer tiny.Close()

	good := httptest.NewServer(binaryHandler(bytes.Repeat([]byte{1}, 2048), nil))
	defer good.Close()

	ctx, logs := observedContext(t)

	artifact, err := New(WithMinMirrorSize(1024)).Fetch(ctx, direct.URL+"/a.zip", []string{tiny.URL, good.URL})
	require.NoError(t, err)
	require.Equal(t, 1, artifact.Mirror)
	require.Equal(t, 1, logs.FilterMessage("Mirror rejected").Len())
}

// TestFetch_AllSourcesFail aggregates the failures into one download error.
func TestFetch_AllSourcesFail(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	direct := httptest.NewServer(failingHandler(&hits))
	defer direct.Close()

	mirror := httptest.NewServer(failingHandler(&hits))
	defer mirror.Close()

	ctx, _ := observedContext(t)

	artifact, err := New().Fetch(ctx, direct.URL+"/a.zip", []string{mirror.URL, mirror.URL})
	require.ErrorIs(t, err, core.ErrDownloadFailed)
	require.ErrorContains(t, err, "mirror #2")
	require.Nil(t, artifact)
	require.EqualValues(t, 3, hits.Load())
}

// TestFetch_EmptyDirectBody falls through to the mirrors.
func TestFetch_EmptyDirectBody(t *testing.T) {
	t.Parallel()

	direct := httptest.NewServer(binaryHandler(nil, nil))
	defer direct.Close()

	mirror := httptest.NewServer(binaryHandler([]byte("payload"), nil))
	defer mirror.Close()

	ctx, _ := observedContext(t)

	artifact, err := New(WithMinMirrorSize(1)).Fetch(ctx, direct.URL+"/a.zip", []string{mirror.URL})
	require.NoError(t, err)
	require.Zero(t, artifact.Mirror)
}

// TestFetch_Stall abandons a source that stops sending chunks.
func TestFetch_Stall(t *testing.T) {
	t.Parallel()

	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer direct.Close()

	ctx, logs := observedContext(t)

	started := time.Now()

	_, err := New(WithTimeouts(10*time.Second, 100*time.Millisecond)).Fetch(ctx, direct.URL+"/a.zip", nil)
	require.ErrorIs(t, err, core.ErrDownloadFailed)
	require.ErrorIs(t, err, errStalled)
	require.Less(t, time.Since(started), 4*time.Second)
	require.Equal(t, 1, logs.FilterMessage("Download stalled").Len())
}

// TestFetch_SlowHeadersThenSlowFirstChunk gives the body its own stall window after the headers arrive.
func TestFetch_SlowHeadersThenSlowFirstChunk(t *testing.T) {
	t.Parallel()

	const pause = 200 * time.Millisecond

	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(pause)

		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		time.Sleep(pause)

		_, _ = w.Write([]byte("binary"))
	}))
	defer direct.Close()

	ctx, logs := observedContext(t)

	// Each wait fits in the stall window, their sum does not.
	artifact, err := New(WithTimeouts(10*time.Second, 3*pause/2)).Fetch(ctx, direct.URL+"/a.zip", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("binary"), artifact.Data)
	require.Zero(t, logs.FilterMessage("Download stalled").Len())
}

// TestFetch_SpoolsLargeArtifacts writes bodies above the threshold into the temp directory.
func TestFetch_SpoolsLargeArtifacts(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 8192)

	direct := httptest.NewServer(binaryHandler(payload, nil))
	defer direct.Close()

	dir := t.TempDir()
	ctx, _ := observedContext(t)

	artifact, err := New(WithSpoolThreshold(1024, dir)).Fetch(ctx, direct.URL+"/a.zip", nil)
	require.NoError(t, err)
	require.True(t, artifact.Spooled())
	require.Nil(t, artifact.Data)
	require.EqualValues(t, len(payload), artifact.Size)

	stored, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	require.Equal(t, payload, stored)

	require.NoError(t, artifact.Remove())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
