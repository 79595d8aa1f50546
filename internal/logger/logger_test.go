package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"panic":   zapcore.PanicLevel,
		"fatal":   zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestFileCore_AppendsPlainLines checks the activity log line layout and append mode.
func TestFileCore_AppendsPlainLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "log", "error.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("core output\n"), 0o644))

	sink, err := NewFileCore(path, zapcore.InfoLevel)
	require.NoError(t, err)

	l := zap.New(sink).Sugar()
	l.Debug("hidden")
	l.Warnw("Mirror rejected", "mirror", 2)
	require.NoError(t, sink.Close())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "core output\n")
	require.Contains(t, string(contents), "[WARN] Mirror rejected")
	require.Contains(t, string(contents), `"mirror": 2`)
	require.NotContains(t, string(contents), "hidden")
}

// TestContextHelpers ensures loggers travel through the context with their fields.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())
	ctx = WithName(ctx, "update")
	ctx = WithKV(ctx, "core", "xray")

	InfoKV(ctx, "Downloading", "url", "https://example.com")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "update", entries[0].LoggerName)
	require.Equal(t, "xray", entries[0].ContextMap()["core"])
	require.Same(t, Logger(), FromContext(context.Background()))
}
