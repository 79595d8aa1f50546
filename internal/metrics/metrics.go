// Package metrics holds the Prometheus collectors of the update pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "corekeeper"

// Result label values.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Source label values.
const (
	SourceDirect   = "direct"
	SourceMirror   = "mirror"
	SourceGitHub   = "github"
	SourceJSDelivr = "jsdelivr"
)

//nolint:gochecknoglobals // Collectors are registered once in the default registry.
var (
	// UpdateTotal counts finished update requests per core and result.
	UpdateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "update_total",
		Help:      "Core update requests by core and result",
	}, []string{"core", "result"})

	// UpdateDuration tracks the duration of the whole update pipeline.
	UpdateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "update_duration_seconds",
		Help:      "Core update duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
	}, []string{"core"})

	// DownloadAttempts counts direct and mirror download attempts.
	DownloadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "download_attempts_total",
		Help:      "Artifact download attempts by source and result",
	}, []string{"source", "result"})

	// DownloadBytes counts accepted artifact bytes.
	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "download_bytes_total",
		Help:      "Bytes of accepted artifacts",
	})

	// ReleaseLookups counts release listing requests per source.
	ReleaseLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "release_lookup_total",
		Help:      "Release listing requests by source and result",
	}, []string{"source", "result"})

	// ProcessRestarts counts soft restarts and spawns.
	ProcessRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "process_restarts_total",
		Help:      "Core process spawns by core",
	}, []string{"core"})
)

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}

	return ResultSuccess
}

// Handler serves the default registry with the samples persisted to textfile added in.
// An empty textfile serves the live registry only.
func Handler(textfile string) http.Handler {
	return promhttp.HandlerFor(Accumulated(textfile, prometheus.DefaultGatherer), promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
