package daemon

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/service/lifecycle"
)

// Requests are the lifecycle operations served over HTTP.
type Requests interface {
	ListReleases(ctx context.Context, name string) ([]core.Release, error)
	TriggerUpdate(ctx context.Context, req lifecycle.UpdateRequest) error
	Control(ctx context.Context, action, name string) error
	Status(ctx context.Context) (lifecycle.StatusReport, error)
}

// controlRequest is the body of POST /api/control.
type controlRequest struct {
	Action string `json:"action"`
	Core   string `json:"core"`
}

// api routes requests to the one manager owned by the daemon, so every caller
// shares its release cache, throttling and update locks.
type api struct {
	requests Requests
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/update", a.releases)
	mux.HandleFunc("POST /api/update", a.update)
	mux.HandleFunc("GET /api/control", a.status)
	mux.HandleFunc("POST /api/control", a.control)
}

func (a *api) releases(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "api")

	releases, err := a.requests.ListReleases(ctx, r.URL.Query().Get("core"))

	response := lifecycle.ReleasesResponse{Success: err == nil, Releases: releases}
	if err != nil {
		response.Error = lifecycle.Respond(ctx, "releases", err).Error
	}

	writeJSON(ctx, w, http.StatusOK, response)
}

func (a *api) update(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "api")

	var req lifecycle.UpdateRequest
	if !decode(ctx, w, r, &req) {
		return
	}

	writeJSON(ctx, w, http.StatusOK, lifecycle.Respond(ctx, "update", a.requests.TriggerUpdate(ctx, req)))
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "api")

	report, err := a.requests.Status(ctx)
	if err != nil {
		report.Error = lifecycle.Respond(ctx, "status", err).Error
	}

	writeJSON(ctx, w, http.StatusOK, report)
}

func (a *api) control(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "api")

	var req controlRequest
	if !decode(ctx, w, r, &req) {
		return
	}

	err := a.requests.Control(ctx, req.Action, req.Core)

	writeJSON(ctx, w, http.StatusOK, lifecycle.Respond(ctx, req.Action, err))
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

func decode(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, lifecycle.Respond(ctx, "decode", err))
		return false
	}

	return true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WarnKV(ctx, "Unable to write the response", "error", err)
	}
}
