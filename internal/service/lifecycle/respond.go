package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/corekeeper/internal/domain/core"
	"github.com/oshokin/corekeeper/internal/logger"
)

var errPanic = errors.New("internal error")

// Response is the uniform result of a request.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ReleasesResponse carries the release listing.
type ReleasesResponse struct {
	Success  bool           `json:"success"`
	Releases []core.Release `json:"releases,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Respond converts an operation result into a response, logging failures.
func Respond(ctx context.Context, operation string, err error) Response {
	if err == nil {
		return Response{Success: true}
	}

	logger.ErrorKV(ctx, "Request failed", "operation", operation, "error", err)

	return Response{Error: err.Error()}
}

// guard turns a panic in an operation into an error.
func guard(ctx context.Context, operation string, err *error) {
	recovered := recover()
	if recovered == nil {
		return
	}

	logger.ErrorKV(ctx, "Recovered from panic", "operation", operation, "panic", recovered)

	*err = fmt.Errorf("%w: %s: %v", errPanic, operation, recovered)
}
