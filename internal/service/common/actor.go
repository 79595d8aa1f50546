//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"

	"github.com/oshokin/corekeeper/internal/domain/core"
)

// DetectActor gathers host and user information for the activity log.
func DetectActor() (core.Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return core.Actor{}, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return core.Actor{}, fmt.Errorf("current user: %w", err)
	}

	return core.Actor{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}

// ActorOrUnknown returns the detected actor, or a placeholder when detection fails.
func ActorOrUnknown() core.Actor {
	actor, err := DetectActor()
	if err != nil {
		return core.Actor{Hostname: "unknown", Username: "unknown"}
	}

	return actor
}
