//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectActor(t *testing.T) {
	t.Parallel()

	a, err := DetectActor()
	require.NoError(t, err)
	require.NotEmpty(t, a.Hostname)
	require.NotEmpty(t, a.Username)
	require.Equal(t, a.Username+"@"+a.Hostname, a.String())
}

func TestActorOrUnknownNeverEmpty(t *testing.T) {
	t.Parallel()

	a := ActorOrUnknown()
	require.NotEmpty(t, a.Hostname)
	require.NotEmpty(t, a.Username)
}
