package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLookup verifies the fixed identity table and unknown names.
func TestLookup(t *testing.T) {
	t.Parallel()

	id, err := Lookup(" XRAY ")
	require.NoError(t, err)
	require.Equal(t, Xray, id.Name)
	require.True(t, id.IsJSONConfig)
	require.Equal(t, "XTLS/Xray-core", id.Repository)

	id, err = Lookup("mihomo")
	require.NoError(t, err)
	require.False(t, id.IsJSONConfig)

	_, err = Lookup("sing-box")
	require.ErrorIs(t, err, ErrUnknownCore)
}

// TestIdentity_Env checks that only xray receives the asset directory.
func TestIdentity_Env(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{
		"XRAY_LOCATION_CONFDIR=/opt/etc/xray/configs",
		"XRAY_LOCATION_ASSET=/opt/etc/xray/dat",
	}, MustLookup(Xray).Env())
	require.Equal(t, []string{"CLASH_HOME_DIR=/opt/etc/mihomo"}, MustLookup(Mihomo).Env())
}

// TestIdentity_Alternate ensures the two cores point at each other.
func TestIdentity_Alternate(t *testing.T) {
	t.Parallel()

	require.Equal(t, Mihomo, MustLookup(Xray).Alternate().Name)
	require.Equal(t, Xray, MustLookup(Mihomo).Alternate().Name)
	require.True(t, MustLookup(Mihomo).SharesInitLog())
	require.False(t, MustLookup(Xray).SharesInitLog())
}

// TestErrorTaxonomy keeps the format and i/o extraction errors under one parent.
func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, ErrMemberNotFound, ErrExtractionFailed)
	require.ErrorIs(t, ErrExtractionIO, ErrExtractionFailed)
	require.NotErrorIs(t, ErrExtractionIO, ErrArchiveFormat)
	require.ErrorIs(t, ErrBackupFailed, ErrInstallFailed)
}

// TestArtifact_Remove deletes spooled files and tolerates in-memory artifacts.
func TestArtifact_Remove(t *testing.T) {
	t.Parallel()

	require.NoError(t, (*Artifact)(nil).Remove())
	require.NoError(t, (&Artifact{Data: []byte("x")}).Remove())

	path := filepath.Join(t.TempDir(), "download.tmp")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	artifact := &Artifact{Path: path, Size: 7}
	require.True(t, artifact.Spooled())
	require.NoError(t, artifact.Remove())
	require.NoError(t, artifact.Remove())

	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}
