package core

import (
	"fmt"
	"strings"
)

// Name identifies one of the managed cores.
type Name string

const (
	// Xray is the JSON-configured core.
	Xray Name = "xray"
	// Mihomo is the YAML-configured core.
	Mihomo Name = "mihomo"
)

const (
	xrayConfDir   = "/opt/etc/xray/configs"
	xrayAssetDir  = "/opt/etc/xray/dat"
	mihomoConfDir = "/opt/etc/mihomo"
)

// Identity describes a managed core.
type Identity struct {
	// Name is also the executable and process name.
	Name Name
	// ConfDir is the directory the core reads its configuration from.
	ConfDir string
	// AssetDir holds geo databases; only xray uses it.
	AssetDir string
	// IsJSONConfig tells whether the configuration files are JSON (otherwise YAML).
	IsJSONConfig bool
	// Repository is the GitHub owner/name publishing the core releases.
	Repository string
}

//nolint:gochecknoglobals // Fixed lookup table of the two supported cores.
var identities = map[Name]Identity{
	Xray: {
		Name:         Xray,
		ConfDir:      xrayConfDir,
		AssetDir:     xrayAssetDir,
		IsJSONConfig: true,
		Repository:   "XTLS/Xray-core",
	},
	Mihomo: {
		Name:         Mihomo,
		ConfDir:      mihomoConfDir,
		IsJSONConfig: false,
		Repository:   "MetaCubeX/mihomo",
	},
}

// Lookup returns the identity of the named core.
func Lookup(name string) (Identity, error) {
	id, ok := identities[Name(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownCore, name)
	}

	return id, nil
}

// MustLookup is Lookup for the package constants.
func MustLookup(name Name) Identity {
	return identities[name]
}

// All returns both identities in a stable order.
func All() []Identity {
	return []Identity{identities[Xray], identities[Mihomo]}
}

// String returns the name as text.
func (n Name) String() string {
	return string(n)
}

// String returns the core name.
func (i Identity) String() string {
	return string(i.Name)
}

// Alternate returns the other core.
func (i Identity) Alternate() Identity {
	if i.Name == Mihomo {
		return identities[Xray]
	}

	return identities[Mihomo]
}

// Env returns the environment variables the core needs on start.
func (i Identity) Env() []string {
	switch i.Name {
	case Xray:
		return []string{
			"XRAY_LOCATION_CONFDIR=" + i.ConfDir,
			"XRAY_LOCATION_ASSET=" + i.AssetDir,
		}
	default:
		return []string{"CLASH_HOME_DIR=" + i.ConfDir}
	}
}

// SharesInitLog reports whether starting this core through the init script
// must begin with a clean activity log.
func (i Identity) SharesInitLog() bool {
	return i.Name == Mihomo
}

// VersionArgs returns the arguments printing the core version.
func (i Identity) VersionArgs() []string {
	if i.Name == Mihomo {
		return []string{"-v"}
	}

	return []string{"version"}
}
