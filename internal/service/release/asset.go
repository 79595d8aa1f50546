package release

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"

	"github.com/oshokin/corekeeper/internal/domain/core"
)

const (
	zipExtension  = ".zip"
	gzipExtension = ".gz"
)

// assetPattern describes how a core names its per-architecture archives.
type assetPattern struct {
	extension string
	// versioned assets carry "-<version>" between the base name and the extension.
	versioned bool
	bases     map[string]string
}

//nolint:gochecknoglobals // Fixed naming table of the upstream release assets.
var assetPatterns = map[core.Name]assetPattern{
	core.Xray: {
		extension: zipExtension,
		bases: map[string]string{
			"arm64":  "Xray-linux-arm64-v8a",
			"mips":   "Xray-linux-mips32",
			"mipsle": "Xray-linux-mips32le",
		},
	},
	core.Mihomo: {
		extension: gzipExtension,
		versioned: true,
		bases: map[string]string{
			"arm64":  "mihomo-linux-arm64",
			"mips":   "mihomo-linux-mips-softfloat",
			"mipsle": "mihomo-linux-mipsle-softfloat",
		},
	},
}

// NormalizeVersion adds the leading "v" to bare numeric versions.
func NormalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return ""
	}

	if unicode.IsDigit(rune(version[0])) {
		return "v" + version
	}

	return version
}

// IsPrerelease reports whether the version carries a semver prerelease part.
// Versions that are not semver are treated as stable.
func IsPrerelease(version string) bool {
	parsed, err := semver.NewVersion(NormalizeVersion(version))
	if err != nil {
		return false
	}

	return parsed.Prerelease() != ""
}

// Extension returns the archive extension used by the core.
func Extension(name core.Name) string {
	return assetPatterns[name].extension
}

// AssetName returns the archive file name of the core for the architecture and version.
func AssetName(name core.Name, arch, version string) (string, error) {
	pattern, ok := assetPatterns[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownCore, name)
	}

	base, ok := pattern.bases[arch]
	if !ok {
		return "", fmt.Errorf("%w: %s has no build for %q", core.ErrUnsupportedArchitecture, name, arch)
	}

	version = NormalizeVersion(version)
	if version == "" {
		return "", fmt.Errorf("%w: empty version", core.ErrAssetNotFound)
	}

	if pattern.versioned {
		return base + "-" + version + pattern.extension, nil
	}

	return base + pattern.extension, nil
}

// DownloadURL builds the release-download URL of an asset.
func DownloadURL(downloadBase, repository, version, fileName string) string {
	return fmt.Sprintf("%s/%s/releases/download/%s/%s",
		strings.TrimRight(downloadBase, "/"), repository, NormalizeVersion(version), fileName)
}

// ResolveAsset picks the asset of the core for the architecture.
// Metadata from rel wins when it lists the expected file; otherwise the URL is
// built from the release-download template. rel may be nil.
func ResolveAsset(id core.Identity, arch, version, downloadBase string, rel *core.Release) (core.Asset, error) {
	fileName, err := AssetName(id.Name, arch, version)
	if err != nil {
		return core.Asset{}, err
	}

	if rel != nil {
		for _, asset := range rel.Assets {
			if asset.FileName == fileName && asset.DownloadURL != "" {
				return asset, nil
			}
		}
	}

	return core.Asset{
		FileName:    fileName,
		DownloadURL: DownloadURL(downloadBase, id.Repository, version, fileName),
	}, nil
}
