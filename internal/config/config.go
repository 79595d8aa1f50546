package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon settings shared by every corekeeper command.
type Config struct {
	// InstallDir holds the active core binaries.
	InstallDir string `yaml:"install_dir"`
	// BackupDir receives timestamped copies of replaced binaries.
	BackupDir string `yaml:"backup_dir"`
	// TempDir is the working area for downloads and extraction.
	TempDir string `yaml:"temp_dir"`
	// ErrorLog is the shared activity log, also used for core stdout/stderr.
	ErrorLog string `yaml:"error_log"`
	// InitScripts lists candidate init scripts in order of preference.
	InitScripts []string `yaml:"init_scripts"`
	// Proxies are mirror base URLs tried after the direct download.
	Proxies []string `yaml:"github_proxy"`
	// BackupCore enables binary backups before installation.
	BackupCore bool `yaml:"backup_core"`
	// Timezone is the display offset in hours used for backup names.
	Timezone int `yaml:"timezone_offset"`
	// Arch overrides the detected CPU architecture.
	Arch string `yaml:"arch,omitempty"`
	// CoreGroupID is the group the cores are started with; 0 keeps the daemon's group.
	CoreGroupID int `yaml:"core_gid"`
	// ExtractWorkers bounds concurrent archive extractions.
	ExtractWorkers int `yaml:"extract_workers"`
	// MetricsAddress is where `serve` exposes the request API and /metrics; empty disables both.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// MetricsTextfile accumulates the samples of short-lived commands for `serve`
	// or a node_exporter textfile collector; empty disables it.
	MetricsTextfile string `yaml:"metrics_textfile,omitempty"`
	// LogLevel is the minimum level written to the console and activity log.
	LogLevel string `yaml:"log_level"`
	// Endpoints are the remote release and download locations.
	Endpoints Endpoints `yaml:"endpoints"`
	// Download tunes the mirrored downloader.
	Download Download `yaml:"download"`
	// Release tunes the release resolver.
	Release Release `yaml:"release"`
}

// Endpoints are the base URLs of the remote sources.
type Endpoints struct {
	GitHubAPI      string `yaml:"github_api"`
	JSDelivrAPI    string `yaml:"jsdelivr_api"`
	GitHubDownload string `yaml:"github_download"`
}

// Download configures artifact fetching.
type Download struct {
	// Timeout bounds a single download attempt.
	Timeout time.Duration `yaml:"timeout"`
	// StallTimeout bounds the wait for the next chunk.
	StallTimeout time.Duration `yaml:"stall_timeout"`
	// SpoolThreshold is the size above which artifacts are kept on disk.
	SpoolThreshold int64 `yaml:"spool_threshold"`
	// MinMirrorSize is the smallest mirror response accepted as an artifact.
	MinMirrorSize int64 `yaml:"min_mirror_size"`
}

// Release configures release discovery.
type Release struct {
	Timeout      time.Duration `yaml:"timeout"`
	RateInterval time.Duration `yaml:"rate_interval"`
	RateBurst    int           `yaml:"rate_burst"`
}

const (
	// DefaultConfigFilename is the default settings location.
	DefaultConfigFilename = "/opt/etc/corekeeper/corekeeper.yaml"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultCoreGroupID is the group the router firewall rules match core traffic by.
	DefaultCoreGroupID = 11111

	// DefaultTimezone is the display offset used when nothing is configured.
	DefaultTimezone = 3

	minTimezone = -12
	maxTimezone = 14

	defaultExtractWorkers = 2
	defaultDownloadTime   = 120 * time.Second
	defaultStallTimeout   = 15 * time.Second
	defaultSpoolThreshold = 50 << 20
	defaultMinMirrorSize  = 1 << 20
	defaultReleaseTimeout = 10 * time.Second
	defaultRateInterval   = time.Minute
	defaultRateBurst      = 5
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errBadTimezone is returned for offsets outside of the real-world range.
	errBadTimezone = errors.New("timezone offset out of range")
	// errInstallDirRequired is returned when the install directory is empty.
	errInstallDirRequired = errors.New("install directory must be provided")
)

// Default returns the settings used on a router without a config file.
func Default() *Config {
	return &Config{
		InstallDir:  "/opt/sbin",
		BackupDir:   "/opt/sbin/core-backup",
		TempDir:     "/opt/tmp",
		ErrorLog:    "/opt/var/log/xray/error.log",
		InitScripts: []string{"/opt/etc/init.d/S24xray", "/opt/etc/init.d/S99xkeen"},
		Proxies: []string{
			"https://gh-proxy.com",
			"https://ghfast.top",
		},
		BackupCore:      true,
		Timezone:        DefaultTimezone,
		CoreGroupID:     DefaultCoreGroupID,
		ExtractWorkers:  defaultExtractWorkers,
		LogLevel:        "info",
		MetricsTextfile: "/opt/var/lib/corekeeper/corekeeper.prom",
		Endpoints: Endpoints{
			GitHubAPI:      "https://api.github.com",
			JSDelivrAPI:    "https://data.jsdelivr.com",
			GitHubDownload: "https://github.com",
		},
		Download: Download{
			Timeout:        defaultDownloadTime,
			StallTimeout:   defaultStallTimeout,
			SpoolThreshold: defaultSpoolThreshold,
			MinMirrorSize:  defaultMinMirrorSize,
		},
		Release: Release{
			Timeout:      defaultReleaseTimeout,
			RateInterval: defaultRateInterval,
			RateBurst:    defaultRateBurst,
		},
	}
}

// Load reads configuration from the provided path and validates it.
// A missing file is not an error: the defaults are returned instead.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	// Restrict permissions.
	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the settings, fills zero values with defaults
// and normalizes the mirror list.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(cfg.InstallDir) == "" {
		return errInstallDirRequired
	}

	if cfg.Timezone < minTimezone || cfg.Timezone > maxTimezone {
		return fmt.Errorf("%w: %d", errBadTimezone, cfg.Timezone)
	}

	defaults := Default()

	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(cfg.InstallDir, "core-backup")
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = defaults.ExtractWorkers
	}

	fillEndpoints(&cfg.Endpoints, defaults.Endpoints)
	fillDownload(&cfg.Download, defaults.Download)
	fillRelease(&cfg.Release, defaults.Release)

	for _, endpoint := range []string{cfg.Endpoints.GitHubAPI, cfg.Endpoints.JSDelivrAPI, cfg.Endpoints.GitHubDownload} {
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
		}
	}

	cfg.Proxies = NormalizeProxies(cfg.Proxies)

	return nil
}

// NormalizeProxies trims mirror entries, drops empty ones and adds https:// where the scheme is missing.
func NormalizeProxies(proxies []string) []string {
	result := make([]string, 0, len(proxies))

	for _, proxy := range proxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		if !strings.HasPrefix(proxy, "http://") && !strings.HasPrefix(proxy, "https://") {
			proxy = "https://" + strings.TrimPrefix(proxy, "://")
		}

		result = append(result, strings.TrimRight(proxy, "/"))
	}

	return result
}

// Mirrors returns the configured mirror base URLs.
func (c *Config) Mirrors() []string {
	return append([]string(nil), c.Proxies...)
}

// BackupEnabled reports whether binaries are backed up by default.
func (c *Config) BackupEnabled() bool {
	return c.BackupCore
}

// TimezoneOffset returns the display offset in hours.
func (c *Config) TimezoneOffset() int {
	return c.Timezone
}

// Architecture returns the configured CPU architecture in GOARCH terms.
func (c *Config) Architecture() string {
	if c.Arch == "" {
		return runtime.GOARCH
	}

	switch arch := strings.ToLower(strings.TrimSpace(c.Arch)); arch {
	case "aarch64", "armv8":
		return "arm64"
	case "x86_64":
		return "amd64"
	case "mipsel":
		return "mipsle"
	default:
		return arch
	}
}

func fillEndpoints(e *Endpoints, defaults Endpoints) {
	if e.GitHubAPI == "" {
		e.GitHubAPI = defaults.GitHubAPI
	}

	if e.JSDelivrAPI == "" {
		e.JSDelivrAPI = defaults.JSDelivrAPI
	}

	if e.GitHubDownload == "" {
		e.GitHubDownload = defaults.GitHubDownload
	}
}

func fillDownload(d *Download, defaults Download) {
	if d.Timeout <= 0 {
		d.Timeout = defaults.Timeout
	}

	if d.StallTimeout <= 0 {
		d.StallTimeout = defaults.StallTimeout
	}

	if d.SpoolThreshold <= 0 {
		d.SpoolThreshold = defaults.SpoolThreshold
	}

	if d.MinMirrorSize < 0 {
		d.MinMirrorSize = defaults.MinMirrorSize
	}
}

func fillRelease(r *Release, defaults Release) {
	if r.Timeout <= 0 {
		r.Timeout = defaults.Timeout
	}

	if r.RateInterval <= 0 {
		r.RateInterval = defaults.RateInterval
	}

	if r.RateBurst <= 0 {
		r.RateBurst = defaults.RateBurst
	}
}
