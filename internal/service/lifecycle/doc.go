// Package lifecycle sequences core updates and control actions.
//
// An update resolves the asset, downloads it, extracts the binary and installs
// it. A core that was running beforehand is stopped through its init script
// before installation and started again afterwards. Every exposed operation
// returns errors, never panics, so the daemon survives any failing request.
package lifecycle
