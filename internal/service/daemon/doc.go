// Package daemon runs corekeeper as a long-lived service.
//
// It detects the active core on boot, follows init script edits made by other
// tools and exposes Prometheus metrics and a health probe.
package daemon
