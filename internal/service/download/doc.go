// Package download fetches release artifacts from the direct source with mirror fallback.
//
// Each attempt is bounded by an overall timeout and a per-chunk stall timeout.
// Small artifacts stay in memory, large ones are spooled into the temp directory.
// Mirror responses that look like error pages are rejected. Every transition is
// logged so retries stay visible in the shared activity log.
package download
