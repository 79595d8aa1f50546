// Package release discovers published core versions and maps them to downloadable assets.
//
// Listings come from the GitHub releases API and fall back to the jsDelivr
// package metadata when GitHub is unreachable, throttled or returns garbage.
// Asset names follow a fixed per-core, per-architecture table.
package release
