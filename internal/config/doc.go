// Package config defines the corekeeper settings and provides helpers to
// load, validate and save them in YAML format.
//
// The Config type also serves as the settings collaborator of the update
// pipeline: mirror list, backup flag and display timezone offset.
package config
