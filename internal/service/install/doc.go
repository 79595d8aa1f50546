// Package install activates extracted core binaries.
//
// The previous binary is backed up under a timestamped name first. The new
// binary replaces the target with an atomic rename; when the rename crosses
// devices the binary is written next to the target and swapped in with
// go-update, so the target is never left half written.
package install
