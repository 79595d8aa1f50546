// Package state tracks which core is active.
//
// The FileRepository detects and rewrites the active core in the init script.
// The Holder owns the in-memory copy shared by the orchestrator and status queries.
package state
