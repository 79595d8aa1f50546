package cmd

import "errors"

var (
	// errBadLogLevel is returned for unknown log level names.
	errBadLogLevel = errors.New("unknown log level")
	// errConflictingFlags is returned when both --backup and --no-backup are set.
	errConflictingFlags = errors.New("--backup and --no-backup are mutually exclusive")
)
