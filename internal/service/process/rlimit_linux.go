//go:build linux

package process

import (
	"golang.org/x/sys/unix"
)

func setFDLimit(pid int, limit uint64) error {
	return unix.Prlimit(pid, unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: limit, Max: limit}, nil)
}
