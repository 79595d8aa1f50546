//go:build !linux

package process

import (
	"errors"
)

var errPrlimitUnsupported = errors.New("per-process limits are only supported on linux")

func setFDLimit(int, uint64) error {
	return errPrlimitUnsupported
}
