//go:build !linux

package shm

import rerrors "rtpmidid/internal/errors"

// OpenPOSIX is only implemented on Linux, where the shim runs.
func OpenPOSIX(name string) (Region, error) {
	return nil, rerrors.WrapShm("open", name, rerrors.ErrUnsupported)
}
