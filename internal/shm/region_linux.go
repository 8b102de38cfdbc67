//go:build linux

package shm

import (
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	rerrors "rtpmidid/internal/errors"
)

// shmDir is where glibc's shm_open places named segments.
const shmDir = "/dev/shm"

type posixRegion struct {
	name string
	mem  []byte
}

// OpenPOSIX creates (if absent) and maps the named segment, the same
// object shm_open(name, O_CREAT|O_RDWR, 0666) yields.  The segment is
// made world read/write regardless of umask so the shim can map it.
func OpenPOSIX(name string) (Region, error) {
	path := filepath.Join(shmDir, strings.TrimPrefix(name, "/"))

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOFOLLOW, 0o666)
	if err != nil {
		return nil, rerrors.WrapShm("open", name, err)
	}
	defer unix.Close(fd) //nolint:errcheck // mapping outlives the descriptor

	if err := unix.Fchmod(fd, 0o666); err != nil {
		return nil, rerrors.WrapShm("chmod", name, err)
	}
	if err := unix.Ftruncate(fd, RegionSize); err != nil {
		return nil, rerrors.WrapShm("truncate", name, err)
	}
	mem, err := unix.Mmap(fd, 0, RegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, rerrors.WrapShm("mmap", name, err)
	}
	return &posixRegion{name: name, mem: mem}, nil
}

func (r *posixRegion) Bytes() []byte { return r.mem }

func (r *posixRegion) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if err != nil {
		return rerrors.WrapShm("munmap", r.name, err)
	}
	return nil
}
