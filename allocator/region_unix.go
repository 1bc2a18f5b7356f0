//go:build linux || darwin || freebsd || netbsd || openbsd

package allocator

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mapRegion reserves an anonymous private mapping. The mapping is never unmapped.
func mapRegion(size int) (*Region, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "allocator: mmap %d bytes", size)
	}
	return newRegion(buf), nil
}
