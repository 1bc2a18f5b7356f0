//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package allocator

// mapRegion falls back to the Go heap where anonymous mappings are not available.
func mapRegion(size int) (*Region, error) {
	return heapRegion(size), nil
}
