package allocator

import "unsafe"

// Region is a fixed span of memory that a strategy family subdivides into blocks.
// Only offsets into the region are ever stored inside it.
type Region struct {
	data unsafe.Pointer
	size uint32
	buf  []byte
}

// reserveRegion is replaced in tests to simulate reservation failures.
var reserveRegion = mapRegion

func newRegion(buf []byte) *Region {
	return &Region{
		data: unsafe.Pointer(unsafe.SliceData(buf)),
		size: uint32(len(buf)),
		buf:  buf,
	}
}

// heapRegion backs a region with an 8-byte aligned Go buffer.
func heapRegion(size int) *Region {
	words := make([]uint64, (size+7)>>3)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return newRegion(buf)
}

// Size ...
func (r *Region) Size() uint32 {
	return r.size
}

func (r *Region) at(off uint32) unsafe.Pointer {
	return unsafe.Pointer(uintptr(r.data) + uintptr(off))
}

func (r *Region) slice(off uint32, length uint32, capacity uint32) []byte {
	return r.buf[off : off+length : off+capacity]
}

// Contains reports the offset of p when it points inside the region.
func (r *Region) Contains(p unsafe.Pointer) (uint32, bool) {
	start := uintptr(r.data)
	addr := uintptr(p)
	if addr < start || addr >= start+uintptr(r.size) {
		return 0, false
	}
	return uint32(addr - start), true
}
