package allocator

import "unsafe"

// blockHeader precedes every block of the segregated region. All links are
// region offsets, nullPtr when absent.
type blockHeader struct {
	magic    uint32
	size     uint32 // payload bytes, excluding the header
	prevPhys uint32
	nextPhys uint32
	prevFree uint32
	nextFree uint32
	free     uint32
	_        uint32
}

const headerSize = uint32(unsafe.Sizeof(blockHeader{}))

func (s *Segregated) header(addr uint32) *blockHeader {
	return (*blockHeader)(s.region.at(addr))
}

// split shrinks the block at addr to need bytes when the rest can hold a
// header plus MinSplitRemainder. The rest becomes a new free block.
func (s *Segregated) split(addr uint32, need uint32) {
	h := s.header(addr)
	aligned := alignUp(need)
	if h.size < aligned+headerSize+MinSplitRemainder {
		return
	}

	restAddr := addr + headerSize + aligned
	rest := s.header(restAddr)
	*rest = blockHeader{
		magic:    Magic,
		size:     h.size - aligned - headerSize,
		prevPhys: addr,
		nextPhys: h.nextPhys,
		prevFree: nullPtr,
		nextFree: nullPtr,
		free:     1,
	}
	if h.nextPhys != nullPtr {
		s.header(h.nextPhys).prevPhys = restAddr
	}
	h.nextPhys = restAddr
	h.size = aligned

	s.linkFree(restAddr)
}

// mergeRight folds the block at right into its physical predecessor left.
func (s *Segregated) mergeRight(left uint32, right uint32) {
	l := s.header(left)
	r := s.header(right)
	l.size += headerSize + r.size
	l.nextPhys = r.nextPhys
	if r.nextPhys != nullPtr {
		s.header(r.nextPhys).prevPhys = left
	}
}

// coalesce merges the just freed block at addr with its free physical
// neighbours and returns the surviving block. Neighbours leave the free list.
func (s *Segregated) coalesce(addr uint32) uint32 {
	merged := addr

	if prev := s.header(merged).prevPhys; prev != nullPtr && s.header(prev).free != 0 {
		s.unlinkFree(prev)
		s.mergeRight(prev, merged)
		merged = prev
	}

	if next := s.header(merged).nextPhys; next != nullPtr && s.header(next).free != 0 {
		s.unlinkFree(next)
		s.mergeRight(merged, next)
	}

	return merged
}
