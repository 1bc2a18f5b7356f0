package allocator

import "go.uber.org/zap"

// Segregated carves one region into a chain of variable sized blocks shared by
// first-fit, next-fit, best-fit and worst-fit. Not safe for concurrent use.
type Segregated struct {
	region *Region
	logger *zap.Logger

	freeHead uint32
	cursor   uint32 // next-fit scan start

	index     sizeIndex
	indexed   bool
	unindexed int // free blocks the index could not take
}

// NewSegregated formats the region as a single free block.
func NewSegregated(region *Region, logger *zap.Logger) *Segregated {
	if region.size < headerSize+MinSplitRemainder {
		panic("region too small for a block header")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Segregated{
		region:   region,
		logger:   logger,
		freeHead: nullPtr,
		cursor:   nullPtr,
	}
	s.index.init()

	*s.header(0) = blockHeader{
		magic:    Magic,
		size:     region.size - headerSize,
		prevPhys: nullPtr,
		nextPhys: nullPtr,
		prevFree: nullPtr,
		nextFree: nullPtr,
		free:     1,
	}
	s.pushFree(0)
	s.cursor = s.freeHead
	return s
}

func (s *Segregated) allocateFrom(addr uint32, need uint32) uint32 {
	s.split(addr, need)
	s.header(addr).free = 0
	return addr + headerSize
}

// payloadSize rounds a request up to Alignment. Zero byte requests still get
// Alignment bytes so the returned slice keeps pointing at its block.
func payloadSize(size uint32) uint32 {
	if size == 0 {
		return Alignment
	}
	return alignUp(size)
}

func (s *Segregated) tooLarge(size uint32) bool {
	return size > s.region.size
}

// FirstFit takes the first block on the free list holding at least size bytes.
// It returns the payload offset.
func (s *Segregated) FirstFit(size uint32) (uint32, bool) {
	if s.tooLarge(size) {
		return 0, false
	}
	need := payloadSize(size)

	for addr := s.freeHead; addr != nullPtr; addr = s.header(addr).nextFree {
		if s.header(addr).size >= need {
			s.unlinkFree(addr)
			return s.allocateFrom(addr, need), true
		}
	}
	return 0, false
}

// NextFit scans the free list circularly from the cursor, once. After a hit
// the cursor goes back to the list head.
func (s *Segregated) NextFit(size uint32) (uint32, bool) {
	if s.tooLarge(size) {
		return 0, false
	}
	need := payloadSize(size)

	if s.cursor == nullPtr {
		s.cursor = s.freeHead
	}
	if s.cursor == nullPtr {
		return 0, false
	}

	start := s.cursor
	addr := start
	for {
		h := s.header(addr)
		if h.size >= need {
			s.unlinkFree(addr)
			payload := s.allocateFrom(addr, need)
			s.cursor = s.freeHead
			return payload, true
		}

		addr = h.nextFree
		if addr == nullPtr {
			addr = s.freeHead
		}
		if addr == start {
			return 0, false
		}
	}
}

// BestFit takes the smallest sufficient block, the lowest address among equals.
func (s *Segregated) BestFit(size uint32) (uint32, bool) {
	if s.tooLarge(size) {
		return 0, false
	}
	need := payloadSize(size)

	s.ensureIndexed()
	addr, ok := s.index.bestFit(need)
	if !ok {
		return 0, false
	}
	s.unlinkFree(addr)
	return s.allocateFrom(addr, need), true
}

// WorstFit takes the largest free block when it is sufficient.
func (s *Segregated) WorstFit(size uint32) (uint32, bool) {
	if s.tooLarge(size) {
		return 0, false
	}
	need := payloadSize(size)

	s.ensureIndexed()
	addr, ok := s.index.worstFit(need)
	if !ok {
		return 0, false
	}
	s.unlinkFree(addr)
	return s.allocateFrom(addr, need), true
}

func (s *Segregated) blockOf(payload uint32) (uint32, error) {
	if payload < headerSize || payload > s.region.size || !isAligned(payload, Alignment) {
		return 0, ErrInvalidPointer
	}
	addr := payload - headerSize
	if s.header(addr).magic != Magic {
		return 0, ErrCorruptHeader
	}
	return addr, nil
}

// Free returns the block owning payload, merging it with free neighbours.
func (s *Segregated) Free(payload uint32) error {
	addr, err := s.blockOf(payload)
	if err != nil {
		return err
	}

	h := s.header(addr)
	if h.free != 0 {
		return ErrDoubleFree
	}
	h.free = 1

	merged := s.coalesce(addr)
	s.linkFree(merged)

	m := s.header(merged)
	if s.cursor == nullPtr || s.cursor == addr || s.cursor == merged ||
		s.cursor == m.prevPhys || s.cursor == m.nextPhys {
		s.cursor = s.freeHead
	}
	return nil
}

// Bytes exposes the payload at offset as a slice of length bytes whose
// capacity is the whole block payload.
func (s *Segregated) Bytes(payload uint32, length uint32) []byte {
	h := s.header(payload - headerSize)
	return s.region.slice(payload, length, h.size)
}

// Region ...
func (s *Segregated) Region() *Region {
	return s.region
}

// Blocks lists the physical chain in address order.
func (s *Segregated) Blocks() []BlockInfo {
	var result []BlockInfo
	for addr := uint32(0); addr != nullPtr; addr = s.header(addr).nextPhys {
		h := s.header(addr)
		result = append(result, BlockInfo{
			Offset: addr,
			Size:   h.size,
			Free:   h.free != 0,
		})
	}
	return result
}
