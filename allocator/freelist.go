package allocator

import "go.uber.org/zap"

func (s *Segregated) pushFree(addr uint32) {
	h := s.header(addr)
	h.prevFree = nullPtr
	h.nextFree = s.freeHead
	if s.freeHead != nullPtr {
		s.header(s.freeHead).prevFree = addr
	}
	s.freeHead = addr
}

func (s *Segregated) removeFree(addr uint32) {
	h := s.header(addr)
	if s.cursor == addr {
		s.cursor = h.nextFree
	}

	if h.prevFree != nullPtr {
		s.header(h.prevFree).nextFree = h.nextFree
	} else {
		s.freeHead = h.nextFree
	}
	if h.nextFree != nullPtr {
		s.header(h.nextFree).prevFree = h.prevFree
	}
	h.prevFree = nullPtr
	h.nextFree = nullPtr
}

// linkFree puts a free block on the free list and, once built, the size index.
func (s *Segregated) linkFree(addr uint32) {
	s.pushFree(addr)
	if s.indexed {
		s.indexInsert(addr)
	}
}

// unlinkFree must run before the block's size changes: the index is keyed on it.
func (s *Segregated) unlinkFree(addr uint32) {
	s.removeFree(addr)
	if s.indexed {
		s.index.delete(s.header(addr).size, addr)
	}
}

func (s *Segregated) indexInsert(addr uint32) {
	h := s.header(addr)
	if err := s.index.insert(h.size, addr); err != nil {
		s.unindexed++
		s.logger.Warn("free block left out of size index",
			zap.Uint32("offset", addr),
			zap.Uint32("size", h.size),
			zap.Error(err),
		)
	}
}

// ensureIndexed builds the size index from the free list on first use.
func (s *Segregated) ensureIndexed() {
	if s.indexed {
		return
	}
	s.indexed = true
	for addr := s.freeHead; addr != nullPtr; addr = s.header(addr).nextFree {
		s.indexInsert(addr)
	}
}

func (s *Segregated) contentOfList() []uint32 {
	var result []uint32
	for addr := s.freeHead; addr != nullPtr; addr = s.header(addr).nextFree {
		result = append(result, addr)
	}
	return result
}
