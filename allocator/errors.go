package allocator

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory is returned when no free block can satisfy a request.
	ErrOutOfMemory = errors.New("allocator: out of memory")

	// ErrInvalidSize is returned for negative request sizes.
	ErrInvalidSize = errors.New("allocator: invalid size")

	// ErrInvalidPointer is returned when a freed slice does not point into any region.
	ErrInvalidPointer = errors.New("allocator: pointer not owned by allocator")

	// ErrCorruptHeader is returned when the header before a freed pointer lacks the magic value.
	ErrCorruptHeader = errors.New("allocator: corrupt block header")

	// ErrDoubleFree is returned when the freed block is already free.
	ErrDoubleFree = errors.New("allocator: double free")

	// ErrIndexFull is returned when the size index node pool has no slot left.
	ErrIndexFull = errors.New("allocator: size index pool exhausted")
)
