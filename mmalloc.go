// Package mmalloc exposes a process-wide allocator with one entry point per
// placement strategy. It logs through zap.L(), following zap.ReplaceGlobals,
// until SetLogger is called. Not safe for concurrent use.
package mmalloc

import (
	"go.uber.org/zap"

	"github.com/QuangTung97/mmalloc/allocator"
)

var (
	defaultAllocator = allocator.New(allocator.Config{Logger: zap.L()})

	globalLogger = zap.L()
	loggerSet    bool
)

// SetLogger replaces the logger of the default allocator. zap.L() is no
// longer consulted afterwards.
func SetLogger(logger *zap.Logger) {
	loggerSet = true
	defaultAllocator.SetLogger(logger)
}

func followGlobalLogger() {
	if loggerSet {
		return
	}
	if l := zap.L(); l != globalLogger {
		globalLogger = l
		defaultAllocator.SetLogger(l)
	}
}

// Default returns the allocator behind the package level functions.
func Default() *allocator.Allocator {
	followGlobalLogger()
	return defaultAllocator
}

// AllocateFirstFit returns nil when no block fits.
func AllocateFirstFit(size int) []byte {
	followGlobalLogger()
	return defaultAllocator.FirstFit(size)
}

// AllocateNextFit ...
func AllocateNextFit(size int) []byte {
	followGlobalLogger()
	return defaultAllocator.NextFit(size)
}

// AllocateBestFit ...
func AllocateBestFit(size int) []byte {
	followGlobalLogger()
	return defaultAllocator.BestFit(size)
}

// AllocateWorstFit ...
func AllocateWorstFit(size int) []byte {
	followGlobalLogger()
	return defaultAllocator.WorstFit(size)
}

// AllocateBuddy ...
func AllocateBuddy(size int) []byte {
	followGlobalLogger()
	return defaultAllocator.Buddy(size)
}

// Deallocate returns b to whichever region it came from. Nil slices and
// pointers the allocator does not own are ignored.
func Deallocate(b []byte) {
	followGlobalLogger()
	defaultAllocator.Free(b)
}
