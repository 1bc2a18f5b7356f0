package allocator

import "golang.org/x/exp/constraints"

func alignUp[T constraints.Unsigned](v T) T {
	const mask = Alignment - 1
	return (v + mask) &^ mask
}

func isAligned[T constraints.Unsigned](v T, align T) bool {
	return v&(align-1) == 0
}
