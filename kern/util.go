package kern

import "golang.org/x/exp/constraints"

// clamp bounds v to [lo, hi].
func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// pageRound rounds n up to the next page multiple.
func pageRound(n int) int {
	return (n + PGSIZE - 1) &^ (PGSIZE - 1)
}
