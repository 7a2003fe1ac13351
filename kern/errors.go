package kern

import "errors"

// Standard errors.
var (
	// ErrNoProc is returned when the process table has no free slot, or a
	// pid lookup fails.
	ErrNoProc = errors.New("kern: no such process")

	// ErrNoMem is returned when the frame pool is exhausted and eviction
	// could not make room.
	ErrNoMem = errors.New("kern: out of memory")

	// ErrNoChildren is returned by wait when the caller has no children.
	ErrNoChildren = errors.New("kern: no children")

	// ErrKilled is returned from blocking operations interrupted by kill.
	ErrKilled = errors.New("kern: killed")

	// ErrBadArg is returned for invalid arguments (out-of-range priority,
	// a shrink below zero, an invalid Config or Boot call).
	ErrBadArg = errors.New("kern: bad argument")

	// ErrSegfault is returned for an access outside the process's address
	// space, or to a page that is neither present nor swapped.
	ErrSegfault = errors.New("kern: segmentation fault")

	// ErrQuota is returned when creating a swap file would exceed the
	// open-file quota. The swap-out daemon treats it as back-pressure,
	// not as a failure.
	ErrQuota = errors.New("kern: swap file quota exceeded")

	// ErrHalted is returned for operations on a kernel that has been shut
	// down.
	ErrHalted = errors.New("kern: kernel halted")
)
