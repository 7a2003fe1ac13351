package kern

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is a test-and-set mutual exclusion lock with owner-CPU and
// acquisition-site bookkeeping. Acquire disables (simulated) interrupts on
// the acquiring CPU via pushcli before spinning, so lock nesting composes
// with the interrupt discipline; Release re-enables them at the outermost
// popcli.
//
// Every operation takes the caller's *CPU explicitly; there is no ambient
// "current CPU" in the simulation.
type Spinlock struct {
	name string

	locked atomic.Uint32

	// Owner bookkeeping, written only while locked is held.
	cpu *CPU
	pcs [ProcdumpFrames]uintptr
}

func (l *Spinlock) init(name string) { l.name = name }

// Acquire spins until the lock is won. Panics if the calling CPU already
// holds it.
func (l *Spinlock) Acquire(c *CPU) {
	if c == nil {
		panic("kern: acquire: nil cpu")
	}
	c.pushcli()
	if l.Holding(c) {
		panic("kern: acquire: " + l.name)
	}
	for !l.locked.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
	l.cpu = c
	runtime.Callers(2, l.pcs[:])
}

// TryAcquire attempts a single test-and-set. On failure the interrupt state
// is restored and false is returned. Used by the documented inverted-order
// acquisition in the swap-out request path.
func (l *Spinlock) TryAcquire(c *CPU) bool {
	if c == nil {
		panic("kern: tryacquire: nil cpu")
	}
	c.pushcli()
	if l.Holding(c) {
		panic("kern: tryacquire: " + l.name)
	}
	if !l.locked.CompareAndSwap(0, 1) {
		c.popcli()
		return false
	}
	l.cpu = c
	runtime.Callers(2, l.pcs[:])
	return true
}

// Release unlocks. Panics if the calling CPU does not hold the lock.
func (l *Spinlock) Release(c *CPU) {
	if !l.Holding(c) {
		panic("kern: release: " + l.name)
	}
	l.cpu = nil
	for i := range l.pcs {
		l.pcs[i] = 0
	}
	l.locked.Store(0)
	c.popcli()
}

// Holding reports whether the lock is held by the given CPU.
func (l *Spinlock) Holding(c *CPU) bool {
	return l.locked.Load() == 1 && l.cpu == c
}
