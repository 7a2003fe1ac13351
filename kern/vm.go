package kern

import (
	"sort"

	"golang.org/x/exp/maps"
)

// PTE flag bits. The accessed and dirty bits mirror the x86 layout; bit 7 of
// the low flags is repurposed as the "swapped" marker, valid only while the
// present bit is clear.
const (
	pteP uint8 = 1 << 0 // present
	pteW uint8 = 1 << 1 // writable
	pteU uint8 = 1 << 2 // user
	pteA uint8 = 1 << 5 // accessed
	pteD uint8 = 1 << 6 // dirty
	pteS uint8 = 1 << 7 // swapped out
)

// Frame is one page of simulated physical memory.
type Frame struct {
	data []byte
}

// frameAllocator is the bounded physical page pool. It is a leaf lock:
// nothing is acquired while holding it.
type frameAllocator struct {
	lock  Spinlock
	free  []*Frame
	total int
}

func newFrameAllocator(n int) *frameAllocator {
	a := &frameAllocator{total: n}
	a.lock.init("frames")
	backing := make([]byte, n*PGSIZE)
	a.free = make([]*Frame, 0, n)
	for i := 0; i < n; i++ {
		a.free = append(a.free, &Frame{data: backing[i*PGSIZE : (i+1)*PGSIZE : (i+1)*PGSIZE]})
	}
	return a
}

// alloc hands out a zeroed frame, or ErrNoMem when the pool is dry.
func (a *frameAllocator) alloc(c *CPU) (*Frame, error) {
	a.lock.Acquire(c)
	if len(a.free) == 0 {
		a.lock.Release(c)
		return nil, ErrNoMem
	}
	f := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.lock.Release(c)
	for i := range f.data {
		f.data[i] = 0
	}
	return f, nil
}

func (a *frameAllocator) freeFrame(c *CPU, f *Frame) {
	if f == nil {
		panic("kern: free_frame: nil")
	}
	a.lock.Acquire(c)
	a.free = append(a.free, f)
	a.lock.Release(c)
}

// available reports the current free-frame count.
func (a *frameAllocator) available(c *CPU) int {
	a.lock.Acquire(c)
	n := len(a.free)
	a.lock.Release(c)
	return n
}

// pte is one page-table entry. frame is non-nil iff pteP is set.
type pte struct {
	flags uint8
	frame *Frame
}

// AddressSpace is a process's page table: a sparse map from virtual page
// number to entry. Structural mutation (map, unmap, flag rewrites for the
// swap protocol) happens under the process-table lock; the owning process
// may set its own accessed/dirty bits without the lock while RUNNING, which
// is safe because eviction never touches the pages of a RUNNING process.
type AddressSpace struct {
	pages map[int]*pte

	// generation is bumped by FlushTLB; translations cached before the
	// bump are invalid.
	generation uint64
}

func newAddressSpace() *AddressSpace {
	return &AddressSpace{pages: make(map[int]*pte)}
}

// walkPTE returns the entry for vpn, or nil if none was ever mapped.
func (as *AddressSpace) walkPTE(vpn int) *pte {
	return as.pages[vpn]
}

// mapPage installs frame at vpn with the given flags (pteP is implied).
func (as *AddressSpace) mapPage(vpn int, f *Frame, flags uint8) {
	as.pages[vpn] = &pte{flags: flags | pteP, frame: f}
}

// unmap removes the entry for vpn and returns the frame that was installed,
// if any.
func (as *AddressSpace) unmap(vpn int) *Frame {
	e := as.pages[vpn]
	if e == nil {
		return nil
	}
	delete(as.pages, vpn)
	if e.flags&pteP != 0 {
		return e.frame
	}
	return nil
}

// switchAddressSpace points the CPU's translation root at as; nil reverts
// to the kernel-only address space.
func switchAddressSpace(c *CPU, as *AddressSpace) {
	c.as = as
}

// FlushTLB invalidates any translations cached against this address space.
func (as *AddressSpace) FlushTLB() {
	as.generation++
}

// sortedVPNs returns the mapped virtual page numbers in ascending order, so
// table scans are deterministic.
func (as *AddressSpace) sortedVPNs() []int {
	vpns := maps.Keys(as.pages)
	sort.Ints(vpns)
	return vpns
}

// nruClass maps the (accessed, dirty) bits to the 4-way replacement class;
// lower is evicted first. The middle two classes are deliberately inverted
// so that accessed-but-clean pages outrank not-accessed-but-dirty ones.
func nruClass(flags uint8) int {
	accessed := flags&pteA != 0
	dirty := flags&pteD != 0
	switch {
	case !accessed && !dirty:
		return 0
	case !accessed && dirty:
		return 3
	case accessed && !dirty:
		return 2
	default:
		return 1
	}
}
