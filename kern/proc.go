package kern

import "runtime"

// ProcState is one of the six lifecycle states of a process slot.
type ProcState int32

const (
	StateUnused ProcState = iota
	StateEmbryo
	StateSleeping
	StateRunnable
	StateRunning
	StateZombie
)

// String returns the short state name used by the process dump.
func (s ProcState) String() string {
	switch s {
	case StateUnused:
		return "unused"
	case StateEmbryo:
		return "embryo"
	case StateSleeping:
		return "sleep"
	case StateRunnable:
		return "runble"
	case StateRunning:
		return "run"
	case StateZombie:
		return "zombie"
	default:
		return "???"
	}
}

// Stats is the timing record surfaced by Wait2: creation tick plus ticks
// observed in each of the RUNNABLE, RUNNING, and SLEEPING states.
type Stats struct {
	Ctime  uint64
	Retime uint64
	Rutime uint64
	Stime  uint64
}

// TrapFrame is the saved user register file. Only the syscall return
// register matters to the simulation; the rest is carried for the copy
// semantics of fork.
type TrapFrame struct {
	RAX int
	RIP uintptr
	RSP uintptr
}

// Proc is one slot of the fixed-size process table.
//
// All fields are guarded by the process-table lock. Page frame contents are
// the one exception: a RUNNING process reads and writes its own frames
// without the lock, which is safe because eviction never touches the pages
// of a RUNNING process.
type Proc struct {
	pid    int
	name   string
	parent *Proc

	state  ProcState
	killed bool

	// chanTok is the opaque channel token this process sleeps on; non-nil
	// iff state is SLEEPING (except while an eviction briefly parks the
	// victim on a nil channel).
	chanTok any

	priority     int
	ticksElapsed int
	stats        Stats

	sz int // virtual size in bytes, page multiple
	as *AddressSpace

	context *Context
	tf      TrapFrame

	ofile [NOFILE]File
	cwd   string

	// Swap bookkeeping.
	satisfied bool // set by the swap-out daemon when this slot's request completed
	trapva    int  // faulting virtual address captured for swap-in

	// Eviction parking. While one of this process's pages is in flight
	// the victim sleeps on a nil channel; its real channel is stashed in
	// evictTok, and a wakeup arriving for that token in the window sets
	// evictWake so the eviction epilogue can re-deliver it.
	evictTok  any
	evictWake bool

	cpu     *CPU
	kthread bool // kernel thread: never preempted, pages never evicted

	// abortCh releases the parked kernel thread if allocation is rolled
	// back before the first dispatch.
	abortCh chan struct{}

	program Program
}

// Pid returns the process id (0 for a free slot).
func (p *Proc) Pid() int { return p.pid }

// Name returns the short printable name.
func (p *Proc) Name() string { return p.name }

type procTable struct {
	lock Spinlock
	proc [NPROC]Proc
}

// allocproc finds an UNUSED slot and prepares it to run fn: EMBRYO state,
// fresh pid, default priority, zeroed timing counters, a kernel stack (the
// parked goroutine) and a context whose resumed PC is forkret. Returns with
// the table lock released. Any failure rolls the slot back to UNUSED.
func (k *Kernel) allocproc(c *CPU, name string, fn Program) (*Proc, error) {
	// The tick lock always comes before the table lock, so the creation
	// tick is read up front.
	now := k.tick.now(c)

	pt := &k.ptable
	pt.lock.Acquire(c)
	var p *Proc
	for i := range pt.proc {
		if pt.proc[i].state == StateUnused {
			p = &pt.proc[i]
			break
		}
	}
	if p == nil {
		pt.lock.Release(c)
		return nil, ErrNoProc
	}
	p.state = StateEmbryo
	p.pid = k.nextpid
	k.nextpid++

	p.name = name
	p.parent = nil
	p.killed = false
	p.chanTok = nil
	p.satisfied = false
	p.trapva = 0
	p.evictTok = nil
	p.evictWake = false
	p.priority = DefaultPriority
	p.ticksElapsed = 0
	p.stats = Stats{Ctime: now}
	p.sz = 0
	p.as = newAddressSpace()
	p.tf = TrapFrame{}
	p.cwd = "/"
	p.program = fn
	p.kthread = false
	p.context = newContext()
	p.abortCh = make(chan struct{})
	pt.lock.Release(c)

	// The kernel stack: a goroutine parked on the context gate, resuming
	// in forkret when the scheduler first switches into it. The context
	// and abort channel are captured here because a rollback zeroes the
	// slot while the goroutine may still be parked.
	go k.kthreadMain(p, p.context, p.abortCh)

	k.log.Debug().
		Int("pid", p.pid).
		Str("name", name).
		Log("allocproc")
	return p, nil
}

// kthreadMain is the entry of every process kernel thread.
func (k *Kernel) kthreadMain(p *Proc, ctx *Context, abort <-chan struct{}) {
	select {
	case <-abort:
		return
	case <-ctx.gate:
	}
	if k.halted.Load() {
		// If this was a genuine first dispatch racing shutdown, the
		// scheduler is parked waiting for us with the table lock held;
		// hand the CPU straight back.
		if c := p.cpu; c != nil && p.state == StateRunning && k.ptable.lock.Holding(c) {
			c.scheduler.gate <- struct{}{}
		}
		return
	}
	k.forkret(p)
	p.program(&Sys{k: k, p: p})
	// The program returned without calling Exit.
	k.exitProc(p)
}

// abortproc rolls a never-dispatched EMBRYO back to UNUSED, releasing its
// parked kernel thread.
func (k *Kernel) abortproc(c *CPU, p *Proc) {
	close(p.abortCh)
	k.ptable.lock.Acquire(c)
	k.freeproc(c, p)
	k.ptable.lock.Release(c)
}

// freeproc zeroes a slot back to UNUSED, returning its frames to the pool.
// Caller holds the table lock; the slot's kernel thread must already be
// gone (zombie reap or allocation rollback).
func (k *Kernel) freeproc(c *CPU, p *Proc) {
	if p.as != nil {
		for _, vpn := range p.as.sortedVPNs() {
			if f := p.as.unmap(vpn); f != nil {
				k.frames.freeFrame(c, f)
			}
		}
	}
	p.pid = 0
	p.name = ""
	p.parent = nil
	p.state = StateUnused
	p.killed = false
	p.chanTok = nil
	p.abortCh = nil
	p.satisfied = false
	p.trapva = 0
	p.evictTok = nil
	p.evictWake = false
	p.priority = 0
	p.ticksElapsed = 0
	p.stats = Stats{}
	p.sz = 0
	p.as = nil
	p.context = nil
	p.tf = TrapFrame{}
	p.ofile = [NOFILE]File{}
	p.cwd = ""
	p.program = nil
	p.kthread = false
	p.cpu = nil
}

// findByName returns the first non-UNUSED slot with the given name. Caller
// holds the table lock. Daemon lookups go through here rather than by pid.
func (pt *procTable) findByName(name string) *Proc {
	for i := range pt.proc {
		p := &pt.proc[i]
		if p.state != StateUnused && p.name == name {
			return p
		}
	}
	return nil
}

// ProcInfo is a copy of the externally visible fields of a slot.
type ProcInfo struct {
	Pid      int
	Name     string
	State    ProcState
	Priority int
	Killed   bool
	Stats    Stats
	Size     int
}

// Snapshot copies the non-UNUSED slots under the table lock. Test and
// console surface.
func (k *Kernel) Snapshot() []ProcInfo {
	c := extCPU()
	k.ptable.lock.Acquire(c)
	var out []ProcInfo
	for i := range k.ptable.proc {
		p := &k.ptable.proc[i]
		if p.state == StateUnused {
			continue
		}
		out = append(out, ProcInfo{
			Pid:      p.pid,
			Name:     p.name,
			State:    p.state,
			Priority: p.priority,
			Killed:   p.killed,
			Stats:    p.stats,
			Size:     p.sz,
		})
	}
	k.ptable.lock.Release(c)
	return out
}

// callers captures the current call stack for the process dump, skipping the
// runtime frames of the capture itself.
func callers() []uintptr {
	buf := make([]uintptr, ProcdumpFrames)
	n := runtime.Callers(3, buf)
	return buf[:n]
}
