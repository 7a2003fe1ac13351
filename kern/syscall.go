package kern

import "runtime"

// Program is the body of a user process: a closure run by the process's
// kernel thread, given the system-call surface.
type Program func(*Sys)

// System call numbers, as exposed by the dispatcher.
const (
	SysFork    = 1
	SysExit    = 2
	SysWait    = 3
	SysKill    = 6
	SysGetpid  = 11
	SysSbrk    = 12
	SysSleep   = 13
	SysUptime  = 14
	SysWait2   = 22
	SysSetPrio = 23
	SysYield   = 24
	SysDraw    = 25
	SysHistory = 26
)

var sysNames = map[int]string{
	SysFork:    "fork",
	SysExit:    "exit",
	SysWait:    "wait",
	SysKill:    "kill",
	SysGetpid:  "getpid",
	SysSbrk:    "sbrk",
	SysSleep:   "sleep",
	SysUptime:  "uptime",
	SysWait2:   "wait2",
	SysSetPrio: "set_prio",
	SysYield:   "yield",
	SysDraw:    "draw",
	SysHistory: "history",
}

// Sys is one process's view of the kernel: the system-call surface plus the
// helpers that generate CPU and memory traffic. A Sys is only valid on the
// goroutine of the process it was created for.
type Sys struct {
	k *Kernel
	p *Proc
}

// Invoke dispatches a numbered system call, returning the raw integer
// result (-1 on any error, matching the user-mode ABI). Arguments are
// positional; see the typed methods for the shapes.
func (s *Sys) Invoke(num int, args ...any) int {
	s.trap()
	switch num {
	case SysFork:
		if len(args) == 1 {
			if fn, ok := args[0].(Program); ok {
				return s.Fork(fn)
			}
			if fn, ok := args[0].(func(*Sys)); ok {
				return s.Fork(fn)
			}
		}
	case SysExit:
		s.Exit()
	case SysWait:
		return s.Wait()
	case SysKill:
		if len(args) == 1 {
			if pid, ok := args[0].(int); ok {
				return s.Kill(pid)
			}
		}
	case SysGetpid:
		return s.Getpid()
	case SysSbrk:
		if len(args) == 1 {
			if n, ok := args[0].(int); ok {
				return s.Sbrk(n)
			}
		}
	case SysSleep:
		if len(args) == 1 {
			if n, ok := args[0].(int); ok {
				return s.Sleep(n)
			}
		}
	case SysUptime:
		return s.Uptime()
	case SysWait2:
		if len(args) == 1 {
			if st, ok := args[0].(*Stats); ok {
				return s.Wait2(st)
			}
		}
	case SysSetPrio:
		if len(args) == 1 {
			if prio, ok := args[0].(int); ok {
				return s.SetPrio(prio)
			}
		}
	case SysYield:
		s.Yield()
		return 0
	case SysDraw:
		if len(args) == 1 {
			if buf, ok := args[0].([]byte); ok {
				return s.Draw(buf)
			}
		}
	case SysHistory:
		if len(args) == 2 {
			buf, ok1 := args[0].([]byte)
			id, ok2 := args[1].(int)
			if ok1 && ok2 {
				return s.History(buf, id)
			}
		}
	default:
		s.k.log.Warning().
			Int("num", num).
			Int("pid", s.p.pid).
			Log("unknown syscall")
	}
	return -1
}

// trap is the return-to-user check run at every syscall boundary and tick
// consumed by Burn: honour kill, then any pending timer preemption.
func (s *Sys) trap() {
	p := s.p
	if s.k.halted.Load() {
		s.k.yieldProc(p)
		runtime.Goexit()
	}
	if p.killed {
		s.k.exitProc(p)
	}
	if p.cpu.preempt.CompareAndSwap(true, false) {
		s.k.preemptYield(p)
	}
}

// Fork spawns a child running fn and returns its pid, or -1.
func (s *Sys) Fork(fn Program) int {
	s.trap()
	pid, err := s.k.fork(s.p, fn)
	if err != nil {
		return -1
	}
	s.p.tf.RAX = pid
	return pid
}

// Exit terminates the calling process. Never returns.
func (s *Sys) Exit() {
	s.k.exitProc(s.p)
}

// Wait blocks for a child to exit and returns its pid, or -1 if the caller
// has no children or was killed.
func (s *Sys) Wait() int {
	s.trap()
	pid, err := s.k.wait(s.p, nil)
	if err != nil {
		return -1
	}
	return pid
}

// Wait2 is Wait plus the reaped child's timing statistics.
func (s *Sys) Wait2(st *Stats) int {
	s.trap()
	if st == nil {
		return -1
	}
	pid, err := s.k.wait(s.p, st)
	if err != nil {
		return -1
	}
	return pid
}

// Kill marks pid for termination.
func (s *Sys) Kill(pid int) int {
	s.trap()
	if err := s.k.kill(s.p.cpu, pid); err != nil {
		return -1
	}
	return 0
}

// Getpid returns the caller's pid.
func (s *Sys) Getpid() int {
	s.trap()
	return s.p.pid
}

// Sbrk grows or shrinks the address space by n bytes, returning the old
// size, or -1.
func (s *Sys) Sbrk(n int) int {
	s.trap()
	old := s.p.sz
	if err := s.k.growproc(s.p, n); err != nil {
		return -1
	}
	return old
}

// Sleep blocks for at least n ticks; -1 if n is negative or the caller is
// killed while waiting.
func (s *Sys) Sleep(n int) int {
	s.trap()
	if n < 0 {
		return -1
	}
	p := s.p
	t := &s.k.tick
	t.lock.Acquire(p.cpu)
	start := t.ticks
	for t.ticks-start < uint64(n) {
		if p.killed {
			t.lock.Release(p.cpu)
			return -1
		}
		s.k.sleep(p, tickToken, &t.lock)
	}
	t.lock.Release(p.cpu)
	s.trap()
	return 0
}

// Uptime returns the tick count.
func (s *Sys) Uptime() int {
	s.trap()
	return int(s.k.tick.now(s.p.cpu))
}

// SetPrio sets the caller's priority to prio in [PrioMin, PrioMax];
// non-zero on out-of-range.
func (s *Sys) SetPrio(prio int) int {
	s.trap()
	if err := s.k.setPriority(s.p, prio); err != nil {
		return -1
	}
	return 0
}

// Yield voluntarily gives up the CPU for one scheduling round.
func (s *Sys) Yield() {
	s.trap()
	s.k.yieldProc(s.p)
}

// Burn consumes n whole timer ticks of CPU time, checking for kill and
// preemption after each.
func (s *Sys) Burn(n int) {
	for i := 0; i < n; i++ {
		<-s.k.tick.nextBarrier(s.p.cpu)
		s.trap()
	}
}

// Peek reads one byte of user memory through the fault path.
func (s *Sys) Peek(va int) (byte, error) {
	return s.access(va, false, 0)
}

// Poke writes one byte of user memory through the fault path.
func (s *Sys) Poke(va int, b byte) error {
	_, err := s.access(va, true, b)
	return err
}

// access walks the page table for va, faulting the page in if it is
// swapped, and performs the byte access with the accessed/dirty bits set.
func (s *Sys) access(va int, write bool, val byte) (byte, error) {
	s.trap()
	p := s.p
	if va < 0 || va >= p.sz {
		return 0, ErrSegfault
	}
	vpn := va / PGSIZE
	for {
		k := s.k
		k.ptable.lock.Acquire(p.cpu)
		e := p.as.walkPTE(vpn)
		if e != nil && e.flags&pteP != 0 {
			e.flags |= pteA
			if write {
				e.flags |= pteD
			}
			frame := e.frame
			k.ptable.lock.Release(p.cpu)
			// We stay RUNNING until the access completes, so the
			// frame cannot be evicted underneath us.
			if write {
				frame.data[va%PGSIZE] = val
				return val, nil
			}
			return frame.data[va%PGSIZE], nil
		}
		swapped := e != nil && e.flags&pteS != 0
		k.ptable.lock.Release(p.cpu)
		if !swapped {
			return 0, ErrSegfault
		}
		k.pageFault(p, va)
		s.trap()
	}
}
