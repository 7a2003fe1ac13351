package kern

import "runtime"

// runCPU is the body of one CPU's scheduler goroutine: an endless loop that
// picks the next runnable process and switches into it. The table lock is
// held across the switch; the dispatched process releases it (forkret on
// first dispatch, sched's caller otherwise) and reacquires it before
// switching back.
func (k *Kernel) runCPU(c *CPU) {
	defer k.cpuWG.Done()
	for {
		c.sti()
		if k.halted.Load() {
			return
		}
		k.ptable.lock.Acquire(c)
		p := k.policy.Select(&k.ptable)
		if p != nil {
			c.proc = p
			p.cpu = c
			c.preempt.Store(false)
			switchAddressSpace(c, p.as)
			p.state = StateRunning
			p.ticksElapsed = 0
			swtch(&c.scheduler, p.context)
			// The process has yielded (or exited).
			switchAddressSpace(c, nil)
			c.proc = nil
		}
		k.ptable.lock.Release(c)
		if p == nil {
			select {
			case <-k.runnableCh:
			case <-k.haltCh:
				return
			}
		}
	}
}

// sched cedes the CPU back to its scheduler context. The caller must hold
// the table lock exactly once, hold no other locks, have interrupts
// disabled, and have already moved itself out of RUNNING.
func (k *Kernel) sched(p *Proc) {
	c := p.cpu
	if !k.ptable.lock.Holding(c) {
		panic("kern: sched ptable.lock")
	}
	if c.ncli != 1 {
		panic("kern: sched locks")
	}
	if p.state == StateRunning {
		panic("kern: sched running")
	}
	if c.intsOn {
		panic("kern: sched interruptible")
	}
	intena := c.intena
	p.context.pcs = callers()
	swtch(p.context, &c.scheduler)
	// Resumed, possibly on a different CPU.
	p.cpu.intena = intena
	if k.halted.Load() {
		// A genuine dispatch got us here holding the table lock; hand
		// the CPU back so its scheduler goroutine can unwind too. A
		// shutdown poke leaves neither the lock nor a waiting
		// scheduler behind.
		if c := p.cpu; p.state == StateRunning && k.ptable.lock.Holding(c) {
			c.scheduler.gate <- struct{}{}
		}
		runtime.Goexit()
	}
}

// yieldProc gives up the CPU for one scheduling round.
func (k *Kernel) yieldProc(p *Proc) {
	k.ptable.lock.Acquire(p.cpu)
	p.state = StateRunnable
	k.notifyRunnable()
	k.sched(p)
	k.ptable.lock.Release(p.cpu)
}

// preemptYield is the timer-forced variant; under DML the running process
// pays for its expired quantum with one priority level first.
func (k *Kernel) preemptYield(p *Proc) {
	k.ptable.lock.Acquire(p.cpu)
	k.policy.OnPreempt(p)
	p.state = StateRunnable
	k.notifyRunnable()
	k.sched(p)
	k.ptable.lock.Release(p.cpu)
}

// schedExit is the one-way hand-back used by exit: the zombie signals its
// scheduler and its kernel thread unwinds without ever parking again.
func (k *Kernel) schedExit(p *Proc) {
	c := p.cpu
	if !k.ptable.lock.Holding(c) {
		panic("kern: sched ptable.lock")
	}
	if p.state != StateZombie {
		panic("kern: zombie exit")
	}
	p.context.pcs = callers()
	c.scheduler.gate <- struct{}{}
}

// forkret is where a freshly dispatched process resumes: still holding the
// table lock from the scheduler, it releases it, and the very first process
// additionally replays the file-system log and spawns the paging daemons.
func (k *Kernel) forkret(p *Proc) {
	k.ptable.lock.Release(p.cpu)
	k.bootOnce.Do(func() {
		if err := k.fs.Replay(); err != nil {
			k.log.Err().
				Err(err).
				Log("fs replay")
		}
		k.spawnSwapDaemons(p)
	})
}

// notifyRunnable posts one wake token so an idle CPU rescans the table.
// Caller holds the table lock; the buffered channel keeps tokens across the
// release/park window, so no transition to RUNNABLE is lost.
func (k *Kernel) notifyRunnable() {
	select {
	case k.runnableCh <- struct{}{}:
	default:
	}
}
