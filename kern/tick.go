package kern

// tickSource is the simulated timer: a monotonic tick counter, a broadcast
// barrier closed once per tick (Sys.Burn waits on it), and the channel token
// that Sys.Sleep blocks on.
type tickSource struct {
	lock    Spinlock
	ticks   uint64
	barrier chan struct{}
	closed  bool
}

func (t *tickSource) init() {
	t.lock.init("time")
	t.barrier = make(chan struct{})
}

// now reads the tick counter.
func (t *tickSource) now(c *CPU) uint64 {
	t.lock.Acquire(c)
	n := t.ticks
	t.lock.Release(c)
	return n
}

// nextBarrier returns the channel that will be closed by the next tick.
func (t *tickSource) nextBarrier(c *CPU) <-chan struct{} {
	t.lock.Acquire(c)
	ch := t.barrier
	t.lock.Release(c)
	return ch
}

// closeBarrier permanently releases barrier waiters; part of Shutdown.
func (t *tickSource) closeBarrier(c *CPU) {
	t.lock.Acquire(c)
	if !t.closed {
		t.closed = true
		close(t.barrier)
	}
	t.lock.Release(c)
}

// tickToken is the channel token for processes blocked in Sys.Sleep.
var tickToken = &chanToken{name: "ticks"}

// Tick is the timer interrupt: advance the clock, update the per-process
// timing statistics, request preemption of any process that has exhausted
// its quantum, and then wake tick sleepers. There is one timer: calls must
// not overlap, but any single goroutine may drive it (tests call it
// directly for deterministic time).
func (k *Kernel) Tick() {
	if k.halted.Load() {
		return
	}
	c := k.irq
	t := &k.tick

	t.lock.Acquire(c)
	if t.closed {
		t.lock.Release(c)
		return
	}
	t.ticks++
	old := t.barrier
	t.barrier = make(chan struct{})
	// Charge the tick before the wakeup, so a process that slept through
	// it is counted as sleeping rather than runnable.
	k.updateStatistics(c)
	// Wake Sys.Sleep blockers while the tick lock pins the counter, the
	// same way the tick interrupt holds tickslock across its wakeup.
	k.wakeup(c, tickToken)
	t.lock.Release(c)
	close(old)
}

// Uptime returns the number of ticks since boot.
func (k *Kernel) Uptime() uint64 {
	return k.tick.now(extCPU())
}

// updateStatistics charges the elapsed tick to every slot according to its
// state, and flags quantum expiry on the running ones.
func (k *Kernel) updateStatistics(c *CPU) {
	k.ptable.lock.Acquire(c)
	for i := range k.ptable.proc {
		p := &k.ptable.proc[i]
		switch p.state {
		case StateSleeping:
			p.stats.Stime++
		case StateRunnable:
			p.stats.Retime++
		case StateRunning:
			p.stats.Rutime++
			p.ticksElapsed++
		}
	}
	if k.policy.Preemptive() {
		for _, cpu := range k.cpus {
			p := cpu.proc
			if p != nil && p.state == StateRunning && !p.kthread && p.ticksElapsed >= k.quantum {
				cpu.preempt.Store(true)
			}
		}
	}
	k.ptable.lock.Release(c)
}
