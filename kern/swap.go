package kern

import "runtime"

// Kernel-thread names for the paging daemons. Lookups (descriptor cleanup,
// tests) go by these names, never by pid.
const (
	swapOutName = "swapoutd"
	swapInName  = "swapind"
)

// swapQuotaBase is the quota's start value, standing in for the reserved
// descriptors of the swap service.
const swapQuotaBase = 2

// quotaReserve claims one swap-file slot; false means the open-file quota
// is exhausted and the swap-out daemon should back off.
func (k *Kernel) quotaReserve(c *CPU) bool {
	k.quota.lock.Acquire(c)
	defer k.quota.lock.Release(c)
	if k.quota.files >= NOFILE {
		return false
	}
	k.quota.files++
	return true
}

func (k *Kernel) quotaRelease(c *CPU) {
	k.quota.lock.Acquire(c)
	defer k.quota.lock.Release(c)
	if k.quota.files <= swapQuotaBase {
		panic("kern: swap quota underflow")
	}
	k.quota.files--
}

// SwapFiles reports the number of live swap files.
func (k *Kernel) SwapFiles() int {
	c := extCPU()
	k.quota.lock.Acquire(c)
	defer k.quota.lock.Release(c)
	return k.quota.files - swapQuotaBase
}

// spawnSwapDaemons creates the two paging kernel threads. Runs once, from
// the first process's forkret.
func (k *Kernel) spawnSwapDaemons(p *Proc) {
	daemons := []struct {
		name string
		body Program
	}{
		{swapOutName, func(s *Sys) { k.swapOutDaemon(s) }},
		{swapInName, func(s *Sys) { k.swapInDaemon(s) }},
	}
	for _, d := range daemons {
		np, err := k.allocproc(p.cpu, d.name, d.body)
		if err != nil {
			panic("kern: " + d.name + ": no slot")
		}
		np.kthread = true
		np.parent = k.initproc
		k.ptable.lock.Acquire(p.cpu)
		np.state = StateRunnable
		k.notifyRunnable()
		k.ptable.lock.Release(p.cpu)
	}
}

// allocUserFrame hands out a frame for user memory, requesting eviction and
// retrying whenever the pool is dry.
func (k *Kernel) allocUserFrame(p *Proc) (*Frame, error) {
	for {
		f, err := k.frames.alloc(p.cpu)
		if err == nil {
			return f, nil
		}
		if k.halted.Load() {
			return nil, ErrHalted
		}
		if p.killed {
			return nil, ErrKilled
		}
		if err := k.requestSwapOut(p); err != nil {
			return nil, err
		}
	}
}

// requestSwapOut enqueues the caller on the swap-out queue, pokes the
// daemon, and blocks until the daemon reports an eviction on its behalf.
func (k *Kernel) requestSwapOut(p *Proc) error {
	q := k.outq
	k.ptable.lock.Acquire(p.cpu)
	// Requesters take the table lock first and the queue lock second,
	// opposite to the daemon's order. The backoff keeps the inversion
	// from wedging both sides.
	for !q.lock.TryAcquire(p.cpu) {
		k.ptable.lock.Release(p.cpu)
		runtime.Gosched()
		k.ptable.lock.Acquire(p.cpu)
	}
	p.satisfied = false
	q.push(p)
	k.wakeup1(q.qtok)
	q.lock.Release(p.cpu)
	for !p.satisfied {
		if p.killed {
			k.ptable.lock.Release(p.cpu)
			return ErrKilled
		}
		k.sleep(p, q.rtok, &k.ptable.lock)
	}
	k.ptable.lock.Release(p.cpu)
	return nil
}

// swapOutDaemon serves the swap-out queue: one eviction per queued request,
// yielding and retrying under quota pressure or victim drought.
func (k *Kernel) swapOutDaemon(s *Sys) {
	p := s.p
	q := k.outq
	q.lock.Acquire(p.cpu)
	for {
		for q.empty() {
			if k.halted.Load() {
				q.lock.Release(p.cpu)
				k.yieldProc(p)
				return
			}
			k.ptable.lock.Acquire(p.cpu)
			k.wakeup1(q.rtok)
			k.ptable.lock.Release(p.cpu)
			k.sleep(p, q.qtok, &q.lock)
		}
		req := q.peek()
		k.ptable.lock.Acquire(p.cpu)
		err := k.evictOne(p)
		if err == nil {
			q.pop()
			req.satisfied = true
			k.ptable.lock.Release(p.cpu)
			continue
		}
		// Quota pressure or no victim: wake the requesters so killed
		// ones can bail, then retry after a reschedule.
		k.wakeup1(q.rtok)
		k.ptable.lock.Release(p.cpu)
		q.lock.Release(p.cpu)
		k.yieldProc(p)
		q.lock.Acquire(p.cpu)
	}
}

// victimRef pins one evictable page.
type victimRef struct {
	p   *Proc
	vpn int
	e   *pte
}

// chooseVictim scans every non-kernel, non-RUNNING, non-EMBRYO slot's
// present user pages above page zero, keeping the first candidate seen per
// NRU class; the lowest non-empty class wins. Caller holds the table lock.
func (k *Kernel) chooseVictim() (victimRef, bool) {
	var cand [4]*victimRef
	for i := range k.ptable.proc {
		p := &k.ptable.proc[i]
		switch p.state {
		case StateUnused, StateEmbryo, StateRunning, StateZombie:
			continue
		}
		if p.kthread || p.as == nil {
			continue
		}
		for _, vpn := range p.as.sortedVPNs() {
			if vpn == 0 {
				continue
			}
			e := p.as.walkPTE(vpn)
			if e.flags&pteP == 0 {
				continue
			}
			if idx := nruClass(e.flags); cand[idx] == nil {
				cand[idx] = &victimRef{p: p, vpn: vpn, e: e}
			}
		}
	}
	for _, v := range cand {
		if v != nil {
			return *v, true
		}
	}
	return victimRef{}, false
}

// evictOne runs the eviction protocol for one page. Called with both the
// table lock and the swap-out queue lock held; returns with both held.
//
// The victim is forced SLEEPING on a nil channel before the locks drop for
// the file write, which is the only thing preventing it from running, being
// woken, or being evicted twice while its page is in flight.
func (k *Kernel) evictOne(d *Proc) error {
	c := d.cpu
	if !k.quotaReserve(c) {
		return ErrQuota
	}
	v, ok := k.chooseVictim()
	if !ok {
		k.quotaRelease(c)
		return ErrNoMem
	}

	savedState, savedChan := v.p.state, v.p.chanTok
	v.p.state = StateSleeping
	v.p.chanTok = nil
	v.p.evictTok = savedChan
	v.p.evictWake = false
	frame := v.e.frame
	v.e.frame = nil
	v.e.flags = (v.e.flags &^ (pteP | pteA | pteD)) | pteS
	pid, vpn := v.p.pid, v.vpn

	k.ptable.lock.Release(c)
	k.outq.lock.Release(c)

	err := k.writeSwapPage(d, pid, vpn, frame.data)

	// Reacquired in the opposite order to the requesters; safe because
	// the daemon holds neither lock at this point and the victim cannot
	// race its own eviction.
	k.outq.lock.Acquire(c)
	k.ptable.lock.Acquire(c)

	if err != nil {
		v.e.frame = frame
		v.e.flags = (v.e.flags &^ pteS) | pteP
		k.unparkVictim(v.p, savedState, savedChan)
		k.quotaRelease(c)
		return err
	}

	k.frames.freeFrame(c, frame)
	v.p.as.FlushTLB()
	k.unparkVictim(v.p, savedState, savedChan)
	k.log.Debug().
		Int("pid", pid).
		Int("vpn", vpn).
		Log("swap out")
	return nil
}

// unparkVictim restores an eviction victim's saved (state, channel) pair,
// re-delivering any wakeup or kill that arrived while it was parked. Caller
// holds the table lock.
func (k *Kernel) unparkVictim(p *Proc, savedState ProcState, savedChan any) {
	p.state = savedState
	p.chanTok = savedChan
	p.evictTok = nil
	if savedState == StateSleeping && savedChan != nil && (p.evictWake || p.killed) {
		p.state = StateRunnable
		k.policy.OnWakeup(p)
	}
	p.evictWake = false
	if p.state == StateRunnable {
		k.notifyRunnable()
	}
}

// pageFault handles a fault on a swapped page: record the address, join the
// swap-in queue, and sleep on our pid until the daemon restores the frame.
func (k *Kernel) pageFault(p *Proc, va int) {
	q := k.inq
	q.lock.Acquire(p.cpu)
	p.trapva = va
	q.push(p)
	k.wakeup(p.cpu, q.qtok)
	k.sleep(p, p.pid, &q.lock)
	q.lock.Release(p.cpu)
}

// swapInDaemon drains the swap-in queue, restoring one page per request.
func (k *Kernel) swapInDaemon(s *Sys) {
	p := s.p
	q := k.inq
	q.lock.Acquire(p.cpu)
	for {
		for q.empty() {
			if k.halted.Load() {
				q.lock.Release(p.cpu)
				k.yieldProc(p)
				return
			}
			k.sleep(p, q.qtok, &q.lock)
		}
		req := q.pop()
		q.lock.Release(p.cpu)
		k.swapIn(p, req)
		q.lock.Acquire(p.cpu)
	}
}

// swapIn restores req's faulting page from its swap file, installs it
// present-and-clean, deletes the file, and wakes the requester.
func (k *Kernel) swapIn(d *Proc, req *Proc) {
	vpn := req.trapva / PGSIZE
	f, err := k.allocUserFrame(d)
	if err != nil {
		k.wakeup(d.cpu, req.pid)
		return
	}
	if err := k.readSwapPage(req.pid, vpn, f.data); err != nil {
		k.frames.freeFrame(d.cpu, f)
		k.log.Err().
			Err(err).
			Int("pid", req.pid).
			Int("vpn", vpn).
			Log("swap in")
		k.wakeup(d.cpu, req.pid)
		return
	}
	k.ptable.lock.Acquire(d.cpu)
	if e := req.as.walkPTE(vpn); e != nil && e.flags&pteS != 0 {
		e.frame = f
		e.flags = (e.flags &^ (pteS | pteA | pteD)) | pteP
	} else {
		// The page went away while we read it (exit or shrink raced);
		// the frame goes straight back.
		k.frames.freeFrame(d.cpu, f)
	}
	k.wakeup1(req.pid)
	k.ptable.lock.Release(d.cpu)
	k.unlinkSwapFile(d.cpu, req.pid, vpn)
	k.log.Debug().
		Int("pid", req.pid).
		Int("vpn", vpn).
		Log("swap in")
}

// deleteSwapFiles removes every swap file still named for an exiting
// process and releases the handles held for them by the swap service.
func (k *Kernel) deleteSwapFiles(p *Proc) {
	k.ptable.lock.Acquire(p.cpu)
	var vpns []int
	if p.as != nil {
		for _, vpn := range p.as.sortedVPNs() {
			e := p.as.walkPTE(vpn)
			if e.flags&pteS != 0 {
				e.flags &^= pteS
				vpns = append(vpns, vpn)
			}
		}
	}
	k.ptable.lock.Release(p.cpu)
	for _, vpn := range vpns {
		k.unlinkSwapFile(p.cpu, p.pid, vpn)
	}
}
