package kern

import "runtime"

// fork creates a copy of parent running fn: same address-space contents,
// duplicated file handles and cwd, copied trap frame with the syscall
// return register cleared, inherited priority. Returns the child pid.
func (k *Kernel) fork(parent *Proc, fn Program) (int, error) {
	np, err := k.allocproc(parent.cpu, parent.name, fn)
	if err != nil {
		return -1, err
	}

	if err := k.copyuvm(parent, np); err != nil {
		k.abortproc(parent.cpu, np)
		return -1, err
	}

	k.ptable.lock.Acquire(parent.cpu)
	np.sz = parent.sz
	np.parent = parent
	np.tf = parent.tf
	np.tf.RAX = 0 // child sees 0 from fork
	for fd, f := range parent.ofile {
		if f != nil {
			np.ofile[fd] = f.Dup()
		}
	}
	np.cwd = parent.cwd
	np.priority = parent.priority
	pid := np.pid
	np.state = StateRunnable
	k.notifyRunnable()
	k.ptable.lock.Release(parent.cpu)

	k.log.Debug().
		Int("pid", parent.pid).
		Int("child", pid).
		Log("fork")
	return pid, nil
}

// copyuvm clones the parent's user pages into the child, page by page. A
// parent page that is currently swapped out is read straight from its swap
// file, so the child always starts fully resident.
func (k *Kernel) copyuvm(parent, np *Proc) error {
	for _, vpn := range parent.as.sortedVPNs() {
		src := parent.as.walkPTE(vpn)
		if src == nil {
			continue
		}
		f, err := k.allocUserFrame(parent)
		if err != nil {
			return err
		}
		switch {
		case src.flags&pteP != 0:
			// Parent is RUNNING on this CPU, so its frames cannot be
			// evicted out from under the copy.
			copy(f.data, src.frame.data)
		case src.flags&pteS != 0:
			if err := k.readSwapPage(parent.pid, vpn, f.data); err != nil {
				k.frames.freeFrame(parent.cpu, f)
				return err
			}
		}
		k.ptable.lock.Acquire(parent.cpu)
		np.as.mapPage(vpn, f, pteW|pteU)
		k.ptable.lock.Release(parent.cpu)
	}
	return nil
}

// exitProc terminates the calling process: close files, release cwd under
// the FS transaction, clean up leftover swap files, reparent children to
// init, wake the parent, and become a zombie. Never returns.
func (k *Kernel) exitProc(p *Proc) {
	if p == k.initproc {
		panic("kern: init exiting")
	}

	for fd, f := range p.ofile {
		if f != nil {
			_ = f.Close()
			p.ofile[fd] = nil
		}
	}

	k.fs.BeginOp()
	p.cwd = ""
	k.fs.EndOp()

	if !p.kthread {
		k.deleteSwapFiles(p)
	}

	k.ptable.lock.Acquire(p.cpu)

	k.wakeup1(p.parent)

	for i := range k.ptable.proc {
		q := &k.ptable.proc[i]
		if q.parent == p {
			q.parent = k.initproc
			if q.state == StateZombie {
				k.wakeup1(k.initproc)
			}
		}
	}

	p.state = StateZombie
	k.log.Debug().
		Int("pid", p.pid).
		Log("exit")
	k.schedExit(p)
	runtime.Goexit()
}

// wait blocks until a child exits, reaps it, and returns its pid. If stats
// is non-nil the child's timing record is copied out first (wait2).
func (k *Kernel) wait(p *Proc, stats *Stats) (int, error) {
	k.ptable.lock.Acquire(p.cpu)
	for {
		haveKids := false
		for i := range k.ptable.proc {
			q := &k.ptable.proc[i]
			if q.parent != p {
				continue
			}
			haveKids = true
			if q.state == StateZombie {
				pid := q.pid
				if stats != nil {
					*stats = q.stats
				}
				k.freeproc(p.cpu, q)
				k.ptable.lock.Release(p.cpu)
				return pid, nil
			}
		}
		if !haveKids {
			k.ptable.lock.Release(p.cpu)
			return -1, ErrNoChildren
		}
		if p.killed {
			k.ptable.lock.Release(p.cpu)
			return -1, ErrKilled
		}
		// Sleep on our own slot address; exit wakes the parent's slot.
		k.sleep(p, p, &k.ptable.lock)
	}
}

// growproc grows (n > 0) or shrinks (n < 0) the process's address space by
// n bytes, page-rounded. Shrinking over a swapped page unlinks its file.
func (k *Kernel) growproc(p *Proc, n int) error {
	switch {
	case n > 0:
		oldsz, newsz := p.sz, pageRound(p.sz+n)
		for vpn := pageRound(oldsz) / PGSIZE; vpn < newsz/PGSIZE; vpn++ {
			f, err := k.allocUserFrame(p)
			if err != nil {
				k.shrinkTo(p, oldsz)
				return err
			}
			k.ptable.lock.Acquire(p.cpu)
			p.as.mapPage(vpn, f, pteW|pteU)
			p.sz = (vpn + 1) * PGSIZE
			k.ptable.lock.Release(p.cpu)
		}
		k.ptable.lock.Acquire(p.cpu)
		p.sz = newsz
		k.ptable.lock.Release(p.cpu)
	case n < 0:
		newsz := pageRound(p.sz + n)
		if newsz < 0 {
			return ErrBadArg
		}
		k.shrinkTo(p, newsz)
	}
	return nil
}

// shrinkTo releases every page at or above newsz.
func (k *Kernel) shrinkTo(p *Proc, newsz int) {
	k.ptable.lock.Acquire(p.cpu)
	var swapped []int
	for _, vpn := range p.as.sortedVPNs() {
		if vpn < pageRound(newsz)/PGSIZE {
			continue
		}
		e := p.as.walkPTE(vpn)
		if e.flags&pteS != 0 {
			swapped = append(swapped, vpn)
		}
		if f := p.as.unmap(vpn); f != nil {
			k.frames.freeFrame(p.cpu, f)
		}
	}
	p.sz = newsz
	k.ptable.lock.Release(p.cpu)
	for _, vpn := range swapped {
		k.unlinkSwapFile(p.cpu, p.pid, vpn)
	}
}

// setPriority sets the caller's priority; out-of-range is rejected.
func (k *Kernel) setPriority(p *Proc, prio int) error {
	if prio < PrioMin || prio > PrioMax {
		return ErrBadArg
	}
	k.ptable.lock.Acquire(p.cpu)
	p.priority = prio
	k.ptable.lock.Release(p.cpu)
	return nil
}

// decPrio drops p one priority level, clamped at the floor; the DML timer
// path runs it on each expired quantum. Caller holds the table lock.
func decPrio(p *Proc) {
	p.priority = clamp(p.priority-1, PrioMin, PrioMax)
}
