package kern

// PolicyKind selects the scheduling policy at kernel init.
type PolicyKind string

const (
	// PolicyDefault is plain round-robin with timer preemption.
	PolicyDefault PolicyKind = "default"
	// PolicyFCFS dispatches by creation tick and never preempts.
	PolicyFCFS PolicyKind = "fcfs"
	// PolicySML is a static three-level priority scheduler.
	PolicySML PolicyKind = "sml"
	// PolicyDML is SML with aging on quantum expiry and promotion on
	// wakeup.
	PolicyDML PolicyKind = "dml"
)

// Policy is the pluggable next-process selector plus the two transition
// hooks that differ between the multilevel variants. All methods are called
// with the table lock held.
type Policy interface {
	Name() PolicyKind

	// Select picks one RUNNABLE process, or nil.
	Select(pt *procTable) *Proc

	// Preemptive reports whether the timer should force yields.
	Preemptive() bool

	// OnPreempt runs in the timer-forced yield path, before the process
	// goes back to RUNNABLE.
	OnPreempt(p *Proc)

	// OnWakeup runs when a sleeper becomes RUNNABLE.
	OnWakeup(p *Proc)
}

func newPolicy(kind PolicyKind) (Policy, error) {
	switch kind {
	case "", PolicyDefault:
		return new(rrPolicy), nil
	case PolicyFCFS:
		return new(fcfsPolicy), nil
	case PolicySML:
		return new(smlPolicy), nil
	case PolicyDML:
		return new(dmlPolicy), nil
	default:
		return nil, ErrBadArg
	}
}

// rrPolicy dispatches every RUNNABLE slot in table order, one per scheduler
// turn, via a roving cursor.
type rrPolicy struct {
	cursor int
}

func (*rrPolicy) Name() PolicyKind { return PolicyDefault }
func (*rrPolicy) Preemptive() bool { return true }
func (*rrPolicy) OnPreempt(*Proc)  {}
func (*rrPolicy) OnWakeup(*Proc)   {}

func (rr *rrPolicy) Select(pt *procTable) *Proc {
	for i := 0; i < NPROC; i++ {
		p := &pt.proc[(rr.cursor+i)%NPROC]
		if p.state == StateRunnable {
			rr.cursor = (rr.cursor + i + 1) % NPROC
			return p
		}
	}
	return nil
}

// fcfsPolicy picks the RUNNABLE slot with the smallest creation tick,
// tie-broken by slot index; the timer never preempts it.
type fcfsPolicy struct{}

func (fcfsPolicy) Name() PolicyKind { return PolicyFCFS }
func (fcfsPolicy) Preemptive() bool { return false }
func (fcfsPolicy) OnPreempt(*Proc)  {}
func (fcfsPolicy) OnWakeup(*Proc)   {}

func (fcfsPolicy) Select(pt *procTable) *Proc {
	var best *Proc
	for i := range pt.proc {
		p := &pt.proc[i]
		if p.state != StateRunnable {
			continue
		}
		if best == nil || p.stats.Ctime < best.stats.Ctime {
			best = p
		}
	}
	return best
}

// multilevel is the shared selection core of SML and DML: one round-robin
// cursor per priority level, highest level first. A single implementation
// serves both policies; the dynamic behaviour lives entirely in the
// preempt/wakeup hooks.
type multilevel struct {
	// cursors[i] is the next slot to consider for priority i+1.
	cursors [PrioMax]int
}

func (m *multilevel) selectProc(pt *procTable) *Proc {
	for prio := PrioMax; prio >= PrioMin; prio-- {
		cur := &m.cursors[prio-1]
		for i := 0; i < NPROC; i++ {
			p := &pt.proc[(*cur+i)%NPROC]
			if p.state == StateRunnable && p.priority == prio {
				*cur = (*cur + i + 1) % NPROC
				return p
			}
		}
	}
	return nil
}

// smlPolicy: static multilevel. Priorities change only via set_prio.
type smlPolicy struct {
	multilevel
}

func (*smlPolicy) Name() PolicyKind { return PolicySML }
func (*smlPolicy) Preemptive() bool { return true }
func (*smlPolicy) OnPreempt(*Proc)  {}
func (*smlPolicy) OnWakeup(*Proc)   {}

func (s *smlPolicy) Select(pt *procTable) *Proc { return s.selectProc(pt) }

// dmlPolicy: dynamic multilevel. A full quantum costs one priority level
// (floor PrioMin); waking from sleep restores the top level.
type dmlPolicy struct {
	multilevel
}

func (*dmlPolicy) Name() PolicyKind { return PolicyDML }
func (*dmlPolicy) Preemptive() bool { return true }

func (d *dmlPolicy) Select(pt *procTable) *Proc { return d.selectProc(pt) }

func (*dmlPolicy) OnPreempt(p *Proc) {
	decPrio(p)
}

func (*dmlPolicy) OnWakeup(p *Proc) {
	p.priority = PrioMax
}
