package kern

import (
	"fmt"
	"io"
	"runtime"
)

// Dump writes the process list: pid, state, name, and for sleepers the
// saved call-stack program counters from their last descheduling point.
// Wired to Ctrl-P on the console.
func (k *Kernel) Dump(w io.Writer) {
	c := extCPU()
	k.ptable.lock.Acquire(c)
	defer k.ptable.lock.Release(c)
	for i := range k.ptable.proc {
		p := &k.ptable.proc[i]
		if p.state == StateUnused {
			continue
		}
		fmt.Fprintf(w, "%d %s %s", p.pid, p.state, p.name)
		if p.state == StateSleeping && p.context != nil && len(p.context.pcs) > 0 {
			pcs := p.context.pcs
			if len(pcs) > ProcdumpFrames {
				pcs = pcs[:ProcdumpFrames]
			}
			frames := runtime.CallersFrames(pcs)
			for {
				fr, more := frames.Next()
				if fr.PC != 0 {
					fmt.Fprintf(w, " %#x", fr.PC)
				}
				if !more {
					break
				}
			}
		}
		fmt.Fprintln(w)
	}
}
