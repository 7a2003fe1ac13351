package kern

// Context is one side of a cooperative context switch: the parking spot for
// a kernel thread (a process's goroutine, or a CPU's scheduler goroutine).
// swtch is the two-stack dance of the classic kernel, rendered as a channel
// handoff: signal the target's gate, then park on your own.
type Context struct {
	gate chan struct{}

	// pcs holds the call stack captured at the last descheduling point,
	// for the console process dump. Written in sched under the
	// process-table lock; read by Dump under the same lock.
	pcs []uintptr
}

func (ctx *Context) init() {
	// Capacity 1 so the handing-off side never blocks waiting for the
	// target to reach its park point.
	ctx.gate = make(chan struct{}, 1)
}

func newContext() *Context {
	ctx := new(Context)
	ctx.init()
	return ctx
}

// swtch transfers control from old to new. The caller parks until something
// switches back into old. Callee-saved state is the goroutine stack itself.
func swtch(old, new *Context) {
	new.gate <- struct{}{}
	<-old.gate
}

// poke wakes whatever is parked on ctx without blocking; used only by
// Shutdown to release parked kernel threads.
func (ctx *Context) poke() {
	select {
	case ctx.gate <- struct{}{}:
	default:
	}
}
