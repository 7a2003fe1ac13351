package kern

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/zoobzio/clockz"
)

// Config carries the boot parameters. The zero value is usable; New applies
// the documented defaults.
type Config struct {
	// NCPU is the number of simulated CPUs, in [1, NCPUMax]. Default 1.
	NCPU int

	// Frames is the physical frame pool size. Default DefaultFrames.
	Frames int

	// Policy selects the scheduler. Default PolicyDefault.
	Policy PolicyKind

	// Quantum is the tick budget per dispatch under preemptive policies.
	// Default DefaultQuantum.
	Quantum int

	// Clock is the time source for the built-in ticker. Default
	// clockz.RealClock.
	Clock clockz.Clock

	// TickInterval enables the built-in timer when positive; leave zero
	// to drive Kernel.Tick manually (tests).
	TickInterval time.Duration

	// FS is the file-system collaborator. Default NewMemFS().
	FS FileSystem

	// Logger receives structured kernel logs; nil disables logging.
	Logger *logiface.Logger[logiface.Event]
}

// Option mutates a Config, in the functional options idiom.
type Option func(*Config)

// WithNCPU sets the simulated CPU count.
func WithNCPU(n int) Option { return func(c *Config) { c.NCPU = n } }

// WithFrames sets the physical frame pool size.
func WithFrames(n int) Option { return func(c *Config) { c.Frames = n } }

// WithPolicy selects the scheduling policy.
func WithPolicy(p PolicyKind) Option { return func(c *Config) { c.Policy = p } }

// WithQuantum sets the preemption quantum in ticks.
func WithQuantum(q int) Option { return func(c *Config) { c.Quantum = q } }

// WithClock sets the time source for the built-in ticker.
func WithClock(clk clockz.Clock) Option { return func(c *Config) { c.Clock = clk } }

// WithTickInterval enables the built-in timer.
func WithTickInterval(d time.Duration) Option { return func(c *Config) { c.TickInterval = d } }

// WithFS sets the file-system collaborator.
func WithFS(fs FileSystem) Option { return func(c *Config) { c.FS = fs } }

// WithLogger sets the structured logger.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return func(c *Config) { c.Logger = l }
}

// Kernel is one booted machine: process table, CPUs, timer, frame pool,
// file system, and the paging daemons' queues.
type Kernel struct {
	cfg     Config
	log     *logiface.Logger[logiface.Event]
	policy  Policy
	quantum int

	ptable  procTable
	nextpid int // guarded by ptable.lock

	tick   tickSource
	frames *frameAllocator
	fs     FileSystem

	cpus []*CPU
	irq  *CPU // pseudo-CPU for the timer interrupt context

	initproc *Proc
	bootOnce sync.Once

	outq *swapQueue
	inq  *swapQueue

	quota struct {
		lock  Spinlock
		files int
	}

	history struct {
		lock Spinlock
		buf  [MaxHistory]string
		w, n int
	}

	// runnableCh carries one token per transition to RUNNABLE so idle
	// CPUs rescan the table; buffered so tokens survive the idle window.
	runnableCh chan struct{}
	haltCh     chan struct{}
	halted     atomic.Bool
	cpuWG      sync.WaitGroup
	tickerWG   sync.WaitGroup

	booted bool
}

// New builds a kernel from the options; Boot starts it.
func New(opts ...Option) (*Kernel, error) {
	var cfg Config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.NCPU == 0 {
		cfg.NCPU = 1
	}
	if cfg.NCPU < 1 || cfg.NCPU > NCPUMax {
		return nil, fmt.Errorf("%w: ncpu %d", ErrBadArg, cfg.NCPU)
	}
	if cfg.Frames == 0 {
		cfg.Frames = DefaultFrames
	}
	if cfg.Frames < 1 {
		return nil, fmt.Errorf("%w: frames %d", ErrBadArg, cfg.Frames)
	}
	if cfg.Quantum == 0 {
		cfg.Quantum = DefaultQuantum
	}
	if cfg.Quantum < 1 {
		return nil, fmt.Errorf("%w: quantum %d", ErrBadArg, cfg.Quantum)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}
	if cfg.FS == nil {
		cfg.FS = NewMemFS()
	}
	policy, err := newPolicy(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("%w: policy %q", ErrBadArg, cfg.Policy)
	}

	k := &Kernel{
		cfg:        cfg,
		log:        cfg.Logger,
		policy:     policy,
		quantum:    cfg.Quantum,
		nextpid:    1,
		frames:     newFrameAllocator(cfg.Frames),
		fs:         cfg.FS,
		irq:        extCPU(),
		outq:       newSwapQueue("swapout"),
		inq:        newSwapQueue("swapin"),
		runnableCh: make(chan struct{}, NPROC+NCPUMax),
		haltCh:     make(chan struct{}),
	}
	k.ptable.lock.init("ptable")
	k.tick.init()
	k.quota.lock.init("filelimit")
	k.quota.files = swapQuotaBase
	k.history.lock.init("history")
	for i := 0; i < cfg.NCPU; i++ {
		k.cpus = append(k.cpus, newCPU(i))
	}
	return k, nil
}

// Policy reports the active scheduling policy.
func (k *Kernel) Policy() PolicyKind { return k.policy.Name() }

// Boot creates the init process around initProgram and starts the CPU
// scheduler goroutines (and the built-in ticker, when configured). The
// first dispatch replays the file-system log and spawns the paging daemons.
func (k *Kernel) Boot(initProgram Program) error {
	if k.booted {
		return fmt.Errorf("%w: already booted", ErrBadArg)
	}
	if initProgram == nil {
		return fmt.Errorf("%w: nil init program", ErrBadArg)
	}
	k.booted = true

	c := extCPU()
	p, err := k.allocproc(c, "init", initProgram)
	if err != nil {
		return err
	}
	k.initproc = p
	k.ptable.lock.Acquire(c)
	p.state = StateRunnable
	k.notifyRunnable()
	k.ptable.lock.Release(c)

	for _, cpu := range k.cpus {
		k.cpuWG.Add(1)
		go k.runCPU(cpu)
	}

	if k.cfg.TickInterval > 0 {
		k.tickerWG.Add(1)
		go k.runTicker()
	}

	k.log.Info().
		Int("ncpu", k.cfg.NCPU).
		Int("frames", k.cfg.Frames).
		Str("policy", string(k.policy.Name())).
		Log("boot")
	return nil
}

// runTicker drives Tick from the configured clock until shutdown.
func (k *Kernel) runTicker() {
	defer k.tickerWG.Done()
	for {
		select {
		case <-k.cfg.Clock.After(k.cfg.TickInterval):
			k.Tick()
		case <-k.haltCh:
			return
		}
	}
}

// Shutdown halts the machine: schedulers stop dispatching, parked kernel
// threads are released and unwind, and the call returns once every CPU
// goroutine has exited. Process state is left as-is; the kernel cannot be
// rebooted.
func (k *Kernel) Shutdown() {
	if !k.halted.CompareAndSwap(false, true) {
		return
	}
	close(k.haltCh)
	// Not the irq pseudo-CPU: a ticker mid-Tick may still be using it.
	k.tick.closeBarrier(extCPU())
	k.pokeAll()
	k.cpuWG.Wait()
	k.tickerWG.Wait()
	// Anything that parked between the first round and the schedulers
	// exiting still needs releasing.
	k.pokeAll()
	k.log.Info().
		Log("halt")
}

// pokeAll wakes every parked process kernel thread so it can observe the
// halt and unwind.
func (k *Kernel) pokeAll() {
	c := extCPU()
	k.ptable.lock.Acquire(c)
	var ctxs []*Context
	for i := range k.ptable.proc {
		p := &k.ptable.proc[i]
		if p.state != StateUnused && p.context != nil {
			ctxs = append(ctxs, p.context)
		}
	}
	k.ptable.lock.Release(c)
	for _, ctx := range ctxs {
		ctx.poke()
	}
}
