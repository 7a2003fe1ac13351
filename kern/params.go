package kern

// Tunables shared by the whole kernel. These mirror the usual teaching
// values; NPROC and NOFILE are also load-bearing for the swap subsystem
// (queue capacity, file quota ceiling).
const (
	// NPROC is the fixed size of the process table.
	NPROC = 64

	// NOFILE is the per-process open file limit, and the ceiling for the
	// swap file quota.
	NOFILE = 16

	// NCPUMax bounds Config.NCPU.
	NCPUMax = 8

	// PGSIZE is the size of one page / frame / swap file, in bytes.
	PGSIZE = 4096

	// DefaultQuantum is the number of ticks a process runs before the
	// timer forces a yield, unless overridden via Config.Quantum.
	DefaultQuantum = 5

	// DefaultFrames is the physical frame pool size unless overridden.
	DefaultFrames = 256

	// MaxHistory is the capacity of the console command history ring.
	MaxHistory = 16

	// ProcdumpFrames caps the number of saved call-stack program counters
	// printed per sleeping process by Kernel.Dump.
	ProcdumpFrames = 10

	// PrioMin and PrioMax bound process priorities; PrioMax is best.
	PrioMin = 1
	PrioMax = 3

	// DefaultPriority is assigned by allocproc.
	DefaultPriority = 2
)
