// Package kern implements the core of a small teaching operating-system
// kernel as a user-space simulation: a multi-CPU cooperative scheduler with
// four selectable policies, channel-token sleep/wakeup, per-process timing
// statistics, and on-demand paging with swap-file eviction.
//
// # Architecture
//
// A [Kernel] owns a fixed-size process table ([NPROC] slots), one scheduler
// goroutine per simulated CPU, a bounded physical frame pool, and two swap
// request queues served by kernel-thread daemons. Context switching between a
// process and its CPU's scheduler is an explicit two-goroutine handoff
// ([Context], swtch); every voluntary descheduling path (yield, sleep, exit)
// funnels through sched, mirroring the classic xv6 structure.
//
// # Execution Model
//
// "User programs" are Go closures of type [Program], executed by a process's
// kernel thread after forkret. The [Sys] handle passed to a program exposes
// the system-call surface (Fork, Exit, Wait, Wait2, Kill, Getpid, Sbrk,
// Sleep, Uptime, SetPrio, Yield, Draw, History) plus helpers that generate
// CPU and memory traffic: [Sys.Burn] consumes whole timer ticks while
// honouring preemption, and [Sys.Peek]/[Sys.Poke] access the simulated
// address space through the page-fault path.
//
// The timer interrupt is [Kernel.Tick]. In production it is driven from a
// clockz ticker ([Config.TickInterval]); tests call it directly for
// deterministic time.
//
// # Locking
//
// The process-table spinlock linearises all state transitions and all
// channel wakeups. It is the only lock that may be held across sched; the
// swap queues and the tick counter have their own locks. Interrupt
// masking is simulated per CPU (pushcli/popcli) and the spinlock panics on
// the usual discipline violations (double acquire, release while not
// holding, interruptible sections under a lock).
//
// # Scheduling Policies
//
// Exactly one policy is selected at kernel init ([Config.Policy]):
//   - [PolicyDefault]: round-robin over the table, timer-preemptive.
//   - [PolicyFCFS]: smallest creation tick first, non-preemptive.
//   - [PolicySML]: static three-level priorities with per-level cursors.
//   - [PolicyDML]: SML selection plus aging on quantum expiry and
//     promotion to the top level on wakeup.
//
// # Paging
//
// When the frame pool runs dry, allocation paths enqueue themselves on the
// swap-out queue and block until the swap-out daemon evicts a victim page
// (simplified NRU over the accessed/dirty PTE bits) into a regular file
// named <pid>_<vpn>.swp. A fault on a swapped page enqueues the faulting
// process on the swap-in queue; the swap-in daemon restores the page and
// unlinks the file. A global file quota bounds the number of concurrent
// swap files and back-pressures the swap-out daemon.
package kern
