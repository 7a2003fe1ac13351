package kern

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSleepSyscall_BlocksForTicks(t *testing.T) {
	done := make(chan struct{})
	var before, after int
	k := bootKernel(t, func(sys *Sys) {
		before = sys.Uptime()
		if rv := sys.Sleep(5); rv != 0 {
			t.Errorf("sleep returned %d", rv)
		}
		after = sys.Uptime()
		close(done)
		initIdle(sys)
	})
	startTicker(t, k)
	await(t, done, 20*time.Second, "sleep syscall")
	if after-before < 5 {
		t.Fatalf("slept %d ticks, want >= 5", after-before)
	}
}

func TestSleepSyscall_NegativeIsRejected(t *testing.T) {
	done := make(chan struct{})
	bootKernel(t, func(sys *Sys) {
		if rv := sys.Sleep(-1); rv != -1 {
			t.Errorf("sleep(-1) = %d, want -1", rv)
		}
		close(done)
		initIdle(sys)
	})
	await(t, done, 10*time.Second, "negative sleep")
}

func TestKillWakesSleeper(t *testing.T) {
	// No ticks at all: the sleeper can only come back because kill forces
	// it runnable.
	done := make(chan struct{})
	var child int
	var rv atomic.Int32
	k := bootKernel(t, func(sys *Sys) {
		child = sys.Fork(func(s *Sys) {
			rv.Store(int32(s.Sleep(1 << 20)))
			s.Exit()
		})
		waitFor(t, 10*time.Second, "child to sleep", func() bool {
			pi, ok := findInfo(sys.k.Snapshot(), child)
			return ok && pi.State == StateSleeping
		})
		if sys.Kill(child) != 0 {
			t.Error("kill failed")
		}
		if got := sys.Wait(); got != child {
			t.Errorf("wait returned %d, want %d", got, child)
		}
		close(done)
		initIdle(sys)
	}, WithNCPU(2))
	await(t, done, 20*time.Second, "kill/wait")
	if rv.Load() != -1 {
		t.Fatalf("interrupted sleep returned %d, want -1", rv.Load())
	}
	_ = k
}

func TestKillUnknownPid(t *testing.T) {
	done := make(chan struct{})
	bootKernel(t, func(sys *Sys) {
		if sys.Kill(9999) != -1 {
			t.Error("kill of a nonexistent pid must fail")
		}
		close(done)
		initIdle(sys)
	})
	await(t, done, 10*time.Second, "kill unknown")
}

func TestNoLostWakeups_SleepStorm(t *testing.T) {
	// Many processes cycling through short sleeps while the timer races
	// them: every one must finish, i.e. no wakeup may be lost.
	const (
		procs  = 8
		rounds = 20
	)
	done := make(chan struct{})
	var completed atomic.Int32
	k := bootKernel(t, func(sys *Sys) {
		for i := 0; i < procs; i++ {
			sys.Fork(func(s *Sys) {
				for j := 0; j < rounds; j++ {
					s.Sleep(1)
				}
				completed.Add(1)
				s.Exit()
			})
		}
		for i := 0; i < procs; i++ {
			sys.Wait()
		}
		close(done)
		initIdle(sys)
	}, WithNCPU(4))
	startTicker(t, k)
	await(t, done, 60*time.Second, "sleep storm")
	if completed.Load() != procs {
		t.Fatalf("completed = %d, want %d", completed.Load(), procs)
	}
}

func TestHostKillSurface(t *testing.T) {
	done := make(chan struct{})
	var child int
	forked := make(chan struct{})
	k := bootKernel(t, func(sys *Sys) {
		child = sys.Fork(func(s *Sys) {
			s.Sleep(1 << 20)
			s.Exit()
		})
		close(forked)
		if got := sys.Wait(); got != child {
			t.Errorf("wait returned %d, want %d", got, child)
		}
		close(done)
		initIdle(sys)
	}, WithNCPU(2))
	await(t, forked, 10*time.Second, "fork")
	waitFor(t, 10*time.Second, "child to sleep", func() bool {
		pi, ok := findInfo(k.Snapshot(), child)
		return ok && pi.State == StateSleeping
	})
	if err := k.Kill(child); err != nil {
		t.Fatal("host kill failed:", err)
	}
	await(t, done, 20*time.Second, "host kill reap")
}
