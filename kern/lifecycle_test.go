package kern

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestReparentToInit(t *testing.T) {
	// A parent that exits before its child leaves the orphan to init.
	done := make(chan struct{})
	var grandchild atomic.Int32
	k := bootKernel(t, func(sys *Sys) {
		mid := sys.Fork(func(s *Sys) {
			pid := s.Fork(func(g *Sys) {
				g.Sleep(3)
				g.Exit()
			})
			grandchild.Store(int32(pid))
			s.Exit() // orphans the grandchild
		})
		if got := sys.Wait(); got != mid {
			t.Errorf("wait returned %d, want middle child %d", got, mid)
		}
		// The orphan is now init's child; the next wait reaps it.
		if got := sys.Wait(); int32(got) != grandchild.Load() {
			t.Errorf("wait returned %d, want reparented grandchild %d", got, grandchild.Load())
		}
		close(done)
		initIdle(sys)
	}, WithNCPU(2))
	startTicker(t, k)
	await(t, done, 30*time.Second, "reparent")
}

func TestSbrkGrowAndShrink(t *testing.T) {
	done := make(chan struct{})
	bootKernel(t, func(sys *Sys) {
		if old := sys.Sbrk(3 * PGSIZE); old != 0 {
			t.Errorf("first sbrk returned %d, want 0", old)
		}
		for pg := 0; pg < 3; pg++ {
			if err := sys.Poke(pg*PGSIZE+7, byte(pg+1)); err != nil {
				t.Errorf("poke page %d: %v", pg, err)
			}
		}
		for pg := 0; pg < 3; pg++ {
			b, err := sys.Peek(pg*PGSIZE + 7)
			if err != nil || b != byte(pg+1) {
				t.Errorf("peek page %d = %d, %v", pg, b, err)
			}
		}

		if old := sys.Sbrk(-2 * PGSIZE); old != 3*PGSIZE {
			t.Errorf("shrink returned %d, want %d", old, 3*PGSIZE)
		}
		if _, err := sys.Peek(PGSIZE + 7); err == nil {
			t.Error("peek past the shrunk size must fail")
		}
		if b, err := sys.Peek(7); err != nil || b != 1 {
			t.Errorf("peek surviving page = %d, %v", b, err)
		}

		if _, err := sys.Peek(-1); err == nil {
			t.Error("negative address must fault")
		}
		close(done)
		initIdle(sys)
	})
	await(t, done, 10*time.Second, "sbrk")
}

func TestSetPrioValidation(t *testing.T) {
	done := make(chan struct{})
	bootKernel(t, func(sys *Sys) {
		for _, bad := range []int{0, 4, -1, 99} {
			if sys.SetPrio(bad) == 0 {
				t.Errorf("set_prio(%d) must fail", bad)
			}
		}
		for prio := PrioMin; prio <= PrioMax; prio++ {
			if sys.SetPrio(prio) != 0 {
				t.Errorf("set_prio(%d) must succeed", prio)
			}
		}
		close(done)
		initIdle(sys)
	})
	await(t, done, 10*time.Second, "set_prio")
}

func TestProgramReturnIsExit(t *testing.T) {
	// A program that falls off the end must still become a reapable
	// zombie.
	done := make(chan struct{})
	bootKernel(t, func(sys *Sys) {
		child := sys.Fork(func(s *Sys) {
			// no explicit Exit
		})
		if got := sys.Wait(); got != child {
			t.Errorf("wait returned %d, want %d", got, child)
		}
		close(done)
		initIdle(sys)
	})
	await(t, done, 10*time.Second, "implicit exit")
}

func TestForkInheritsPriority(t *testing.T) {
	done := make(chan struct{})
	var childPrio atomic.Int32
	k := bootKernel(t, func(sys *Sys) {
		sys.SetPrio(1)
		child := sys.Fork(func(s *Sys) {
			s.Sleep(1 << 20)
			s.Exit()
		})
		waitFor(t, 10*time.Second, "child snapshot", func() bool {
			pi, ok := findInfo(sys.k.Snapshot(), child)
			if !ok {
				return false
			}
			childPrio.Store(int32(pi.Priority))
			return true
		})
		sys.Kill(child)
		sys.Wait()
		close(done)
		initIdle(sys)
	}, WithPolicy(PolicySML), WithNCPU(2))
	await(t, done, 20*time.Second, "fork priority")
	if childPrio.Load() != 1 {
		t.Fatalf("child priority = %d, want inherited 1", childPrio.Load())
	}
	_ = k
}

func TestInvokeDispatch(t *testing.T) {
	done := make(chan struct{})
	bootKernel(t, func(sys *Sys) {
		if got := sys.Invoke(SysGetpid); got != 1 {
			t.Errorf("invoke getpid = %d, want 1", got)
		}
		if got := sys.Invoke(SysSetPrio, 2); got != 0 {
			t.Errorf("invoke set_prio = %d", got)
		}
		if got := sys.Invoke(SysSbrk, PGSIZE); got != 0 {
			t.Errorf("invoke sbrk = %d, want old size 0", got)
		}
		if got := sys.Invoke(999); got != -1 {
			t.Errorf("unknown syscall = %d, want -1", got)
		}
		if got := sys.Invoke(SysKill, "notanint"); got != -1 {
			t.Errorf("mistyped argument = %d, want -1", got)
		}
		child := sys.Invoke(SysFork, Program(func(s *Sys) { s.Exit() }))
		if child < 0 {
			t.Error("invoke fork failed")
		}
		if got := sys.Invoke(SysWait); got != child {
			t.Errorf("invoke wait = %d, want %d", got, child)
		}
		close(done)
		initIdle(sys)
	})
	await(t, done, 10*time.Second, "invoke dispatch")
}
