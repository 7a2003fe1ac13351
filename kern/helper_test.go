package kern

import (
	"sync"
	"testing"
	"time"
)

// bootKernel builds and boots a kernel for a scenario test, registering
// shutdown as cleanup. Tests that need time must either tick manually or
// use startTicker.
func bootKernel(t *testing.T, prog Program, opts ...Option) *Kernel {
	t.Helper()
	k, err := New(opts...)
	if err != nil {
		t.Fatal("New failed:", err)
	}
	if err := k.Boot(prog); err != nil {
		t.Fatal("Boot failed:", err)
	}
	t.Cleanup(k.Shutdown)
	return k
}

// startTicker drives the kernel timer from a test goroutine until cleanup.
func startTicker(t *testing.T, k *Kernel) {
	t.Helper()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				k.Tick()
				time.Sleep(200 * time.Microsecond)
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		wg.Wait()
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// await receives from done with a deadline.
func await(t *testing.T, done <-chan struct{}, d time.Duration, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// findInfo returns the snapshot entry for pid, if present.
func findInfo(infos []ProcInfo, pid int) (ProcInfo, bool) {
	for _, pi := range infos {
		if pi.Pid == pid {
			return pi, true
		}
	}
	return ProcInfo{}, false
}
