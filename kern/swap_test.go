package kern

import (
	"testing"
	"time"
)

// pageByte is the deterministic pattern a child writes into its pages.
func pageByte(child, page, round int) byte {
	return byte(child*31 + page*7 + round*3 + 1)
}

func TestSwapRoundTrip(t *testing.T) {
	// More user pages than physical frames: forks must still succeed, and
	// every page that bounces through a swap file must come back
	// byte-identical.
	const (
		children = 4
		pages    = 6
		rounds   = 3
		frames   = 12
	)
	fs := NewMemFS().(*memFS)
	done := make(chan struct{})

	k := bootKernel(t, func(sys *Sys) {
		for i := 0; i < children; i++ {
			i := i
			sys.Fork(func(s *Sys) {
				if s.Sbrk(pages*PGSIZE) < 0 {
					t.Errorf("child %d: sbrk failed", i)
					s.Exit()
				}
				for r := 0; r < rounds; r++ {
					for pg := 0; pg < pages; pg++ {
						off := pg*PGSIZE + (i*251+pg*13)%PGSIZE
						if err := s.Poke(off, pageByte(i, pg, r)); err != nil {
							t.Errorf("child %d round %d poke page %d: %v", i, r, pg, err)
							s.Exit()
						}
					}
					// Sleeping makes this child's pages fair game
					// for the swap-out daemon.
					s.Sleep(3)
					for pg := 0; pg < pages; pg++ {
						off := pg*PGSIZE + (i*251+pg*13)%PGSIZE
						b, err := s.Peek(off)
						if err != nil {
							t.Errorf("child %d round %d peek page %d: %v", i, r, pg, err)
							s.Exit()
						}
						if want := pageByte(i, pg, r); b != want {
							t.Errorf("child %d round %d page %d: got %d, want %d (swap corrupted the page)", i, r, pg, b, want)
							s.Exit()
						}
					}
				}
				s.Exit()
			})
		}
		for i := 0; i < children; i++ {
			if sys.Wait() < 0 {
				t.Error("wait failed")
			}
		}
		close(done)
		initIdle(sys)
	}, WithFrames(frames), WithFS(fs), WithNCPU(2))
	startTicker(t, k)
	await(t, done, 120*time.Second, "swap workload")

	// With the workload gone every swap file must have been consumed by a
	// fault or deleted at exit.
	waitFor(t, 10*time.Second, "swap files to drain", func() bool {
		return k.SwapFiles() == 0 && fs.Count() == 0
	})
}

func TestSwapFileCountMatchesEvictedPages(t *testing.T) {
	// One hog grows past the frame pool while everything else is idle; at
	// steady state the number of swap files equals the number of evicted
	// pages, which the quota counter tracks.
	const frames = 8
	fs := NewMemFS().(*memFS)
	done := make(chan struct{})
	grown := make(chan struct{})
	k := bootKernel(t, func(sys *Sys) {
		sys.Fork(func(s *Sys) {
			// Needs more pages than exist; the excess must be paged
			// out behind our back.
			if s.Sbrk(frames*PGSIZE + 4*PGSIZE) < 0 {
				t.Error("hog sbrk failed")
			}
			close(grown)
			s.Sleep(1 << 20)
			s.Exit()
		})
		sys.Wait()
		close(done)
		initIdle(sys)
	}, WithFrames(frames), WithFS(fs), WithNCPU(2))
	startTicker(t, k)

	await(t, grown, 60*time.Second, "hog growth")
	waitFor(t, 10*time.Second, "file count to match quota", func() bool {
		n := k.SwapFiles()
		return n > 0 && n == fs.Count()
	})

	// Killing the hog must clean its swap files up.
	var hog int
	for _, pi := range k.Snapshot() {
		if pi.Name == "init" && pi.Pid != 1 {
			hog = pi.Pid
		}
	}
	if hog == 0 {
		t.Fatal("hog not found in snapshot")
	}
	if err := k.Kill(hog); err != nil {
		t.Fatal("kill hog:", err)
	}
	await(t, done, 30*time.Second, "hog reap")
	waitFor(t, 10*time.Second, "swap files to drain", func() bool {
		return k.SwapFiles() == 0 && fs.Count() == 0
	})
}

func TestQuotaNeverExceedsNOFILE(t *testing.T) {
	// Sanity on the counter itself.
	k, err := New()
	if err != nil {
		t.Fatal(err)
	}
	c := extCPU()
	for i := 0; i < NOFILE; i++ {
		k.quotaReserve(c)
	}
	if k.quotaReserve(c) {
		t.Fatal("reserve past NOFILE must fail")
	}
	for i := 0; i < NOFILE-swapQuotaBase; i++ {
		k.quotaRelease(c)
	}
	if k.SwapFiles() != 0 {
		t.Fatalf("swap files = %d, want 0", k.SwapFiles())
	}
	defer func() {
		if recover() == nil {
			t.Fatal("release below the base must panic")
		}
	}()
	k.quotaRelease(c)
}

func TestSwapDaemonsExistByName(t *testing.T) {
	done := make(chan struct{})
	k := bootKernel(t, func(sys *Sys) {
		close(done)
		initIdle(sys)
	})
	await(t, done, 10*time.Second, "boot")
	waitFor(t, 10*time.Second, "daemons to spawn", func() bool {
		names := map[string]bool{}
		for _, pi := range k.Snapshot() {
			names[pi.Name] = true
		}
		return names[swapOutName] && names[swapInName]
	})

	c := extCPU()
	k.ptable.lock.Acquire(c)
	outd := k.ptable.findByName(swapOutName)
	ind := k.ptable.findByName(swapInName)
	k.ptable.lock.Release(c)
	if outd == nil || ind == nil {
		t.Fatal("daemons must be discoverable by name")
	}
	if !outd.kthread || !ind.kthread {
		t.Fatal("daemons must be kernel threads")
	}
}
