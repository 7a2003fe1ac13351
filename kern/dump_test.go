package kern

import (
	"strings"
	"testing"
	"time"
)

func TestDumpListsProcesses(t *testing.T) {
	done := make(chan struct{})
	var child int
	k := bootKernel(t, func(sys *Sys) {
		child = sys.Fork(func(s *Sys) {
			s.Sleep(1 << 20)
			s.Exit()
		})
		close(done)
		initIdle(sys)
	}, WithNCPU(2))
	await(t, done, 10*time.Second, "boot")
	waitFor(t, 10*time.Second, "child to sleep", func() bool {
		pi, ok := findInfo(k.Snapshot(), child)
		return ok && pi.State == StateSleeping
	})

	var b strings.Builder
	k.Dump(&b)
	out := b.String()

	for _, want := range []string{"init", swapOutName, swapInName, "sleep"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump output missing %q:\n%s", want, out)
		}
	}

	// Sleepers carry their saved call-stack PCs.
	var sleeperPCs bool
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "sleep") && strings.Contains(line, "0x") {
			sleeperPCs = true
			if n := strings.Count(line, "0x"); n > ProcdumpFrames {
				t.Errorf("dump printed %d frames, cap is %d", n, ProcdumpFrames)
			}
		}
	}
	if !sleeperPCs {
		t.Errorf("no sleeper call stacks in dump:\n%s", out)
	}
}
