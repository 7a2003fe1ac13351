// Command minikernel boots the simulated kernel with a demo workload and a
// tiny console: Ctrl-P dumps the process table, Ctrl-C (or q) halts the
// machine, and any entered line is recorded in the in-kernel history.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/joeycumines/go-minikernel/kern"
)

func main() {
	var (
		policy   = pflag.String("policy", "default", "scheduling policy: default, fcfs, sml, dml")
		ncpu     = pflag.Int("ncpu", 2, "number of simulated CPUs")
		frames   = pflag.Int("frames", 64, "physical frame pool size")
		tick     = pflag.Duration("tick", 10*time.Millisecond, "timer tick interval")
		swapDir  = pflag.String("swap-dir", "", "directory for swap files (default: a temp dir)")
		memFS    = pflag.Bool("mem", false, "keep swap files in memory instead of on disk")
		verbose  = pflag.Bool("verbose", false, "debug-level kernel logging")
		children = pflag.Int("children", 3, "demo workload children")
	)
	pflag.Parse()

	if err := run(*policy, *ncpu, *frames, *tick, *swapDir, *memFS, *verbose, *children); err != nil {
		fmt.Fprintln(os.Stderr, "minikernel:", err)
		os.Exit(1)
	}
}

func run(policy string, ncpu, frames int, tick time.Duration, swapDir string, memFS, verbose bool, children int) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().
		Timestamp().
		Logger()
	logger := logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
	).Logger()

	var fs kern.FileSystem
	if memFS {
		fs = kern.NewMemFS()
	} else {
		dir := swapDir
		if dir == "" {
			var err error
			dir, err = os.MkdirTemp("", "minikernel-swap-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)
		}
		fs = kern.NewDiskFS(dir)
	}

	k, err := kern.New(
		kern.WithPolicy(kern.PolicyKind(policy)),
		kern.WithNCPU(ncpu),
		kern.WithFrames(frames),
		kern.WithTickInterval(tick),
		kern.WithFS(fs),
		kern.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if err := k.Boot(demoInit(children)); err != nil {
		return err
	}
	defer k.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return console(ctx, k) })
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// demoInit builds the init program: a banner, a handful of mixed workloads,
// and an everlasting reap loop.
func demoInit(children int) kern.Program {
	return func(sys *kern.Sys) {
		buf := make([]byte, 4096)
		if n := sys.Draw(buf); n > 0 {
			os.Stdout.Write(buf[:n])
		}

		for i := 0; i < children; i++ {
			i := i
			sys.Fork(func(sys *kern.Sys) {
				switch i % 3 {
				case 0: // CPU bound
					sys.Burn(40)
				case 1: // interactive
					for j := 0; j < 10; j++ {
						sys.Burn(2)
						sys.Sleep(5)
					}
				default: // memory hungry
					const pages = 16
					if sys.Sbrk(pages*kern.PGSIZE) < 0 {
						sys.Exit()
					}
					for pass := 0; pass < 4; pass++ {
						for pg := 0; pg < pages; pg++ {
							va := pg*kern.PGSIZE + pass
							if err := sys.Poke(va, byte(pg^pass)); err != nil {
								sys.Exit()
							}
						}
						sys.Sleep(3)
					}
				}
				sys.Exit()
			})
		}

		for {
			if sys.Wait() < 0 {
				sys.Sleep(10)
			}
		}
	}
}

// console runs the interactive front end. With a raw terminal it reacts to
// single keys; otherwise it degrades to line-oriented reads.
func console(ctx context.Context, k *kern.Kernel) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return lineConsole(ctx, k)
	}

	old, err := term.MakeRaw(fd)
	if err != nil {
		return lineConsole(ctx, k)
	}
	defer term.Restore(fd, old)

	// Keys arrive via a channel so a pending read never blocks shutdown;
	// the reader goroutine dies with the process.
	keys := make(chan byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				return
			}
			keys <- buf[0]
		}
	}()

	var line []byte
	for {
		var b byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case got, ok := <-keys:
			if !ok {
				return io.EOF
			}
			b = got
		}
		switch b {
		case 0x10: // Ctrl-P
			fmt.Print("\r\n")
			k.Dump(os.Stdout)
		case 0x03, 'q': // Ctrl-C / quit
			fmt.Print("\r\n")
			return context.Canceled
		case '\r', '\n':
			fmt.Print("\r\n")
			if len(line) > 0 {
				k.AddHistory(string(line))
				line = line[:0]
			}
		default:
			if b >= 0x20 && b < 0x7f {
				line = append(line, b)
				fmt.Printf("%c", b)
			}
		}
	}
}

func lineConsole(ctx context.Context, k *kern.Kernel) error {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch line := sc.Text(); line {
		case "ps":
			k.Dump(os.Stdout)
		case "q", "quit":
			return context.Canceled
		default:
			if line != "" {
				k.AddHistory(line)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}
