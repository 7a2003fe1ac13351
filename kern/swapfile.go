package kern

import (
	"fmt"
	"strconv"
	"strings"
)

// swapFileName derives the deterministic backing-file name for a page:
// decimal pid, underscore, decimal vpn, ".swp". A vpn of zero is encoded
// literally as "0".
func swapFileName(pid, vpn int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(pid))
	b.WriteByte('_')
	b.WriteString(strconv.Itoa(vpn))
	b.WriteString(".swp")
	return b.String()
}

// swapFilePid parses the pid prefix of a swap file name, returning -1 for
// names that are not swap files.
func swapFilePid(name string) int {
	i := strings.IndexByte(name, '_')
	if i <= 0 || !strings.HasSuffix(name, ".swp") {
		return -1
	}
	pid, err := strconv.Atoi(name[:i])
	if err != nil {
		return -1
	}
	return pid
}

// writeSwapPage creates <pid>_<vpn>.swp holding exactly one page, and
// registers the open handle in the swap-out daemon's descriptor table. The
// quota must already have been reserved.
func (k *Kernel) writeSwapPage(daemon *Proc, pid, vpn int, page []byte) error {
	if len(page) != PGSIZE {
		panic("kern: swap write: not a page")
	}
	name := swapFileName(pid, vpn)
	f, err := k.fs.Create(name)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(page, 0); err != nil {
		_ = f.Close()
		_ = k.fs.Unlink(name)
		return fmt.Errorf("kern: swap out %s: %w", name, err)
	}
	if err := k.installSwapFd(daemon, f); err != nil {
		_ = f.Close()
		_ = k.fs.Unlink(name)
		return err
	}
	return nil
}

// readSwapPage fills page from <pid>_<vpn>.swp.
func (k *Kernel) readSwapPage(pid, vpn int, page []byte) error {
	if len(page) != PGSIZE {
		panic("kern: swap read: not a page")
	}
	name := swapFileName(pid, vpn)
	f, err := k.fs.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.ReadAt(page, 0); err != nil {
		return fmt.Errorf("kern: swap in %s: %w", name, err)
	}
	return nil
}

// installSwapFd stores the handle in the daemon's ofile table under the
// table lock, so the exit-time cleanup path can find it by name.
func (k *Kernel) installSwapFd(daemon *Proc, f File) error {
	k.ptable.lock.Acquire(daemon.cpu)
	defer k.ptable.lock.Release(daemon.cpu)
	for fd := range daemon.ofile {
		if daemon.ofile[fd] == nil {
			daemon.ofile[fd] = f
			return nil
		}
	}
	return ErrQuota
}

// releaseSwapFd drops the swap service's handle for name, if one is
// registered. The daemon is found by name, never by pid. Caller does not
// hold the table lock.
func (k *Kernel) releaseSwapFd(c *CPU, name string) {
	var f File
	k.ptable.lock.Acquire(c)
	if daemon := k.ptable.findByName(swapOutName); daemon != nil {
		for fd := range daemon.ofile {
			if daemon.ofile[fd] != nil && daemon.ofile[fd].Name() == name {
				f = daemon.ofile[fd]
				daemon.ofile[fd] = nil
				break
			}
		}
	}
	k.ptable.lock.Release(c)
	if f != nil {
		_ = f.Close()
	}
}

// unlinkSwapFile removes a swap file and releases its quota reservation and
// daemon handle. Idempotent against files that never existed.
func (k *Kernel) unlinkSwapFile(c *CPU, pid, vpn int) {
	name := swapFileName(pid, vpn)
	k.releaseSwapFd(c, name)
	if err := k.fs.Unlink(name); err == nil {
		k.quotaRelease(c)
	}
}
