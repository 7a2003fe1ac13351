package kern

// banner is the fixed ASCII art returned by the draw syscall.
const banner = `
                _           _  _                               _
  _ __ ___   (_) _ __   (_)| | __ ___  _ __  _ __    ___  | |
 | '_ ` + "`" + ` _ \  | || '_ \  | || |/ // _ \| '__|| '_ \  / _ \ | |
 | | | | | | | || | | | | ||   <|  __/| |   | | | ||  __/ | |
 |_| |_| |_| |_||_| |_| |_||_|\_\\___||_|   |_| |_| \___| |_|
`

// Draw copies the banner into buf, returning the number of bytes copied or
// -1 when buf cannot hold it.
func (s *Sys) Draw(buf []byte) int {
	s.trap()
	if len(buf) < len(banner) {
		return -1
	}
	return copy(buf, banner)
}

// History returns the id-th most recent console command (0 = newest):
// 0 on success, 1 when that slot has not been filled yet, 2 when id is
// outside the history window entirely.
func (s *Sys) History(buf []byte, id int) int {
	s.trap()
	if id < 0 || id >= MaxHistory {
		return 2
	}
	h := &s.k.history
	h.lock.Acquire(s.p.cpu)
	defer h.lock.Release(s.p.cpu)
	if id >= h.n {
		return 1
	}
	// h.w is the next write slot; id 0 is the most recently written.
	entry := h.buf[(h.w-1-id+2*MaxHistory)%MaxHistory]
	copy(buf, entry)
	return 0
}

// AddHistory records one console command in the history ring. Host-context
// surface, called by the shell/console front end.
func (k *Kernel) AddHistory(cmd string) {
	c := extCPU()
	h := &k.history
	h.lock.Acquire(c)
	h.buf[h.w] = cmd
	h.w = (h.w + 1) % MaxHistory
	if h.n < MaxHistory {
		h.n++
	}
	h.lock.Release(c)
}
