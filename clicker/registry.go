package clicker

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// processRegistry tracks every live clicker process so they can all be
// stopped on program shutdown. It is the only global mutable state in this
// module.
type processRegistry struct {
	mu    sync.Mutex
	procs map[*Process]struct{}

	hookOnce sync.Once
}

var processes = &processRegistry{procs: map[*Process]struct{}{}}

func (r *processRegistry) register(p *Process) {
	r.installShutdownHook()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[p] = struct{}{}
}

func (r *processRegistry) unregister(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, p)
}

func (r *processRegistry) snapshot() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	procs := make([]*Process, 0, len(r.procs))
	for p := range r.procs {
		procs = append(procs, p)
	}
	return procs
}

func (r *processRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

func (r *processRegistry) stopAll() error {
	var eg errgroup.Group
	for _, p := range r.snapshot() {
		p := p
		eg.Go(p.Stop)
	}
	return eg.Wait()
}

// installShutdownHook installs, once, a signal handler that stops every
// registered process before the program dies, then re-raises the signal so
// the default handler still runs.
func (r *processRegistry) installShutdownHook() {
	r.hookOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			r.stopAll()
			signal.Stop(sigCh)
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				p.Signal(sig)
			}
		}()
	})
}

// StopAll stops every clicker process this program started and has not yet
// stopped. Useful as a defer in tests and long-lived callers.
func StopAll() error {
	return processes.stopAll()
}

// ActiveCount returns the number of registered live processes.
func ActiveCount() int {
	return processes.count()
}
