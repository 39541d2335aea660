// Package procset tracks the controller processes a replay run has spawned
// and kills them all from a single signal handler, grounded on
// sts/entities.py's Controller._active_processes / kill_active_procs: "Kill
// the active processes... python can only have a single method to handle
// SIG* stuff" becomes Go's single os/signal.Notify channel here.
package procset

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Set is a process-wide registry of controller *os.Process handles pending
// cleanup. Register/Unregister are idempotent.
type Set struct {
	mu    sync.Mutex
	procs map[*os.Process]struct{}

	sigCh  chan os.Signal
	stopCh chan struct{}
}

// New returns an empty registry.
func New() *Set {
	return &Set{procs: make(map[*os.Process]struct{})}
}

// Register adds proc to the kill set. Safe to call multiple times for the
// same process.
func (s *Set) Register(proc *os.Process) {
	if proc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[proc] = struct{}{}
}

// Unregister removes proc from the kill set, e.g. once the controller has
// been stopped deliberately.
func (s *Set) Unregister(proc *os.Process) {
	if proc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, proc)
}

// KillAll sends SIGKILL to every currently-registered process, logging but
// not failing on a process that has already exited.
func (s *Set) KillAll() {
	s.mu.Lock()
	procs := make([]*os.Process, 0, len(s.procs))
	for p := range s.procs {
		procs = append(procs, p)
	}
	s.procs = make(map[*os.Process]struct{})
	s.mu.Unlock()

	for _, p := range procs {
		if err := p.Kill(); err != nil {
			slog.Debug("kill_active_procs: process already gone", "pid", p.Pid, "err", err)
		}
	}
}

// InstallSignalHandler starts the one-and-only signal listener for this
// registry: on SIGINT/SIGTERM it kills every registered process and then
// re-raises the signal's default behavior by exiting the process. Call
// Stop to tear the handler down without exiting (e.g. in tests).
func (s *Set) InstallSignalHandler() {
	s.sigCh = make(chan os.Signal, 1)
	s.stopCh = make(chan struct{})
	signal.Notify(s.sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-s.sigCh:
			slog.Info("received signal, killing active controller processes", "signal", sig)
			s.KillAll()
			os.Exit(1)
		case <-s.stopCh:
			return
		}
	}()
}

// Stop tears down the signal handler goroutine without exiting the process.
func (s *Set) Stop() {
	if s.sigCh != nil {
		signal.Stop(s.sigCh)
	}
	if s.stopCh != nil {
		close(s.stopCh)
	}
}
