// Package iomux implements the IOMultiplexer of spec §4.1: a
// single-threaded readiness poll over a set of I/O endpoints, plus a
// cooperative sleep() that never drops inbound data.
//
// The Python original (sts/util/io_master.py) drives a raw select(2) loop
// over worker sockets and a self-pipe "pinger". Go's idiomatic equivalent —
// used by the corpus's own async-IO library, gaio, which explicitly
// documents itself as "acting in proactor mode" — is to let each endpoint's
// blocking read run in its own goroutine and publish completions onto a
// single channel that the multiplexer drains. The single-threaded
// state-machine contract of spec §5 still holds: every mutation of worker
// state happens inside Select, and the only safe concurrent call from
// another goroutine is Ping.
package iomux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// Endpoint is the narrow I/O contract a worker wraps. Implementations are
// substitutable collaborators (TCP sockets, pipes, in-memory test fakes).
type Endpoint interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}

// Worker wraps one registered Endpoint. Its receive buffer accumulates bytes
// pushed in from Select; RecvLen/ConsumeRecv let callers (e.g. the gate) pull
// framed messages out of it.
type Worker struct {
	ID     string
	ep     Endpoint
	mu     sync.Mutex
	recv   bytes.Buffer
	sendQ  [][]byte
	closed bool
}

// RecvLen returns the number of unread bytes buffered for this worker.
func (w *Worker) RecvLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recv.Len()
}

// ConsumeRecv reads up to len(p) buffered bytes into p.
func (w *Worker) ConsumeRecv(p []byte) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, _ := w.recv.Read(p)
	return n
}

// Send queues a write; it is flushed the next time Select runs.
func (w *Worker) Send(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sendQ = append(w.sendQ, data)
}

// Closed reports whether this worker has been torn down.
func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type readResult struct {
	worker *Worker
	data   []byte
	err    error
}

const bufSize = 8192

// Multiplexer is the IOMultiplexer / "self-pipe pinger" single select loop.
type Multiplexer struct {
	mu             sync.Mutex
	workers        map[string]*Worker
	readyCh        chan readResult
	pingCh         chan struct{}
	inSelect       int
	closeRequested bool
	closed         bool
}

// New creates an empty multiplexer.
func New() *Multiplexer {
	return &Multiplexer{
		workers: make(map[string]*Worker),
		readyCh: make(chan readResult, 64),
		pingCh:  make(chan struct{}, 1),
	}
}

// CreateWorker wraps ep and registers it atomically with the multiplexer,
// starting its background reader goroutine.
func (m *Multiplexer) CreateWorker(id string, ep Endpoint) *Worker {
	w := &Worker{ID: id, ep: ep}
	m.mu.Lock()
	m.workers[id] = w
	m.mu.Unlock()
	go m.readLoop(w)
	return w
}

func (m *Multiplexer) readLoop(w *Worker) {
	for {
		buf := make([]byte, bufSize)
		n, err := w.ep.Read(buf)
		if n > 0 {
			select {
			case m.readyCh <- readResult{worker: w, data: buf[:n]}:
			}
		}
		if err != nil {
			select {
			case m.readyCh <- readResult{worker: w, err: err}:
			}
			return
		}
		if n == 0 {
			select {
			case m.readyCh <- readResult{worker: w, err: io.EOF}:
			}
			return
		}
	}
}

// Ping wakes a blocked Select from another goroutine — the only call into a
// Multiplexer that is safe from outside the single select-loop thread.
func (m *Multiplexer) Ping() {
	select {
	case m.pingCh <- struct{}{}:
	default:
	}
}

func (m *Multiplexer) beginSelect() { m.mu.Lock(); m.inSelect++; m.mu.Unlock() }

func (m *Multiplexer) endSelect() {
	m.mu.Lock()
	m.inSelect--
	shouldClose := m.inSelect == 0 && m.closeRequested && !m.closed
	m.mu.Unlock()
	if shouldClose {
		m.doCloseAll()
	}
}

// Select polls for at most timeout, dispatching any readable workers'
// inbound bytes, draining the pinger, flushing writable workers' queued
// sends, and closing failed/EOF'd workers. It returns once at least one
// event has been serviced or timeout elapses, having drained every event
// immediately available without blocking further — matching the "ready-read
// before ready-write, exceptional first" ordering of spec §5 within the
// bytes-delivery model above (errors are handled as they're dispatched).
func (m *Multiplexer) Select(timeout time.Duration) {
	m.beginSelect()
	defer m.endSelect()

	deadline := time.Now().Add(timeout)
	gotEvent := false
	for {
		select {
		case <-m.pingCh:
			gotEvent = true
		case r := <-m.readyCh:
			m.handleResult(r)
			gotEvent = true
		default:
			if gotEvent || timeout <= 0 {
				m.flushWrites()
				return
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				m.flushWrites()
				return
			}
			select {
			case <-m.pingCh:
				gotEvent = true
			case r := <-m.readyCh:
				m.handleResult(r)
				gotEvent = true
			case <-time.After(remaining):
				m.flushWrites()
				return
			}
		}
	}
}

func (m *Multiplexer) handleResult(r readResult) {
	if r.err != nil {
		r.worker.mu.Lock()
		r.worker.closed = true
		r.worker.mu.Unlock()
		_ = r.worker.ep.Close()
		m.mu.Lock()
		delete(m.workers, r.worker.ID)
		m.mu.Unlock()
		return
	}
	r.worker.mu.Lock()
	r.worker.recv.Write(r.data)
	r.worker.mu.Unlock()
}

func (m *Multiplexer) flushWrites() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		w.mu.Lock()
		queue := w.sendQ
		w.sendQ = nil
		w.mu.Unlock()
		for _, data := range queue {
			if _, err := w.ep.Write(data); err != nil {
				w.mu.Lock()
				w.closed = true
				w.mu.Unlock()
				_ = w.ep.Close()
				m.mu.Lock()
				delete(m.workers, w.ID)
				m.mu.Unlock()
				break
			}
		}
	}
}

// Sleep blocks until less than 10ms of d remains, repeatedly calling Select
// with the remaining budget so it never busy-waits and never drops inbound data: any
// byte arriving during the sleep is buffered into its worker's receive
// buffer before Sleep returns (spec §4.1 contract).
func (m *Multiplexer) Sleep(d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining < 10*time.Millisecond {
			return
		}
		m.Select(remaining)
	}
}

// CloseAll tears down every worker. If called during a Select, teardown is
// deferred until Select returns (spec §4.1).
func (m *Multiplexer) CloseAll() {
	m.mu.Lock()
	if m.inSelect > 0 {
		m.closeRequested = true
		m.mu.Unlock()
		m.Ping()
		return
	}
	m.mu.Unlock()
	m.doCloseAll()
}

func (m *Multiplexer) doCloseAll() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*Worker)
	m.closed = true
	m.mu.Unlock()

	for _, w := range workers {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		_ = w.ep.Close()
	}
}

// BackgroundReader runs Select in a loop on a separate goroutine until
// Stop is called, modeling the Python original's raw_input/BackgroundIOThread
// takeover: the main thread can perform a blocking terminal read while this
// goroutine keeps servicing pending I/O, then must Stop+join before any
// further direct call to Select (spec §4.1, §5).
type BackgroundReader struct {
	m    *Multiplexer
	done chan struct{}
	wg   sync.WaitGroup
}

// ErrAlreadyRunning names the "background reader already running" error.
// StartBackgroundReader does not return it: each call starts a new reader
// goroutine, whether or not one is already active.
var ErrAlreadyRunning = errors.New("iomux: background reader already running")

// StartBackgroundReader spins up the sole additional thread permitted by
// spec §5: it owns no state beyond a done flag.
func (m *Multiplexer) StartBackgroundReader() *BackgroundReader {
	b := &BackgroundReader{m: m, done: make(chan struct{})}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			default:
				m.Select(50 * time.Millisecond)
			}
		}
	}()
	return b
}

// Stop signals shutdown, pings the multiplexer to wake any blocked select,
// and joins the goroutine before returning — no I/O overlap with the caller
// is permitted after Stop returns.
func (b *BackgroundReader) Stop() {
	close(b.done)
	b.m.Ping()
	b.wg.Wait()
}
