package iomux

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeEndpoint is an in-memory Endpoint backed by channels, standing in for
// a real socket/pipe in tests.
type pipeEndpoint struct {
	mu     sync.Mutex
	toRead [][]byte
	closed bool
	writes [][]byte
}

func (p *pipeEndpoint) push(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toRead = append(p.toRead, data)
}

func (p *pipeEndpoint) Read(buf []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, io.EOF
		}
		if len(p.toRead) > 0 {
			data := p.toRead[0]
			p.toRead = p.toRead[1:]
			p.mu.Unlock()
			n := copy(buf, data)
			return n, nil
		}
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (p *pipeEndpoint) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.writes = append(p.writes, cp)
	return len(buf), nil
}

func (p *pipeEndpoint) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestSelectDeliversInboundData(t *testing.T) {
	m := New()
	ep := &pipeEndpoint{}
	w := m.CreateWorker("w1", ep)
	ep.push([]byte("hello"))

	deadline := time.Now().Add(time.Second)
	for w.RecvLen() == 0 && time.Now().Before(deadline) {
		m.Select(20 * time.Millisecond)
	}
	require.Equal(t, 5, w.RecvLen())
	buf := make([]byte, 5)
	n := w.ConsumeRecv(buf)
	assert.Equal(t, "hello", string(buf[:n]))
	m.CloseAll()
}

func TestSleepNeverDropsArrivingData(t *testing.T) {
	m := New()
	ep := &pipeEndpoint{}
	w := m.CreateWorker("w1", ep)

	go func() {
		time.Sleep(30 * time.Millisecond)
		ep.push([]byte("late"))
	}()

	m.Sleep(200 * time.Millisecond)

	assert.Equal(t, 4, w.RecvLen())
	m.CloseAll()
}

func TestSendQueueFlushedOnSelect(t *testing.T) {
	m := New()
	ep := &pipeEndpoint{}
	w := m.CreateWorker("w1", ep)
	w.Send([]byte("out"))
	m.Select(50 * time.Millisecond)

	ep.mu.Lock()
	writes := ep.writes
	ep.mu.Unlock()
	require.Len(t, writes, 1)
	assert.Equal(t, "out", string(writes[0]))
	m.CloseAll()
}

func TestCloseAllDeferredDuringSelect(t *testing.T) {
	m := New()
	ep := &pipeEndpoint{}
	m.CreateWorker("w1", ep)

	done := make(chan struct{})
	go func() {
		m.Select(150 * time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	m.CloseAll() // Select is in-flight: teardown must be deferred, not panic/race
	<-done
}

func TestBackgroundReaderStartStop(t *testing.T) {
	m := New()
	ep := &pipeEndpoint{}
	w := m.CreateWorker("w1", ep)
	ep.push([]byte("bg"))

	b := m.StartBackgroundReader()
	deadline := time.Now().Add(time.Second)
	for w.RecvLen() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Stop()
	assert.Equal(t, 2, w.RecvLen())
}
