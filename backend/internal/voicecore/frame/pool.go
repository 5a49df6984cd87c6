// Package frame implements the fixed-size buffer pool used to assemble
// outbound and inbound RTP datagrams without per-packet allocation.
package frame

import "sync"

// DefaultSize is the byte capacity of each pooled buffer. It comfortably
// covers a 12-byte RTP header, a DAVE-wrapped Opus payload, an AEAD tag,
// and the 4-byte trailing transport nonce counter for a single 20ms frame.
const DefaultSize = 1500

// Pool is a single-producer/single-consumer stack of pre-allocated byte
// slices. It is owned by one session task; buffers are leased with Get
// and must be returned with Put once the in-flight packet using them is
// done. Pool exhaustion falls back to a fresh allocation rather than
// blocking, per the session's cooperative, non-blocking send path.
type Pool struct {
	mu      sync.Mutex
	free    [][]byte
	size    int
	leased  int
	fresh   int
	maxSize int
}

// New creates a Pool of maxSize buffers, each bufSize bytes.
func New(maxSize, bufSize int) *Pool {
	if bufSize <= 0 {
		bufSize = DefaultSize
	}
	p := &Pool{
		size:    bufSize,
		maxSize: maxSize,
		free:    make([][]byte, 0, maxSize),
	}
	for i := 0; i < maxSize; i++ {
		p.free = append(p.free, make([]byte, bufSize))
	}
	return p
}

// Get leases a buffer, zero-length but with full capacity, for the
// caller to append into. It falls back to a fresh allocation when the
// pool is exhausted.
func (p *Pool) Get() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		p.fresh++
		return make([]byte, 0, p.size)
	}

	buf := p.free[n-1]
	p.free = p.free[:n-1]
	p.leased++
	return buf[:0]
}

// Put returns a leased buffer to the pool. Buffers smaller than the
// pool's buffer size are ignored, and so is any buffer once maxSize
// buffers are already free; Put does not tell pooled buffers from ones
// obtained via the fresh-allocation fallback, so a fallback buffer
// returned while the pool has room is kept like a leased one.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) >= p.maxSize {
		return
	}
	p.free = append(p.free, buf[:cap(buf)])
	if p.leased > 0 {
		p.leased--
	}
}

// Stats reports current pool utilization, mainly for tests and metrics.
type Stats struct {
	Capacity int
	Free     int
	Leased   int
	Fresh    int // allocations served after exhaustion
}

// Stats returns a snapshot of pool utilization.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity: p.maxSize,
		Free:     len(p.free),
		Leased:   p.leased,
		Fresh:    p.fresh,
	}
}
