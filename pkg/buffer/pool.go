package buffer

import (
	"context"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"
)

// Factory yields buffers of at least a minimum capacity, synthesizing a
// one-off larger buffer when a caller asks for more than the pool's
// default size (spec.md §4.2).
type Factory interface {
	// New returns a buffer with capacity >= minCapacity (or the factory's
	// configured default, whichever is larger) and the given framing.
	New(minCapacity int, framing Framing) *Buffer
	// DefaultSize is the factory's default buffer capacity.
	DefaultSize() int
}

// Pool is a fixed-capacity, optionally size-bounded pool of same-sized
// buffers. Get blocks (via a context-aware condition variable,
// grounded on the bounded-buffer idiom in
// other_examples/malbeclabs-doublezero buffer.go, generalized to use
// ctxsync.Cond so every blocking site in this module shares one
// cancellation story) when the pool is exhausted and at capacity;
// Put returns a buffer for reuse.
//
// Pool implements Factory directly: Get/Put is the common path, New/
// DefaultSize exist so writers that don't care about pool membership
// (e.g., a one-off oversized scratch buffer) can still go through the
// same interface.
type Pool struct {
	mu          sync.Mutex
	cond        *ctxsync.Cond
	defaultSize int
	alignment   int
	maxOutstanding int
	outstanding int
	free        []*Buffer
	framing     Framing
}

// NewPool constructs a pool of buffers of defaultSize bytes (rounded up to
// a multiple of alignment), allowing at most maxOutstanding buffers to be
// checked out at once. maxOutstanding <= 0 means unbounded (resource
// exhaustion past a configured maximum is a fatal condition per spec.md
// §7, so production configurations should always set a real maximum).
func NewPool(defaultSize, alignment, maxOutstanding int, framing Framing) *Pool {
	p := &Pool{
		defaultSize:    alignUp(defaultSize, alignment),
		alignment:      alignment,
		maxOutstanding: maxOutstanding,
		framing:        framing,
	}
	p.cond = ctxsync.NewCond(&p.mu)
	return p
}

func alignUp(size, alignment int) int {
	if alignment <= 1 {
		return size
	}
	if r := size % alignment; r != 0 {
		size += alignment - r
	}
	return size
}

// DefaultSize returns the pool's default buffer capacity.
func (p *Pool) DefaultSize() int { return p.defaultSize }

// New synthesizes a buffer without going through the pool's free list;
// used for requests above the default size (spec.md §4.2: "a factory call
// with minimum_capacity > default_size is allowed and synthesizes a
// one-off larger buffer"). It still counts against maxOutstanding and
// must be returned via Put like any other buffer.
func (p *Pool) New(minCapacity int, framing Framing) *Buffer {
	size := p.defaultSize
	if minCapacity > size {
		size = alignUp(minCapacity, p.alignment)
	}
	p.mu.Lock()
	p.outstanding++
	p.mu.Unlock()
	return New(size, framing)
}

// Get blocks until a buffer is available, reusing one from the free list
// when possible and otherwise allocating up to maxOutstanding. If
// minCapacity exceeds the pool's default size, a one-off larger buffer is
// synthesized (and does not return to the free list on Put; it is simply
// discarded, since reusing an oversized buffer for ordinary traffic would
// waste memory).
func (p *Pool) Get(ctx context.Context, minCapacity int) (*Buffer, error) {
	oversized := minCapacity > p.defaultSize
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if !oversized && len(p.free) > 0 {
			b := p.free[len(p.free)-1]
			p.free = p.free[:len(p.free)-1]
			p.outstanding++
			b.Reset()
			return b, nil
		}
		if p.maxOutstanding <= 0 || p.outstanding < p.maxOutstanding {
			p.outstanding++
			size := p.defaultSize
			if oversized {
				size = alignUp(minCapacity, p.alignment)
			}
			return New(size, p.framing), nil
		}
		if err := p.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// Put returns a buffer to the pool, making it available to the next Get.
// Oversized buffers (capacity beyond defaultSize) are dropped rather than
// recycled.
func (p *Pool) Put(b *Buffer) {
	p.mu.Lock()
	p.outstanding--
	if b.Capacity() == p.defaultSize {
		b.Reset()
		p.free = append(p.free, b)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Outstanding returns the current number of checked-out buffers, for
// tests and diagnostics.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}
