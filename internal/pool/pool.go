// Package pool implements the bounded memory arena messages are carved from.
// It is the concrete form of the "capped pool" the message-state tracker's
// factories treat as an opaque reservation source: Reserve either grants a
// region in full or fails atomically with ErrExhausted, never partially.
//
// Adapted from the teacher's bufpool.Pool, which hands out reusable
// bytes.Buffer values from a sync.Pool with no capacity bound. Messages here
// need the opposite property — a hard ceiling on total outstanding bytes, so
// a producer storm can't grow the daemon's memory without limit — so
// reservations are tracked against a fixed capacity instead of recycling
// arbitrary buffers.
package pool

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// ErrExhausted is returned by Reserve when the pool has no remaining
// capacity for the requested region.
var ErrExhausted = errors.New("pool: exhausted")

// DefaultCapacity is used when a Config's Capacity is left at zero.
const DefaultCapacity = 64 * 1024 * 1024

// Config configures a Pool.
type Config struct {
	Capacity int `toml:"capacity"`
}

// WithDefaults returns a copy of c with a zero-valued Capacity replaced by
// DefaultCapacity.
func (c Config) WithDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	return c
}

// NewFromConfig returns a Pool sized per cfg. cfg should already have
// WithDefaults applied.
func NewFromConfig(cfg Config) *Pool {
	return New(cfg.Capacity)
}

// Pool is a capacity-bounded byte arena. It is safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	capacity int
	used     int
}

// New returns a Pool with the given byte capacity.
func New(capacity int) *Pool {
	return &Pool{capacity: capacity}
}

// Capacity returns the pool's total byte capacity.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Used returns the number of bytes currently reserved.
func (p *Pool) Used() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Reserve attempts to grant a region of exactly n bytes. On success it
// returns a freshly allocated, zeroed slice of length n and a Region handle
// used to release it. On failure (insufficient remaining capacity) it
// returns ErrExhausted and no region; the pool's accounting is unchanged.
func (p *Pool) Reserve(n int) (Region, []byte, error) {
	if n < 0 {
		return Region{}, nil, errors.Errorf("pool: negative reservation size %d", n)
	}

	p.mu.Lock()
	if p.capacity-p.used < n {
		p.mu.Unlock()
		return Region{}, nil, errors.Wrapf(ErrExhausted,
			"requested %s, only %s free of %s capacity",
			humanize.Bytes(uint64(n)), humanize.Bytes(uint64(p.capacity-p.used)), humanize.Bytes(uint64(p.capacity)))
	}
	p.used += n
	p.mu.Unlock()

	return Region{size: n, pool: p}, make([]byte, n), nil
}

// Region is a handle to bytes reserved from a Pool. It owns no bytes itself
// — the backing slice is held by the caller — it only tracks how much
// capacity to return to the pool on Release.
type Region struct {
	size     int
	pool     *Pool
	released bool
}

// Size reports how many bytes this region reserved.
func (r Region) Size() int {
	return r.size
}

// Release returns the region's bytes to the pool's free capacity. Release is
// idempotent: releasing an already-released (or zero-value) region is a
// no-op.
func (r *Region) Release() {
	if r.released || r.pool == nil {
		return
	}
	r.released = true
	r.pool.mu.Lock()
	r.pool.used -= r.size
	r.pool.mu.Unlock()
}
