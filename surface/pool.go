package surface

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/va"
)

// Key packs (width, height, format) into the pool's lookup key: the FourCC in
// the low 32 bits, then 16 bits each of width and height.
type Key uint64

// MakeKey builds the key for a surface of the given size and format.
func MakeKey(width, height int, format fourcc.FourCC) Key {
	return Key(uint64(format) | uint64(width&0xFFFF)<<32 | uint64(height&0xFFFF)<<48)
}

// Width returns the width encoded in the key.
func (k Key) Width() int { return int(k>>32) & 0xFFFF }

// Height returns the height encoded in the key.
func (k Key) Height() int { return int(k>>48) & 0xFFFF }

// Format returns the format encoded in the key.
func (k Key) Format() fourcc.FourCC { return fourcc.FourCC(uint32(k)) }

type poolEntry struct {
	id    va.SurfaceID
	inUse bool
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Keys     int
	Surfaces int
	InUse    int
}

// Free returns the number of tracked surfaces not in use.
func (s PoolStats) Free() int {
	return s.Surfaces - s.InUse
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxPerKey bounds the number of surfaces allocated per key. Acquire waits
// for a release once the bound is reached. Zero means unbounded.
func WithMaxPerKey(n int) PoolOption {
	return func(p *Pool) {
		p.maxPerKey = n
	}
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(log *zap.SugaredLogger) PoolOption {
	return func(p *Pool) {
		if log != nil {
			p.log = log
		}
	}
}

// Pool caches surfaces of one display keyed by (width, height, format).
// Surfaces are allocated on first demand for a key and reused afterwards.
// Every surface stays tracked until Close. It is safe for concurrent use.
type Pool struct {
	driver    va.Driver
	display   va.Display
	log       *zap.SugaredLogger
	maxPerKey int

	mu      sync.Mutex
	cond    *sync.Cond
	entries map[Key][]*poolEntry
	inUse   int
	closed  bool
}

// NewPool creates an empty pool bound to display.
//
// Arguments:
//   - driver: The driver surfaces are allocated on.
//   - display: The display surfaces belong to.
//   - opts: Pool options.
//
// Returns:
//   - *Pool: The pool.
func NewPool(driver va.Driver, display va.Display, opts ...PoolOption) *Pool {
	p := &Pool{
		driver:  driver,
		display: display,
		log:     zap.NewNop().Sugar(),
		entries: make(map[Key][]*poolEntry),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns a free surface of the requested size and format, allocating
// one when none is free. With WithMaxPerKey it blocks while the key is at
// capacity. Allocation failures are returned, never retried.
func (p *Pool) Acquire(width, height int, format fourcc.FourCC) (va.SurfaceID, error) {
	if err := validateSurface(width, height, format); err != nil {
		return va.InvalidID, err
	}
	key := MakeKey(width, height, format)

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return va.InvalidID, ErrPoolClosed
		}
		for _, e := range p.entries[key] {
			if !e.inUse {
				e.inUse = true
				p.inUse++
				return e.id, nil
			}
		}
		if p.maxPerKey <= 0 || len(p.entries[key]) < p.maxPerKey {
			break
		}
		p.cond.Wait()
	}

	id, err := p.driver.CreateSurface(p.display, width, height, format)
	if err != nil {
		return va.InvalidID, errors.Wrapf(err, "failed to allocate %dx%d %s surface", width, height, format)
	}
	p.entries[key] = append(p.entries[key], &poolEntry{id: id, inUse: true})
	p.inUse++

	p.log.Debugw("pool surface allocated",
		"surface", uint32(id),
		"width", width,
		"height", height,
		"format", format.String(),
		"tracked", len(p.entries[key]),
	)
	return id, nil
}

// AcquireImage acquires a surface and wraps it in a pool-managed image bound
// to ctx. Closing the image returns the surface to the pool.
func (p *Pool) AcquireImage(ctx *Context, width, height int, format fourcc.FourCC) (*Image, error) {
	if ctx == nil {
		return nil, invalidArgument("nil context")
	}
	if ctx.display != p.display {
		return nil, invalidArgument("context display does not match pool display")
	}
	id, err := p.Acquire(width, height, format)
	if err != nil {
		return nil, err
	}
	return newImage(ctx, id, width, height, format, PoolManaged, p), nil
}

// Release returns a pool-managed image to the pool. Releasing an image twice
// returns ErrNotInUse; releasing an image of another pool returns
// ErrUnknownSurface.
func (p *Pool) Release(img *Image) error {
	if img == nil {
		return invalidArgument("nil image")
	}
	if img.ownership != PoolManaged || img.pool != p {
		return errors.Wrapf(ErrUnknownSurface, "surface %d", img.surface)
	}
	released, err := img.close()
	if !released {
		return errors.Wrapf(ErrNotInUse, "surface %d", img.surface)
	}
	return err
}

// ReleaseSurface marks a surface acquired with Acquire as free. The handle must
// be tracked under the key of the given size and format.
func (p *Pool) ReleaseSurface(id va.SurfaceID, width, height int, format fourcc.FourCC) error {
	key := MakeKey(width, height, format)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries[key] {
		if e.id != id {
			continue
		}
		if !e.inUse {
			return errors.Wrapf(ErrNotInUse, "surface %d", id)
		}
		e.inUse = false
		p.inUse--
		p.cond.Broadcast()
		return nil
	}
	return errors.Wrapf(ErrUnknownSurface, "surface %d as %dx%d %s", id, width, height, format)
}

// WaitForCompletion blocks until no surface is in use.
func (p *Pool) WaitForCompletion() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.inUse > 0 {
		p.cond.Wait()
	}
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{Keys: len(p.entries), InUse: p.inUse}
	for _, list := range p.entries {
		s.Surfaces += len(list)
	}
	return s
}

// Close rejects further acquires, waits for every surface in use to be
// released and then destroys all tracked surfaces. Destroy failures are logged.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed && len(p.entries) == 0 {
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	for p.inUse > 0 {
		p.cond.Wait()
	}

	destroyed := 0
	for key, list := range p.entries {
		for _, e := range list {
			if err := p.driver.DestroySurface(p.display, e.id); err != nil {
				p.log.Errorw("failed to destroy pool surface", "surface", uint32(e.id), "error", err)
				continue
			}
			destroyed++
		}
		delete(p.entries, key)
	}
	p.log.Debugw("pool closed", "destroyed", destroyed)
	return nil
}

func validateSurface(width, height int, format fourcc.FourCC) error {
	if width <= 0 || height <= 0 || width > 0xFFFF || height > 0xFFFF {
		return invalidArgument("surface size %dx%d", width, height)
	}
	if format.RTFormat() == 0 {
		return invalidArgument("unsupported surface format %s", format)
	}
	return nil
}
