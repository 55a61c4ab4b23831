// Package pool provides typed object pools.
//
// Pool wraps sync.Pool with a factory, an optional reset hook and usage
// statistics. Buffers is the shared pool of bytes.Buffer used when data
// files are encoded.
//
// # Basic Usage
//
//	buf := pool.Buffers.Get()
//	defer pool.Buffers.Put(buf)
//	buf.Write(data)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBuffer keeps oversized buffers from pinning memory
const maxPooledBuffer = 64 << 20

// Pool is a generic object pool safe for concurrent use
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	keep  func(T) bool
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
		discarded int64
	}
}

// New creates a pool. reset, if non-nil, runs before an object goes back
// into the pool.
//
//	p := pool.New(
//	    func() *bytes.Buffer { return new(bytes.Buffer) },
//	    func(b *bytes.Buffer) { b.Reset() },
//	)
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// WithKeep sets a predicate deciding whether Put retains an object
func (p *Pool[T]) WithKeep(keep func(T) bool) *Pool[T] {
	p.keep = keep
	return p
}

// Get retrieves an object, allocating one if the pool is empty
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put returns obj to the pool
func (p *Pool[T]) Put(obj T) {
	atomic.AddInt64(&p.stats.inUse, -1)
	if p.keep != nil && !p.keep(obj) {
		atomic.AddInt64(&p.stats.discarded, 1)
		return
	}
	if p.reset != nil {
		p.reset(obj)
	}
	p.pool.Put(obj)
}

// Stats reports objects allocated by the factory, objects currently
// checked out, total Get calls and objects dropped by the keep predicate.
func (p *Pool[T]) Stats() (allocated, inUse, gets, discarded int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets),
		atomic.LoadInt64(&p.stats.discarded)
}

// Buffers pools encoding buffers
var Buffers = New(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
).WithKeep(func(b *bytes.Buffer) bool { return b.Cap() <= maxPooledBuffer })
