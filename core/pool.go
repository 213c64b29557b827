package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// DefaultBlockBufferSize is the initial capacity of pooled block buffers.
const DefaultBlockBufferSize = 4 * 1024

// maxPooledBufferSize keeps unusually large buffers from pinning memory.
const maxPooledBufferSize = 1 << 20

// BufferPool hands out scratch buffers for block encoding and decoding.
var BufferPool = NewBufferPool(DefaultBlockBufferSize)

// bufferPool is a sync.Pool of *bytes.Buffer with hit/miss accounting.
type bufferPool struct {
	pool     sync.Pool
	capacity int

	gets    atomic.Uint64
	created atomic.Uint64
}

// NewBufferPool creates a new buffer pool whose fresh buffers start with initialCapacity.
func NewBufferPool(initialCapacity int) *bufferPool {
	bp := &bufferPool{capacity: initialCapacity}
	bp.pool.New = func() interface{} {
		bp.created.Add(1)
		return bytes.NewBuffer(make([]byte, 0, bp.capacity))
	}
	return bp
}

// Get returns an empty buffer.
func (bp *bufferPool) Get() *bytes.Buffer {
	bp.gets.Add(1)
	buf := bp.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool.
func (bp *bufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBufferSize {
		return
	}
	buf.Reset()
	bp.pool.Put(buf)
}

// Stats returns how many buffers were requested and how many had to be allocated.
func (bp *bufferPool) Stats() (gets, created uint64) {
	return bp.gets.Load(), bp.created.Load()
}
