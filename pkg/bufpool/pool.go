// Package bufpool pools the byte buffers used on the frame path.
package bufpool

import (
	"bytes"
	"sync"
)

// BytePool hands out byte slices of at least a fixed size.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	p := &BytePool{size: size}
	p.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a slice of length size.
func (p *BytePool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return (*b)[:p.size]
}

// Put returns b to the pool. Slices smaller than the pool size are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// Size is the length of slices returned by Get.
func (p *BytePool) Size() int {
	return p.size
}

// BufferPool pools bytes.Buffers for encoders. Buffers that grew beyond
// maxRetained are released instead of pooled so one 4K frame cannot pin
// memory forever.
type BufferPool struct {
	pool        sync.Pool
	maxRetained int
}

func NewBufferPool(maxRetained int) *BufferPool {
	return &BufferPool{
		maxRetained: maxRetained,
		pool: sync.Pool{
			New: func() interface{} { return new(bytes.Buffer) },
		},
	}
}

func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || (p.maxRetained > 0 && buf.Cap() > p.maxRetained) {
		return
	}
	p.pool.Put(buf)
}
