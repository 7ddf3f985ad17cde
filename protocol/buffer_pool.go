package protocol

import (
	"bytes"
	"sync"
)

const (
	FrameBufferSize = 1024      // Covers most chat and presence frames
	MaxPooledBuffer = 64 * 1024 // Larger buffers are left to the GC
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, FrameBufferSize))
	},
}

// GetBuffer retrieves a reset buffer from the pool.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool.
// Buffers that grew past MaxPooledBuffer are dropped so one large frame
// does not pin memory for the lifetime of the pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > MaxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}
