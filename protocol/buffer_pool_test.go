package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPool_ResetOnGet(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("leftover")
	PutBuffer(buf)

	again := GetBuffer()
	assert.Equal(t, 0, again.Len())
	PutBuffer(again)
}

func TestBufferPool_DropsOversized(t *testing.T) {
	// Must not panic, the buffer is simply not pooled
	PutBuffer(bytes.NewBuffer(make([]byte, 0, MaxPooledBuffer+1)))
	PutBuffer(nil)
}
