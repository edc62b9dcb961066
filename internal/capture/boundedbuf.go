// SPDX-License-Identifier: MIT

package capture

import (
	"bytes"
	"sync"
)

// DefaultStderrCap is the size of the stderr ring kept per encoder child.
const DefaultStderrCap = 8 * 1024

// BoundedBuffer is a thread-safe bounded buffer that keeps the most recent
// bytes written to it. The encoder's stderr drains into one of these so a
// failure report can include the tail of the diagnostics without unbounded
// memory growth.
type BoundedBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	size int
}

// NewBoundedBuffer creates a BoundedBuffer holding at most size bytes.
func NewBoundedBuffer(size int) *BoundedBuffer {
	if size <= 0 {
		size = DefaultStderrCap
	}
	return &BoundedBuffer{size: size}
}

// Write implements io.Writer. When the buffer would overflow, the oldest
// contents are discarded so the most recent writes are always retained.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.size {
		b.buf.Reset()
		b.buf.Write(p[n-b.size:])
		return n, nil
	}
	if b.buf.Len()+n > b.size {
		// Trim the front so the new data fits.
		excess := b.buf.Len() + n - b.size
		b.buf.Next(excess)
	}
	b.buf.Write(p)
	return n, nil
}

// String returns the current contents of the buffer.
func (b *BoundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Len returns the number of bytes currently held.
func (b *BoundedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
