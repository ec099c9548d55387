package process

import "sync"

// LimitedBuffer keeps at most Limit bytes and silently drops the rest.
// Write never fails so a chatty child is not killed by a broken pipe.
type LimitedBuffer struct {
	Limit int

	mu        sync.Mutex
	buf       []byte
	truncated bool
}

// NewLimitedBuffer creates a buffer. A non-positive limit means unlimited.
func NewLimitedBuffer(limit int) *LimitedBuffer {
	return &LimitedBuffer{Limit: limit}
}

func (b *LimitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Limit <= 0 {
		b.buf = append(b.buf, p...)
		return len(p), nil
	}
	room := b.Limit - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Bytes returns a copy of the captured bytes.
func (b *LimitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Truncated reports whether any bytes were dropped.
func (b *LimitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
