package executor

import (
	"bytes"
	"sync"
)

// streamBuffer accumulates one output stream and forwards chunks to an
// optional callback.
type streamBuffer struct {
	stream   Stream
	onOutput func(Stream, []byte)

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *streamBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	w.mu.Unlock()
	if w.onOutput != nil && len(p) > 0 {
		w.onOutput(w.stream, append([]byte(nil), p...))
	}
	return len(p), nil
}

// Bytes returns a copy of everything written so far.
func (w *streamBuffer) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}
