package app

import (
	"io"
	"sync"
)

// syncWriter serializes writes from concurrently running commands so
// their output is never interleaved mid-write.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func lockedWriter(w, def io.Writer) io.Writer {
	if w == nil {
		w = def
	}
	return &syncWriter{w: w}
}
