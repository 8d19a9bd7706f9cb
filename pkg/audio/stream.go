package audio

import (
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed is returned by Write after Close.
var ErrStreamClosed = errors.New("audio stream closed")

// PushStream is an append-only, ordered audio sink. Writers never block; a
// single consumer drains it with Read or ReadChunk. The buffer is unbounded:
// a consumer that falls behind accumulates memory (see Pending).
type PushStream struct {
	mu      sync.Mutex
	cond    *sync.Cond
	chunks  [][]byte
	head    []byte
	pending int
	closed  bool
}

func NewPushStream() *PushStream {
	s := &PushStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write appends a copy of p. It never blocks on the consumer.
func (s *PushStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStreamClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	s.chunks = append(s.chunks, append([]byte(nil), p...))
	s.pending += len(p)
	s.cond.Signal()
	return len(p), nil
}

// ReadChunk returns the next chunk exactly as it was written. It blocks until
// data is available and returns io.EOF once the stream is closed and drained.
func (s *PushStream) ReadChunk() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.head) == 0 && len(s.chunks) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.head) > 0 {
		out := s.head
		s.head = nil
		s.pending -= len(out)
		return out, nil
	}
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	out := s.chunks[0]
	s.chunks[0] = nil
	s.chunks = s.chunks[1:]
	s.pending -= len(out)
	return out, nil
}

// Read implements io.Reader over the written chunks.
func (s *PushStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.head) == 0 && len(s.chunks) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.head) == 0 {
		if len(s.chunks) == 0 {
			return 0, io.EOF
		}
		s.head = s.chunks[0]
		s.chunks[0] = nil
		s.chunks = s.chunks[1:]
	}
	n := copy(p, s.head)
	s.head = s.head[n:]
	s.pending -= n
	return n, nil
}

// Close marks the end of audio. Buffered chunks are still delivered before
// readers observe io.EOF. Calling Close more than once is a no-op.
func (s *PushStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	return nil
}

func (s *PushStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pending reports the number of buffered bytes not yet consumed.
func (s *PushStream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

var _ io.ReadWriteCloser = (*PushStream)(nil)
