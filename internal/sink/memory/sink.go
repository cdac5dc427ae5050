// Package memory stores sink payloads in-memory for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"
)

// Sink stores payloads in a map and can inject failures for the first
// N Put calls, which the flush retry tests lean on.
type Sink struct {
	mu       sync.Mutex
	objects  map[string][]byte
	puts     int
	failNext int
}

// NewSink creates an empty in-memory sink.
func NewSink() *Sink {
	return &Sink{objects: make(map[string][]byte)}
}

// FailNext makes the next n Put calls return an error.
func (s *Sink) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Put stores a copy of the payload under name.
func (s *Sink) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts++
	if s.failNext > 0 {
		s.failNext--
		return errors.New("injected sink failure")
	}
	s.objects[name] = append([]byte(nil), data...)
	return nil
}

// PutCalls reports how many Put attempts were observed, failures included.
func (s *Sink) PutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Objects returns a snapshot of stored payloads keyed by name.
func (s *Sink) Objects() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.objects))
	for k, v := range s.objects {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
