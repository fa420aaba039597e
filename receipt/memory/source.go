package memory

import (
	"context"
	"sync"
)

// Source serves a fixed receipt blob, or a scripted error.
type Source struct {
	mu      sync.Mutex
	blob    []byte
	err     error
	fetches int
}

func NewSource(blob []byte) *Source {
	return &Source{blob: blob}
}

func (s *Source) Receipt(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]byte, len(s.blob))
	copy(out, s.blob)
	return out, nil
}

// Fail makes subsequent fetches return err.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Fetches returns how many times the receipt was read.
func (s *Source) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}
