// Package memory is a mutex-guarded in-process PropertyStore for
// embedders without a database and for tests. It never blocks, so
// synchronous hosts observe synchronous behavior through the same
// context-based interface.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tealdao/derivekit/core"
)

type store struct {
	mux    sync.RWMutex
	values map[string][]byte
}

func New() core.PropertyStore {
	return &store{values: map[string][]byte{}}
}

func (s *store) Get(_ context.Context, key string, value any) error {
	s.mux.RLock()
	raw, ok := s.values[key]
	s.mux.RUnlock()

	if !ok {
		return nil
	}

	return json.Unmarshal(raw, value)
}

func (s *store) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mux.Lock()
	s.values[key] = raw
	s.mux.Unlock()
	return nil
}

func (s *store) Delete(_ context.Context, key string) error {
	s.mux.Lock()
	delete(s.values, key)
	s.mux.Unlock()
	return nil
}
