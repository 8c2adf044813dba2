package memory

import (
	"context"
	"sync"
)

// VersionStore keeps indexed versions per connection.
type VersionStore struct {
	mu       sync.RWMutex
	versions map[string]map[string]string
}

// NewVersionStore constructs an empty VersionStore.
func NewVersionStore() *VersionStore {
	return &VersionStore{versions: make(map[string]map[string]string)}
}

// Get returns "" for a document never indexed.
func (s *VersionStore) Get(_ context.Context, connection, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[connection][id], nil
}

// Put records the version of a document.
func (s *VersionStore) Put(_ context.Context, connection, id, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.versions[connection]
	if !ok {
		byID = make(map[string]string)
		s.versions[connection] = byID
	}
	byID[id] = version
	return nil
}

// Delete forgets a document.
func (s *VersionStore) Delete(_ context.Context, connection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions[connection], id)
	return nil
}

// List returns a copy of the versions of a connection.
func (s *VersionStore) List(_ context.Context, connection string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.versions[connection]))
	for k, v := range s.versions[connection] {
		out[k] = v
	}
	return out, nil
}
