package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/lcf-connectors/internal/store"
)

// ConnectionStore keeps repository connections in a map. Deleting a
// connection also clears its rows from the paired HistoryStore when one is
// attached.
type ConnectionStore struct {
	mu      sync.RWMutex
	conns   map[string]store.Connection
	history *HistoryStore
}

// NewConnectionStore constructs a ConnectionStore. history may be nil.
func NewConnectionStore(history *HistoryStore) *ConnectionStore {
	return &ConnectionStore{
		conns:   make(map[string]store.Connection),
		history: history,
	}
}

// Install is a no-op for the in-memory store.
func (s *ConnectionStore) Install(context.Context) error { return nil }

// Save inserts or replaces the connection.
func (s *ConnectionStore) Save(_ context.Context, conn store.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.Name] = conn.Clone()
	return nil
}

// Load fetches one connection.
func (s *ConnectionStore) Load(_ context.Context, name string) (store.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[name]
	if !ok {
		return store.Connection{}, store.ErrNotFound
	}
	return conn.Clone(), nil
}

// LoadMultiple fetches the named connections, skipping unknown names.
func (s *ConnectionStore) LoadMultiple(_ context.Context, names []string) ([]store.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Connection, 0, len(names))
	for _, name := range names {
		if conn, ok := s.conns[name]; ok {
			out = append(out, conn.Clone())
		}
	}
	return out, nil
}

// All returns every connection ordered by lower-cased name.
func (s *ConnectionStore) All(context.Context) ([]store.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		out = append(out, conn.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Delete removes the connection and its history.
func (s *ConnectionStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	_, ok := s.conns[name]
	delete(s.conns, name)
	s.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	if s.history != nil {
		return s.history.DeleteOwner(ctx, name)
	}
	return nil
}

// IsReferenced reports whether any connection names authority.
func (s *ConnectionStore) IsReferenced(_ context.Context, authority string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.conns {
		if conn.ACLAuthority == authority {
			return true, nil
		}
	}
	return false, nil
}

// FindForConnector lists the names of connections using className.
func (s *ConnectionStore) FindForConnector(_ context.Context, className string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, conn := range s.conns {
		if conn.ClassName == className {
			out = append(out, conn.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}
