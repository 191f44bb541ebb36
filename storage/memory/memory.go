// Package memory provides a thread-safe in-memory implementation of
// storage.Store. Suitable for testing, demos, and dry runs.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/certward/internal/util"
	"github.com/jmcleod/certward/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string]*storage.Artifact
}

var _ storage.Store = (*Store)(nil)

// New creates a new empty in-memory Store.
func New() *Store {
	return &Store{data: make(map[string]*storage.Artifact)}
}

func cloneArtifact(art *storage.Artifact) *storage.Artifact {
	if art == nil {
		return nil
	}
	return &storage.Artifact{
		CertPEM: util.CopyBytes(art.CertPEM),
		KeyPEM:  util.CopyBytes(art.KeyPEM),
	}
}

func (s *Store) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[name]
	return ok
}

func (s *Store) Load(name string) (*storage.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.data[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, storage.ErrNotFound)
	}
	return cloneArtifact(art), nil
}

func (s *Store) Save(name string, art *storage.Artifact) error {
	if name == "" {
		return fmt.Errorf("%q: %w", name, storage.ErrInvalidName)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = cloneArtifact(art)
	return nil
}

func (s *Store) Archive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	art, ok := s.data[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, storage.ErrNotFound)
	}
	stamp := time.Now().Format("20060102150405")
	s.data[fmt.Sprintf("%s.old.%s", name, stamp)] = art
	delete(s.data, name)
	return nil
}

// Len reports the number of artifacts held, archived entries included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
