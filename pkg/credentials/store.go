// Package credentials holds the current access token for a gateway.
//
// A Store keeps exactly one token per gateway origin. Writing a token
// replaces the previous one in full; writing the empty string clears it.
// Stores never touch the network and never inspect the token.
package credentials

import "sync"

// Store is a single slot holding the current access token.
// An empty string means no token is set.
type Store interface {
	Get() (string, error)
	Set(token string) error
	Clear() error
}

// MemoryStore is a Store that lives for the duration of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Get() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) Set(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.Set("")
}

// Compile-time checks that both stores satisfy Store.
var _ Store = (*MemoryStore)(nil)
var _ Store = (*OriginStore)(nil)
