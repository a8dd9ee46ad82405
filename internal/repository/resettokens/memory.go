package resettokens

import (
	"context"
	"sync"
	"time"

	"github.com/Ethaniconic/Swalambh-mvp/internal/domain"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository"
)

const sweepInterval = 5 * time.Minute

type memoryEntry struct {
	token     domain.ResetToken
	expiresAt time.Time
}

// MemoryStore is an in-process ResetTokenRepository used when no Redis
// address is configured. It honors the same hard-ttl contract: expired
// tokens are invisible immediately and swept in the background.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	stopCh  chan struct{}
	once    sync.Once
}

var _ repository.ResetTokenRepository = (*MemoryStore)(nil)

// NewMemoryStore constructs a MemoryStore and starts its sweep loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		stopCh:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Save stores the token until ttl elapses.
func (s *MemoryStore) Save(_ context.Context, token *domain.ResetToken, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token.ID] = memoryEntry{token: *token, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get returns the token if present and unexpired.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.entries, id)
		return nil, repository.ErrNotFound
	}
	token := entry.token
	return &token, nil
}

// Consume removes and returns the token, enforcing single use.
func (s *MemoryStore) Consume(_ context.Context, id string) (*domain.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.entries, id)
		return nil, repository.ErrNotFound
	}
	delete(s.entries, id)
	token := entry.token
	token.Used = true
	return &token, nil
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
}

// Close stops the sweep loop.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.stopCh)
	})
	return nil
}
