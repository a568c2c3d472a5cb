package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore implements Store with in-process concurrency safety. It
// backs tests and local development; production deployments use PGStore.
type InMemoryStore struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]*User
	byName map[string]uuid.UUID
	tokens map[string]*RefreshToken // token hash -> row
	audit  []*AuditEntry
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:  make(map[uuid.UUID]*User),
		byName: make(map[string]uuid.UUID),
		tokens: make(map[string]*RefreshToken),
	}
}

func (s *InMemoryStore) Users() UserStore          { return (*memUserStore)(s) }
func (s *InMemoryStore) RefreshTokens() TokenStore { return (*memTokenStore)(s) }
func (s *InMemoryStore) Audit() AuditStore         { return (*memAuditStore)(s) }

// AddUser seeds a user record. It exists for tests and local bootstrap;
// real registration lives outside this subsystem.
func (s *InMemoryStore) AddUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	s.byName[u.Username] = u.ID
}

// AuditEntries returns a snapshot of recorded audit entries.
func (s *InMemoryStore) AuditEntries() []*AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// TokenCount reports how many refresh-token rows exist.
func (s *InMemoryStore) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// User store ---------------------------------------------------------------
type memUserStore InMemoryStore

func (s *memUserStore) GetByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *memUserStore) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) UpdateLastLogin(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	return nil
}

// Token store --------------------------------------------------------------
type memTokenStore InMemoryStore

func (s *memTokenStore) Create(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	cp := *tok
	s.tokens[tok.TokenHash] = &cp
	return nil
}

func (s *memTokenStore) GetByHash(_ context.Context, tokenHash string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

// Revoke holds the write lock across check-and-set, mirroring the
// conditional update the Postgres store relies on.
func (s *memTokenStore) Revoke(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenHash]
	if !ok {
		return ErrNotFound
	}
	if tok.RevokedAt != nil {
		return ErrTokenRevoked
	}
	now := time.Now().UTC()
	tok.RevokedAt = &now
	return nil
}

func (s *memTokenStore) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, tok := range s.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			tok.RevokedAt = &now
		}
	}
	return nil
}

func (s *memTokenStore) CleanExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var removed int64
	for hash, tok := range s.tokens {
		if tok.RevokedAt != nil || now.After(tok.ExpiresAt) {
			delete(s.tokens, hash)
			removed++
		}
	}
	return removed, nil
}

// Audit store --------------------------------------------------------------
type memAuditStore InMemoryStore

func (s *memAuditStore) Create(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.audit = append(s.audit, &cp)
	return nil
}
