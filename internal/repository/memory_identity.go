package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricart/storefront/internal/model"
)

// MemoryIdentityStore keeps identities in process memory.  It is a
// single-node, non-durable store for local development (STORE_DRIVER=memory)
// and tests; everything is lost on restart.
type MemoryIdentityStore struct {
	mu      sync.RWMutex
	byID    map[string]model.Identity
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		byID:    make(map[string]model.Identity),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryIdentityStore) Create(ctx context.Context, id *model.Identity) error {
	if err := ctx.Err(); err != nil {
		return classify("repository.memory.Create", err)
	}
	email := NormalizeEmail(id.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrEmailExists
	}
	now := s.now().UTC()
	id.ID = uuid.NewString()
	id.Email = email
	id.CreatedAt = now
	id.UpdatedAt = now
	s.byID[id.ID] = *id
	s.byEmail[email] = id.ID
	return nil
}

func (s *MemoryIdentityStore) FindByID(ctx context.Context, id string) (model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return model.Identity{}, classify("repository.memory.FindByID", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return model.Identity{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryIdentityStore) FindByEmail(ctx context.Context, email string) (model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return model.Identity{}, classify("repository.memory.FindByEmail", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return model.Identity{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryIdentityStore) SetRefreshTokenHash(ctx context.Context, id, hash string) error {
	if err := ctx.Err(); err != nil {
		return classify("repository.memory.SetRefreshTokenHash", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.RefreshTokenHash = hash
	u.UpdatedAt = s.now().UTC()
	s.byID[id] = u
	return nil
}

func (s *MemoryIdentityStore) Ping(ctx context.Context) error { return ctx.Err() }
