package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/equityx/exchange/internal/models"
)

// MemUserStore is an in-memory UserStore. It also satisfies the issuance
// engine's Roles collaborator, which makes it the natural store for tests
// and local development without Postgres.
type MemUserStore struct {
	mu     sync.Mutex
	nextID int
	byName map[string]*models.User
	byID   map[int]*models.User
}

func NewMemUserStore() *MemUserStore {
	return &MemUserStore{
		byName: make(map[string]*models.User),
		byID:   make(map[int]*models.User),
	}
}

func (s *MemUserStore) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[username]; exists {
		return nil, fmt.Errorf("username already taken")
	}
	s.nextID++
	u := &models.User{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	s.byName[username] = u
	s.byID[u.ID] = u
	return u, nil
}

func (s *MemUserStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byName[username]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	return u, nil
}

// SetAdmin grants or revokes the platform-admin role.
func (s *MemUserStore) SetAdmin(userID int, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[userID]; ok {
		u.Admin = admin
	}
}

// IsAdmin satisfies issuance.Roles.
func (s *MemUserStore) IsAdmin(userID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	return ok && u.Admin
}
