package ledger

import (
	"sync"

	"github.com/google/uuid"

	"github.com/equityx/exchange/internal/models"
)

// Store holds the authoritative project, order, trade and stats records.
// It has no behavior of its own; the issuance and matching engines mutate
// the records they obtain from it under their own serialization.
type Store struct {
	mu         sync.RWMutex
	projects   map[uuid.UUID]*models.Project
	orders     map[int64]*models.Order
	userOrders map[int][]int64
	trades     map[uuid.UUID][]models.Trade
	stats      map[uuid.UUID]*models.MarketStats
}

func NewStore() *Store {
	return &Store{
		projects:   make(map[uuid.UUID]*models.Project),
		orders:     make(map[int64]*models.Order),
		userOrders: make(map[int][]int64),
		trades:     make(map[uuid.UUID][]models.Trade),
		stats:      make(map[uuid.UUID]*models.MarketStats),
	}
}

// PutProject registers a project record.
func (s *Store) PutProject(p *models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// Project returns the live project record, or nil.
func (s *Store) Project(id uuid.UUID) *models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects[id]
}

// Projects returns all project records.
func (s *Store) Projects() []*models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out
}

// PutOrder registers an order record and indexes it by owner.
func (s *Store) PutOrder(o *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	s.userOrders[o.UserID] = append(s.userOrders[o.UserID], o.ID)
}

// Order returns the live order record, or nil.
func (s *Store) Order(id int64) *models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders[id]
}

// UserOrders returns copies of a user's orders, oldest first.
func (s *Store) UserOrders(userID int) []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.userOrders[userID]
	out := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		if o := s.orders[id]; o != nil {
			out = append(out, *o)
		}
	}
	return out
}

// AppendTrade appends to a project's trade history. Trades are append-only.
func (s *Store) AppendTrade(t models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.ProjectID] = append(s.trades[t.ProjectID], t)
}

// Trades returns up to limit most recent trades for a project, newest last.
// limit <= 0 returns the full history.
func (s *Store) Trades(projectID uuid.UUID, limit int) []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.trades[projectID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.Trade, len(all))
	copy(out, all)
	return out
}

// Stats returns the live stats record for a project, creating it on first use.
func (s *Store) Stats(projectID uuid.UUID) *models.MarketStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[projectID]
	if st == nil {
		st = &models.MarketStats{ProjectID: projectID}
		s.stats[projectID] = st
	}
	return st
}
