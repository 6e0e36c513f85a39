package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/equityx/exchange/internal/models"
)

func TestMemCurrencyLedger_Transfer(t *testing.T) {
	l := NewMemCurrencyLedger()
	l.Mint("user:1", decimal.NewFromInt(100))

	if err := l.Transfer("user:1", "user:2", decimal.NewFromInt(60)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !l.Balance("user:1").Equal(decimal.NewFromInt(40)) {
		t.Errorf("expected 40, got %s", l.Balance("user:1"))
	}
	if !l.Balance("user:2").Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected 60, got %s", l.Balance("user:2"))
	}

	// Overdraw fails and changes nothing.
	if err := l.Transfer("user:1", "user:2", decimal.NewFromInt(41)); err != ErrInsufficientBalance {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if !l.Balance("user:1").Equal(decimal.NewFromInt(40)) {
		t.Errorf("balance changed on failed transfer: %s", l.Balance("user:1"))
	}
}

func TestMemEquityLedger_Transfer(t *testing.T) {
	l := NewMemEquityLedger()
	p1 := uuid.New()
	p2 := uuid.New()
	l.Mint(p1, "user:1", decimal.NewFromInt(1000))
	l.Mint(p2, "user:1", decimal.NewFromInt(5))

	if err := l.Transfer(p1, "user:1", "user:2", decimal.NewFromInt(300)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !l.Balance(p1, "user:1").Equal(decimal.NewFromInt(700)) {
		t.Errorf("expected 700, got %s", l.Balance(p1, "user:1"))
	}

	// Holdings are scoped per project.
	if err := l.Transfer(p2, "user:1", "user:2", decimal.NewFromInt(100)); err != ErrInsufficientBalance {
		t.Errorf("expected ErrInsufficientBalance across projects, got %v", err)
	}

	holdings := l.ProjectHoldings(p1)
	if len(holdings) != 2 {
		t.Errorf("expected 2 holders, got %d", len(holdings))
	}
}

func TestSequencer(t *testing.T) {
	s := NewSequencer(0)
	if got := s.Next(); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := s.Next(); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := s.Current(); got != 2 {
		t.Errorf("expected current 2, got %d", got)
	}

	s.Reset(100)
	if got := s.Next(); got != 101 {
		t.Errorf("expected 101 after reset, got %d", got)
	}
}

func TestStaticRegistry(t *testing.T) {
	r := DefaultRegistry()
	if !r.IsAccepted("USDC") {
		t.Error("expected USDC accepted")
	}
	if r.IsAccepted("BTC") {
		t.Error("expected BTC rejected")
	}
	if d, ok := r.Decimals("USDC"); !ok || d != 6 {
		t.Errorf("expected USDC decimals 6, got %d %v", d, ok)
	}
}

func TestStore_Orders(t *testing.T) {
	s := NewStore()
	projectID := uuid.New()

	o1 := &models.Order{ID: 1, ProjectID: projectID, UserID: 7, Status: models.OrderStatusActive}
	o2 := &models.Order{ID: 2, ProjectID: projectID, UserID: 7, Status: models.OrderStatusActive}
	s.PutOrder(o1)
	s.PutOrder(o2)

	if got := s.Order(1); got != o1 {
		t.Error("expected live order record back")
	}
	if got := s.Order(99); got != nil {
		t.Error("expected nil for unknown order")
	}

	orders := s.UserOrders(7)
	if len(orders) != 2 || orders[0].ID != 1 {
		t.Errorf("expected user's orders oldest first, got %v", orders)
	}
}

func TestStore_Trades(t *testing.T) {
	s := NewStore()
	projectID := uuid.New()

	for i := int64(1); i <= 5; i++ {
		s.AppendTrade(models.Trade{ID: i, ProjectID: projectID, Shares: decimal.NewFromInt(i)})
	}

	all := s.Trades(projectID, 0)
	if len(all) != 5 {
		t.Fatalf("expected 5 trades, got %d", len(all))
	}
	last2 := s.Trades(projectID, 2)
	if len(last2) != 2 || last2[0].ID != 4 {
		t.Errorf("expected most recent trades, got %v", last2)
	}
}
