// Package market implements the secondary-market engine: a per-project
// limit order book with price/time priority, the matching loop, and the
// settlement that moves escrowed currency and shares when orders cross.
package market

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/equityx/exchange/internal/ledger"
	"github.com/equityx/exchange/internal/models"
	"github.com/equityx/exchange/internal/orderbook"
)

// Engine owns the order books. Every mutating operation on a project runs
// under that project's lock from validation through settlement, which is
// what preserves the escrow-before-insert and remove-before-transfer
// ordering the invariants depend on.
type Engine struct {
	store    *ledger.Store
	currency ledger.CurrencyLedger
	equity   ledger.EquityLedger
	seq      *ledger.Sequencer

	tradingFeeBps int64
	now           func() time.Time

	mu    sync.Mutex
	books map[uuid.UUID]*projectBook
}

type projectBook struct {
	mu   sync.Mutex
	book *orderbook.Book
}

// Config carries the engine's fixed parameters.
type Config struct {
	TradingFeeBps int64
	Now           func() time.Time // nil means time.Now
}

func NewEngine(store *ledger.Store, currency ledger.CurrencyLedger, equity ledger.EquityLedger,
	seq *ledger.Sequencer, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:         store,
		currency:      currency,
		equity:        equity,
		seq:           seq,
		tradingFeeBps: cfg.TradingFeeBps,
		now:           cfg.Now,
		books:         make(map[uuid.UUID]*projectBook),
	}
}

func (e *Engine) bookFor(projectID uuid.UUID) *projectBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	pb := e.books[projectID]
	if pb == nil {
		pb = &projectBook{book: orderbook.New()}
		e.books[projectID] = pb
	}
	return pb
}

// PlaceLimitOrder escrows the order's full collateral, inserts it into the
// book and immediately runs the matching loop. Returns the resting order
// record, any trades the insertion produced, and the ids of resting orders
// the loop cancelled as expired.
func (e *Engine) PlaceLimitOrder(userID int, projectID uuid.UUID, side string,
	shares, price decimal.Decimal, expiresAt int64) (*models.Order, []models.Trade, []int64, error) {

	p := e.store.Project(projectID)
	if p == nil {
		return nil, nil, nil, ErrProjectNotFound
	}
	if !p.MarketEnabled {
		return nil, nil, nil, ErrMarketDisabled
	}
	if side != models.SideBuy && side != models.SideSell {
		return nil, nil, nil, ErrInvalidParameter
	}
	if !shares.IsPositive() || !shares.Equal(shares.Truncate(0)) {
		return nil, nil, nil, ErrInvalidParameter
	}
	price = price.RoundDown(p.CurrencyDecimals)
	if !price.IsPositive() {
		return nil, nil, nil, ErrInvalidParameter
	}
	now := e.now()
	if expiresAt != 0 && expiresAt <= now.Unix() {
		return nil, nil, nil, ErrInvalidParameter
	}

	pb := e.bookFor(projectID)
	pb.mu.Lock()
	defer pb.mu.Unlock()

	// Full collateralization before insertion: the book only ever holds
	// orders whose settlement cannot fail.
	if side == models.SideBuy {
		cost := shares.Mul(price)
		if err := e.currency.Transfer(models.UserAccount(userID), models.EscrowAccount, cost); err != nil {
			return nil, nil, nil, ErrInsufficientFunds
		}
	} else {
		if err := e.equity.Transfer(projectID, models.UserAccount(userID), models.EscrowAccount, shares); err != nil {
			return nil, nil, nil, ErrInsufficientSupply
		}
	}

	o := &models.Order{
		ID:              e.seq.Next(),
		ProjectID:       projectID,
		UserID:          userID,
		Side:            side,
		Shares:          shares,
		SharesRemaining: shares,
		Price:           price,
		ExpiresAt:       expiresAt,
		Status:          models.OrderStatusActive,
		CreatedAt:       now,
	}
	e.store.PutOrder(o)
	pb.book.Insert(o)

	trades, released := e.match(p, pb)
	return o, trades, released, nil
}

// CancelOrder removes an open order from the book and releases its
// remaining escrow back to the owner.
func (e *Engine) CancelOrder(userID int, orderID int64) (*models.Order, error) {
	o := e.store.Order(orderID)
	if o == nil {
		return nil, ErrOrderNotFound
	}
	if o.UserID != userID {
		return nil, ErrNotOwner
	}

	pb := e.bookFor(o.ProjectID)
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if !o.Open() {
		return nil, ErrNotCancellable
	}
	e.release(pb, o)
	if p := e.store.Project(o.ProjectID); p != nil {
		e.snapshotBook(p, pb)
	}
	return o, nil
}

// release takes an open order out of the book, refunds its remaining escrow
// and marks it cancelled. Caller holds the project lock.
func (e *Engine) release(pb *projectBook, o *models.Order) {
	pb.book.Remove(o.ID)
	if o.Side == models.SideBuy {
		e.currency.Transfer(models.EscrowAccount, models.UserAccount(o.UserID), o.SharesRemaining.Mul(o.Price))
	} else {
		e.equity.Transfer(o.ProjectID, models.EscrowAccount, models.UserAccount(o.UserID), o.SharesRemaining)
	}
	o.Status = models.OrderStatusCancelled
}

// MatchOrders runs the matching loop for a project. It is idempotent:
// matching an uncrossed book is a no-op. Externally triggerable. Returns the
// trades executed and the ids of resting orders cancelled as expired.
func (e *Engine) MatchOrders(projectID uuid.UUID) ([]models.Trade, []int64, error) {
	p := e.store.Project(projectID)
	if p == nil {
		return nil, nil, ErrProjectNotFound
	}
	pb := e.bookFor(projectID)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	trades, released := e.match(p, pb)
	return trades, released, nil
}

// match executes trades while the best buy and best sell cross. This is the
// sole termination condition: when it stops, no resting buy price is at or
// above any resting sell price. Expired orders reaching the head of a queue
// are cancelled and refunded; their ids are returned so callers can persist
// the releases. Caller holds the project lock.
func (e *Engine) match(p *models.Project, pb *projectBook) ([]models.Trade, []int64) {
	var trades []models.Trade
	var released []int64
	for {
		buy := pb.book.BestBuy()
		sell := pb.book.BestSell()
		if buy == nil || sell == nil {
			break
		}
		now := e.now()
		if buy.Expired(now) {
			e.release(pb, buy)
			released = append(released, buy.ID)
			continue
		}
		if sell.Expired(now) {
			e.release(pb, sell)
			released = append(released, sell.ID)
			continue
		}
		if buy.Price.LessThan(sell.Price) {
			break
		}
		trades = append(trades, e.settle(p, pb, buy, sell))
	}
	e.snapshotBook(p, pb)
	return trades, released
}

// SweepExpired cancels and refunds every resting order whose expiration has
// passed, wherever it sits in the book. Intended to be driven by a
// scheduled sweep.
func (e *Engine) SweepExpired(projectID uuid.UUID) ([]int64, error) {
	p := e.store.Project(projectID)
	if p == nil {
		return nil, ErrProjectNotFound
	}
	pb := e.bookFor(projectID)
	pb.mu.Lock()
	defer pb.mu.Unlock()

	now := e.now()
	var expired []*models.Order
	for _, side := range []string{models.SideBuy, models.SideSell} {
		for _, o := range pb.book.Orders(side) {
			if o.Expired(now) {
				expired = append(expired, o)
			}
		}
	}
	ids := make([]int64, 0, len(expired))
	for _, o := range expired {
		e.release(pb, o)
		ids = append(ids, o.ID)
	}
	if len(ids) > 0 {
		e.snapshotBook(p, pb)
	}
	return ids, nil
}

// RestoreOrder reinserts a persisted open order on startup. Its collateral
// is already reflected in the reloaded ledger balances, so nothing is
// escrowed again.
func (e *Engine) RestoreOrder(o *models.Order) {
	if !o.Open() {
		return
	}
	pb := e.bookFor(o.ProjectID)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	e.store.PutOrder(o)
	pb.book.Insert(o)
}

// RestoreTrade replays a persisted trade into the project's history and
// derived statistics on startup. Trades must be replayed in execution order.
func (e *Engine) RestoreTrade(t models.Trade) {
	p := e.store.Project(t.ProjectID)
	if p == nil {
		return
	}
	e.store.AppendTrade(t)
	e.recordTrade(p, t)
}

// RefreshDepthStats re-derives the best bid/ask snapshot from the book.
// Called after the open orders have been restored on startup.
func (e *Engine) RefreshDepthStats(projectID uuid.UUID) {
	p := e.store.Project(projectID)
	if p == nil {
		return
	}
	pb := e.bookFor(projectID)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	e.snapshotBook(p, pb)
}

// snapshotBook refreshes the derived best bid/ask on the project's stats.
// Caller holds the project lock.
func (e *Engine) snapshotBook(p *models.Project, pb *projectBook) {
	st := e.store.Stats(p.ID)
	st.BestBid = decimal.Zero
	st.BestAsk = decimal.Zero
	if buy := pb.book.BestBuy(); buy != nil {
		st.BestBid = buy.Price
	}
	if sell := pb.book.BestSell(); sell != nil {
		st.BestAsk = sell.Price
	}
}

// GetOrderBookDepth returns up to n aggregated price levels per side.
func (e *Engine) GetOrderBookDepth(projectID uuid.UUID, n int) (bids, asks []models.PriceLevel, err error) {
	if e.store.Project(projectID) == nil {
		return nil, nil, ErrProjectNotFound
	}
	pb := e.bookFor(projectID)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	bids, asks = pb.book.Depth(n)
	return bids, asks, nil
}

// GetUserOrders returns all orders a user has ever placed, oldest first.
func (e *Engine) GetUserOrders(userID int) []models.Order {
	return e.store.UserOrders(userID)
}

// GetTradingHistory returns up to limit most recent trades for a project.
func (e *Engine) GetTradingHistory(projectID uuid.UUID, limit int) ([]models.Trade, error) {
	if e.store.Project(projectID) == nil {
		return nil, ErrProjectNotFound
	}
	return e.store.Trades(projectID, limit), nil
}

// GetMarketStats returns a copy of a project's derived market statistics.
func (e *Engine) GetMarketStats(projectID uuid.UUID) (models.MarketStats, error) {
	if e.store.Project(projectID) == nil {
		return models.MarketStats{}, ErrProjectNotFound
	}
	return *e.store.Stats(projectID), nil
}

// GetOrder returns a copy of an order record.
func (e *Engine) GetOrder(orderID int64) (models.Order, error) {
	o := e.store.Order(orderID)
	if o == nil {
		return models.Order{}, ErrOrderNotFound
	}
	return *o, nil
}

// GetProject returns a copy of the project record.
func (e *Engine) GetProject(projectID uuid.UUID) (models.Project, error) {
	p := e.store.Project(projectID)
	if p == nil {
		return models.Project{}, ErrProjectNotFound
	}
	return *p, nil
}
