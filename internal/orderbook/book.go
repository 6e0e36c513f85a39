// Package orderbook implements a per-project limit order book with strict
// price/time priority: levels are kept sorted best price first, and each
// level is a FIFO queue, so equal-price orders fill in arrival order.
package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/equityx/exchange/internal/models"
)

// level is one price bucket holding resting orders in arrival order.
type level struct {
	price  decimal.Decimal
	orders []*models.Order
}

func (l *level) totalShares() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.orders {
		total = total.Add(o.SharesRemaining)
	}
	return total
}

// side holds one half of the book, levels sorted best price first:
// descending for buys, ascending for sells.
type side struct {
	levels []*level
	desc   bool
}

// search returns the index where price belongs and whether a level with that
// exact price already exists there.
func (s *side) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		if s.desc {
			return s.levels[i].price.LessThanOrEqual(price)
		}
		return s.levels[i].price.GreaterThanOrEqual(price)
	})
	if i < len(s.levels) && s.levels[i].price.Equal(price) {
		return i, true
	}
	return i, false
}

func (s *side) insert(o *models.Order) *level {
	i, exact := s.search(o.Price)
	if exact {
		lv := s.levels[i]
		lv.orders = append(lv.orders, o)
		return lv
	}
	lv := &level{price: o.Price, orders: []*models.Order{o}}
	s.levels = append(s.levels, nil)
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = lv
	return lv
}

func (s *side) dropLevel(lv *level) {
	for i, cand := range s.levels {
		if cand == lv {
			s.levels = append(s.levels[:i], s.levels[i+1:]...)
			return
		}
	}
}

// Book is the order book for a single project.
type Book struct {
	buys  side
	sells side
	// index maps a resting order id to its level and side for O(1)
	// lookup on removal.
	index map[int64]*entry
}

type entry struct {
	side  *side
	level *level
}

func New() *Book {
	return &Book{
		buys:  side{desc: true},
		sells: side{},
		index: make(map[int64]*entry),
	}
}

// Insert adds an open order to its side's queue. The caller has already
// escrowed the order's collateral.
func (b *Book) Insert(o *models.Order) {
	s := &b.sells
	if o.Side == models.SideBuy {
		s = &b.buys
	}
	lv := s.insert(o)
	b.index[o.ID] = &entry{side: s, level: lv}
}

// BestBuy returns the highest-priced resting buy order, or nil.
func (b *Book) BestBuy() *models.Order {
	return best(&b.buys)
}

// BestSell returns the lowest-priced resting sell order, or nil.
func (b *Book) BestSell() *models.Order {
	return best(&b.sells)
}

func best(s *side) *models.Order {
	if len(s.levels) == 0 {
		return nil
	}
	return s.levels[0].orders[0]
}

// Remove takes an order out of the book. Reports whether it was resting.
func (b *Book) Remove(orderID int64) bool {
	e, ok := b.index[orderID]
	if !ok {
		return false
	}
	for i, o := range e.level.orders {
		if o.ID == orderID {
			e.level.orders = append(e.level.orders[:i], e.level.orders[i+1:]...)
			break
		}
	}
	if len(e.level.orders) == 0 {
		e.side.dropLevel(e.level)
	}
	delete(b.index, orderID)
	return true
}

// Contains reports whether an order is resting in the book.
func (b *Book) Contains(orderID int64) bool {
	_, ok := b.index[orderID]
	return ok
}

// Size returns the number of resting orders per side.
func (b *Book) Size() (buys, sells int) {
	for _, lv := range b.buys.levels {
		buys += len(lv.orders)
	}
	for _, lv := range b.sells.levels {
		sells += len(lv.orders)
	}
	return
}

// Depth returns up to n aggregated price levels per side, best first.
// Pure read, no mutation.
func (b *Book) Depth(n int) (bids, asks []models.PriceLevel) {
	return depth(&b.buys, n), depth(&b.sells, n)
}

func depth(s *side, n int) []models.PriceLevel {
	out := []models.PriceLevel{}
	for _, lv := range s.levels {
		if n > 0 && len(out) >= n {
			break
		}
		out = append(out, models.PriceLevel{
			Price:  lv.price,
			Shares: lv.totalShares(),
			Orders: len(lv.orders),
		})
	}
	return out
}

// Orders returns every resting order on one side, best price first, FIFO
// within a level.
func (b *Book) Orders(orderSide string) []*models.Order {
	s := &b.sells
	if orderSide == models.SideBuy {
		s = &b.buys
	}
	var out []*models.Order
	for _, lv := range s.levels {
		out = append(out, lv.orders...)
	}
	return out
}
