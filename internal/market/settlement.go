package market

import (
	"github.com/shopspring/decimal"

	"github.com/equityx/exchange/internal/models"
)

// settle executes one trade between the best buy and best sell, moving
// escrowed currency and shares atomically under the project lock.
//
// Execution is at the resting sell's price. Any difference against the
// buyer's limit is refunded to the buyer, so per share traded the escrow
// releases exactly the buyer's limit price (seller proceeds plus fee plus
// buyer refund) and currency is conserved to the unit.
func (e *Engine) settle(p *models.Project, pb *projectBook, buy, sell *models.Order) models.Trade {
	qty := decimal.Min(buy.SharesRemaining, sell.SharesRemaining)
	price := sell.Price
	value := qty.Mul(price)

	fee := value.Mul(decimal.NewFromInt(e.tradingFeeBps)).Shift(-4).RoundDown(p.CurrencyDecimals)
	proceeds := value.Sub(fee)

	buyer := models.UserAccount(buy.UserID)
	seller := models.UserAccount(sell.UserID)

	// Both legs were fully escrowed at placement, so none of these
	// transfers can fail.
	e.currency.Transfer(models.EscrowAccount, seller, proceeds)
	if fee.IsPositive() {
		e.currency.Transfer(models.EscrowAccount, models.PlatformAccount, fee)
	}
	if surplus := buy.Price.Sub(price).Mul(qty); surplus.IsPositive() {
		e.currency.Transfer(models.EscrowAccount, buyer, surplus)
	}
	e.equity.Transfer(p.ID, models.EscrowAccount, buyer, qty)

	buy.SharesRemaining = buy.SharesRemaining.Sub(qty)
	sell.SharesRemaining = sell.SharesRemaining.Sub(qty)
	e.advance(pb, buy)
	e.advance(pb, sell)

	t := models.Trade{
		ID:          e.seq.Next(),
		ProjectID:   p.ID,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		Shares:      qty,
		Price:       price,
		Fee:         fee,
		ExecutedAt:  e.now(),
	}
	e.store.AppendTrade(t)
	e.recordTrade(p, t)
	return t
}

// advance applies the post-fill state transition: zero remaining leaves the
// book as filled, otherwise the order stays at the head partially filled.
func (e *Engine) advance(pb *projectBook, o *models.Order) {
	if o.SharesRemaining.IsZero() {
		o.Status = models.OrderStatusFilled
		pb.book.Remove(o.ID)
		return
	}
	o.Status = models.OrderStatusPartiallyFilled
}

// recordTrade folds one trade into the project's derived statistics. These
// values never feed back into matching.
func (e *Engine) recordTrade(p *models.Project, t models.Trade) {
	st := e.store.Stats(p.ID)
	st.LastPrice = t.Price
	if st.TradeCount == 0 || t.Price.GreaterThan(st.HighPrice) {
		st.HighPrice = t.Price
	}
	if st.TradeCount == 0 || t.Price.LessThan(st.LowPrice) {
		st.LowPrice = t.Price
	}
	st.Volume = st.Volume.Add(t.Shares)
	st.QuoteVolume = st.QuoteVolume.Add(t.Shares.Mul(t.Price))
	st.TradeCount++
	st.UpdatedAt = t.ExecutedAt
}
