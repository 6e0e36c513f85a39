package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order lifecycle statuses. Filled and cancelled are terminal: a terminal
// order never re-enters the book and is never mutated again.
const (
	OrderStatusActive          = "active"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
)

// System account identifiers in the currency/equity ledgers.
const (
	PlatformAccount = "platform"
	EscrowAccount   = "escrow"
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Admin        bool
	CreatedAt    time.Time
}

// Project is a fundraising entity with a fixed total share count and one
// designated purchase currency.
type Project struct {
	ID               uuid.UUID       `json:"id"`
	Name             string          `json:"name"`
	Symbol           string          `json:"symbol"`
	FounderID        int             `json:"founder_id"`
	Currency         string          `json:"currency"`
	CurrencyDecimals int32           `json:"currency_decimals"`
	TotalShares      decimal.Decimal `json:"total_shares"`
	AvailableShares  decimal.Decimal `json:"available_shares"` // still for primary sale
	SharesSold       decimal.Decimal `json:"shares_sold"`
	PricePerShare    decimal.Decimal `json:"price_per_share"` // currency units per share
	AvailableFunds   decimal.Decimal `json:"available_funds"` // withdrawable proceeds
	Verified         bool            `json:"verified"`
	MarketEnabled    bool            `json:"market_enabled"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Order represents a resting or terminal limit order
type Order struct {
	ID              int64           `json:"id"`
	ProjectID       uuid.UUID       `json:"project_id"`
	UserID          int             `json:"user_id"`
	Side            string          `json:"side"`
	Shares          decimal.Decimal `json:"shares"`
	SharesRemaining decimal.Decimal `json:"shares_remaining"`
	Price           decimal.Decimal `json:"price"`                // currency units per share
	ExpiresAt       int64           `json:"expires_at,omitempty"` // unix seconds, 0 = never
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Open reports whether the order can still rest in the book.
func (o *Order) Open() bool {
	return o.Status == OrderStatusActive || o.Status == OrderStatusPartiallyFilled
}

// Expired reports whether the order's advisory expiration has passed.
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != 0 && o.ExpiresAt <= now.Unix()
}

// Trade is the immutable record of one match
type Trade struct {
	ID          int64           `json:"id"`
	ProjectID   uuid.UUID       `json:"project_id"`
	BuyOrderID  int64           `json:"buy_order_id"`
	SellOrderID int64           `json:"sell_order_id"`
	BuyerID     int             `json:"buyer_id"`
	SellerID    int             `json:"seller_id"`
	Shares      decimal.Decimal `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"` // deducted from seller proceeds
	ExecutedAt  time.Time       `json:"executed_at"`
}

// MarketStats is derived entirely from trades; never authoritative for
// settlement or matching.
type MarketStats struct {
	ProjectID   uuid.UUID       `json:"project_id"`
	LastPrice   decimal.Decimal `json:"last_price"`
	HighPrice   decimal.Decimal `json:"high_price"`
	LowPrice    decimal.Decimal `json:"low_price"`
	Volume      decimal.Decimal `json:"volume"`       // shares traded
	QuoteVolume decimal.Decimal `json:"quote_volume"` // currency traded
	TradeCount  int64           `json:"trade_count"`
	BestBid     decimal.Decimal `json:"best_bid"`
	BestAsk     decimal.Decimal `json:"best_ask"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PriceLevel is one aggregated row of an order book depth view.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Shares decimal.Decimal `json:"shares"`
	Orders int             `json:"orders"`
}

// UserAccount returns the currency/equity ledger account for a user.
func UserAccount(userID int) string {
	return fmt.Sprintf("user:%d", userID)
}

// ProjectAccount returns the ledger account holding a project's escrowed
// proceeds and its unsold primary share pool.
func ProjectAccount(projectID uuid.UUID) string {
	return "project:" + projectID.String()
}
