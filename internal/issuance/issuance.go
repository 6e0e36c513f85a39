// Package issuance implements the primary-market engine: project creation
// with a fixed share supply, fixed-price share sales from the project's
// reserved pool, and withdrawal of escrowed proceeds.
package issuance

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/equityx/exchange/internal/ledger"
	"github.com/equityx/exchange/internal/market"
	"github.com/equityx/exchange/internal/models"
)

// DefaultTotalShares is the fixed share supply every project is created with.
var DefaultTotalShares = decimal.NewFromInt(1_000_000)

// Roles answers role-membership questions for authorization checks. The
// engine never manages identities itself.
type Roles interface {
	IsAdmin(userID int) bool
}

// Engine is the issuance engine. All mutating operations are serialized by
// an internal mutex; the engine has no other concurrency machinery.
type Engine struct {
	mu sync.Mutex

	store    *ledger.Store
	currency ledger.CurrencyLedger
	equity   ledger.EquityLedger
	registry ledger.CurrencyRegistry
	roles    Roles

	totalShares    decimal.Decimal
	issuanceFeeBps int64

	now func() time.Time
}

// Config carries the engine's fixed parameters.
type Config struct {
	TotalShares    decimal.Decimal // zero value means DefaultTotalShares
	IssuanceFeeBps int64
	Now            func() time.Time // nil means time.Now
}

func NewEngine(store *ledger.Store, currency ledger.CurrencyLedger, equity ledger.EquityLedger,
	registry ledger.CurrencyRegistry, roles Roles, cfg Config) *Engine {
	if cfg.TotalShares.IsZero() {
		cfg.TotalShares = DefaultTotalShares
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:          store,
		currency:       currency,
		equity:         equity,
		registry:       registry,
		roles:          roles,
		totalShares:    cfg.TotalShares,
		issuanceFeeBps: cfg.IssuanceFeeBps,
		now:            cfg.Now,
	}
}

// wholeShares reports whether d is a positive whole number of shares.
func wholeShares(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(0))
}

// feeOf returns bps basis points of value, truncated to places decimals.
func feeOf(value decimal.Decimal, bps int64, places int32) decimal.Decimal {
	return value.Mul(decimal.NewFromInt(bps)).Shift(-4).RoundDown(places)
}

// CreateProject mints a project's fixed share supply and opens its primary
// sale. The issuance fee, a basis-point fraction of sharesToSell, is taken
// in shares and minted to the platform account; the rest of the tranche
// becomes the sellable pool and the remainder of the supply goes to the
// founder. pricePerShare is valuation divided by the total supply, truncated
// to the purchase currency's decimals.
func (e *Engine) CreateProject(founderID int, name, symbol, currencyCode string,
	valuation, sharesToSell decimal.Decimal) (*models.Project, error) {

	e.mu.Lock()
	defer e.mu.Unlock()

	if name == "" || symbol == "" || !valuation.IsPositive() {
		return nil, market.ErrInvalidParameter
	}
	if !wholeShares(sharesToSell) || sharesToSell.GreaterThan(e.totalShares) {
		return nil, market.ErrInvalidParameter
	}
	decimals, ok := e.registry.Decimals(currencyCode)
	if !ok {
		return nil, market.ErrCurrencyNotAccepted
	}

	price := valuation.DivRound(e.totalShares, decimals+4).RoundDown(decimals)
	if !price.IsPositive() {
		return nil, market.ErrInvalidParameter
	}

	fee := feeOf(sharesToSell, e.issuanceFeeBps, 0)
	sellable := sharesToSell.Sub(fee)

	p := &models.Project{
		ID:               uuid.New(),
		Name:             name,
		Symbol:           symbol,
		FounderID:        founderID,
		Currency:         currencyCode,
		CurrencyDecimals: decimals,
		TotalShares:      e.totalShares,
		AvailableShares:  sellable,
		SharesSold:       decimal.Zero,
		PricePerShare:    price,
		AvailableFunds:   decimal.Zero,
		CreatedAt:        e.now(),
	}

	e.equity.Mint(p.ID, models.PlatformAccount, fee)
	e.equity.Mint(p.ID, models.ProjectAccount(p.ID), sellable)
	e.equity.Mint(p.ID, models.UserAccount(founderID), e.totalShares.Sub(sharesToSell))

	e.store.PutProject(p)
	return p, nil
}

// BuyShares sells amount shares from the primary pool at the fixed price.
// The cost moves from the buyer into the project's escrow and becomes
// withdrawable proceeds. Returns the cost charged.
func (e *Engine) BuyShares(buyerID int, projectID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project(projectID)
	if p == nil {
		return decimal.Zero, market.ErrProjectNotFound
	}
	if !wholeShares(amount) {
		return decimal.Zero, market.ErrInvalidParameter
	}
	if amount.GreaterThan(p.AvailableShares) {
		return decimal.Zero, market.ErrInsufficientSupply
	}

	cost := amount.Mul(p.PricePerShare)
	if err := e.currency.Transfer(models.UserAccount(buyerID), models.ProjectAccount(p.ID), cost); err != nil {
		return decimal.Zero, market.ErrInsufficientFunds
	}
	// Escrow succeeded; the share transfer cannot fail because the pool
	// balance mirrors AvailableShares.
	if err := e.equity.Transfer(p.ID, models.ProjectAccount(p.ID), models.UserAccount(buyerID), amount); err != nil {
		return decimal.Zero, err
	}

	p.AvailableShares = p.AvailableShares.Sub(amount)
	p.SharesSold = p.SharesSold.Add(amount)
	p.AvailableFunds = p.AvailableFunds.Add(cost)
	return cost, nil
}

// WithdrawFunds pays out escrowed proceeds. While the project is unverified
// only the founder may withdraw; once verified, withdrawal authority shifts
// to platform administrators.
func (e *Engine) WithdrawFunds(callerID int, projectID uuid.UUID, amount decimal.Decimal, recipientID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project(projectID)
	if p == nil {
		return market.ErrProjectNotFound
	}
	if p.Verified {
		if !e.roles.IsAdmin(callerID) {
			return market.ErrUnauthorized
		}
	} else if callerID != p.FounderID {
		return market.ErrUnauthorized
	}
	if !amount.IsPositive() {
		return market.ErrInvalidParameter
	}
	if amount.GreaterThan(p.AvailableFunds) {
		return market.ErrInsufficientFunds
	}

	if err := e.currency.Transfer(models.ProjectAccount(p.ID), models.UserAccount(recipientID), amount); err != nil {
		return market.ErrInsufficientFunds
	}
	p.AvailableFunds = p.AvailableFunds.Sub(amount)
	return nil
}

// EnableSecondaryMarket opens order-book trading for a project. Founder only,
// and only once.
func (e *Engine) EnableSecondaryMarket(callerID int, projectID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project(projectID)
	if p == nil {
		return market.ErrProjectNotFound
	}
	if callerID != p.FounderID {
		return market.ErrUnauthorized
	}
	if p.MarketEnabled {
		return market.ErrMarketAlreadyEnabled
	}
	p.MarketEnabled = true
	return nil
}

// VerifyProject marks a project verified, which moves withdrawal custody
// from the founder to platform administrators. Admin only. There is no
// un-verify path.
func (e *Engine) VerifyProject(callerID int, projectID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.store.Project(projectID)
	if p == nil {
		return market.ErrProjectNotFound
	}
	if !e.roles.IsAdmin(callerID) {
		return market.ErrUnauthorized
	}
	p.Verified = true
	return nil
}
