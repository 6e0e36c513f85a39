package market

import "errors"

// Engine error taxonomy. All are local validation failures detected before
// any state mutation: an operation either fully succeeds or changes nothing.
var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrProjectNotFound      = errors.New("project not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientSupply   = errors.New("insufficient share supply")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrMarketDisabled       = errors.New("secondary market disabled")
	ErrMarketAlreadyEnabled = errors.New("secondary market already enabled")
	ErrNotCancellable       = errors.New("order not cancellable")
	ErrNotOwner             = errors.New("not order owner")
	ErrCurrencyNotAccepted  = errors.New("purchase currency not accepted")
)
