package ledger

// CurrencyRegistry is the allow-list of purchase currencies, consulted once
// at project creation.
type CurrencyRegistry interface {
	IsAccepted(code string) bool
	Decimals(code string) (int32, bool)
}

// StaticRegistry maps accepted currency codes to their decimal scale.
type StaticRegistry map[string]int32

func (r StaticRegistry) IsAccepted(code string) bool {
	_, ok := r[code]
	return ok
}

func (r StaticRegistry) Decimals(code string) (int32, bool) {
	d, ok := r[code]
	return d, ok
}

// DefaultRegistry is the stable-currency allow-list the platform accepts.
func DefaultRegistry() StaticRegistry {
	return StaticRegistry{
		"USDC": 6,
		"USDT": 6,
		"DAI":  18,
	}
}
