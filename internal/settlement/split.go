package settlement

import "github.com/shopspring/decimal"

// DefaultPlatformPercent is the platform's share of every charge.
var DefaultPlatformPercent = decimal.NewFromInt(15)

var hundred = decimal.NewFromInt(100)

// Allocation is a charge divided between provider and platform.
type Allocation struct {
	Amount          decimal.Decimal `json:"amount"`
	ProviderAmount  decimal.Decimal `json:"providerAmount"`
	PlatformAmount  decimal.Decimal `json:"platformAmount"`
	ProviderPercent decimal.Decimal `json:"providerPercent"`
	PlatformPercent decimal.Decimal `json:"platformPercent"`
}

// Split divides amount 85/15.
func Split(amount decimal.Decimal) Allocation {
	return SplitWith(amount, DefaultPlatformPercent)
}

// SplitWith rounds the platform share half-even to the cent and gives the
// provider the remainder, so the two legs always sum to amount.
func SplitWith(amount, platformPercent decimal.Decimal) Allocation {
	platform := amount.Mul(platformPercent).Div(hundred).RoundBank(2)
	return Allocation{
		Amount:          amount,
		ProviderAmount:  amount.Sub(platform),
		PlatformAmount:  platform,
		ProviderPercent: hundred.Sub(platformPercent),
		PlatformPercent: platformPercent,
	}
}

// MinorUnits converts a major amount to pesewas, rounding half away from
// zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts gateway minor units back to a major amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

