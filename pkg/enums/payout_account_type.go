package enums

// PayoutAccountType is the kind of account a provider is paid into.
type PayoutAccountType string

const (
	PayoutAccountBank        PayoutAccountType = "bank"
	PayoutAccountMobileMoney PayoutAccountType = "mobile_money"
)

var validPayoutAccountTypes = []PayoutAccountType{
	PayoutAccountBank,
	PayoutAccountMobileMoney,
}

// IsValid reports whether the value is a known PayoutAccountType.
func (p PayoutAccountType) IsValid() bool {
	return isOneOf(p, validPayoutAccountTypes)
}

// RecipientType returns the gateway recipient type for the account.
func (p PayoutAccountType) RecipientType() string {
	if p == PayoutAccountMobileMoney {
		return "mobile_money"
	}
	return "nuban"
}

// ParsePayoutAccountType converts raw input into a PayoutAccountType.
func ParsePayoutAccountType(value string) (PayoutAccountType, error) {
	return parseOneOf(value, "payout account type", validPayoutAccountTypes)
}
