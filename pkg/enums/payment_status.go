package enums

// PaymentStatus tracks escrow collection for a service request.
type PaymentStatus string

const (
	PaymentStatusUnpaid          PaymentStatus = "unpaid"
	PaymentStatusAwaitingPayment PaymentStatus = "awaiting_payment"
	PaymentStatusPaid            PaymentStatus = "paid"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusUnpaid,
	PaymentStatusAwaitingPayment,
	PaymentStatusPaid,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	return isOneOf(p, validPaymentStatuses)
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return parseOneOf(value, "payment status", validPaymentStatuses)
}
