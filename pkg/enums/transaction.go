package enums

// TransactionType classifies money movement rows.
type TransactionType string

const (
	TransactionTypeCustomerToBusiness TransactionType = "customer_to_business"
)

// IsValid reports whether the value is a known TransactionType.
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeCustomerToBusiness
}

// TransferStatus tracks the provider payout leg of a transaction.
type TransferStatus string

const (
	TransferStatusPending  TransferStatus = "pending"
	TransferStatusSuccess  TransferStatus = "success"
	TransferStatusFailed   TransferStatus = "failed"
	TransferStatusReversed TransferStatus = "reversed"
)

var validTransferStatuses = []TransferStatus{
	TransferStatusPending,
	TransferStatusSuccess,
	TransferStatusFailed,
	TransferStatusReversed,
}

// String implements fmt.Stringer.
func (t TransferStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransferStatus.
func (t TransferStatus) IsValid() bool {
	return isOneOf(t, validTransferStatuses)
}

// Retriable reports whether a new transfer may be initiated after this one.
func (t TransferStatus) Retriable() bool {
	return t == TransferStatusFailed || t == TransferStatusReversed
}

// ParseTransferStatus maps gateway transfer states onto TransferStatus.
func ParseTransferStatus(value string) (TransferStatus, error) {
	switch value {
	case "otp", "received", "queued":
		return TransferStatusPending, nil
	case "abandoned", "blocked", "rejected":
		return TransferStatusFailed, nil
	}
	return parseOneOf(value, "transfer status", validTransferStatuses)
}
