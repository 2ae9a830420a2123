package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateServiceRequest OutboxAggregateType = "service_request"
	AggregateTransaction    OutboxAggregateType = "transaction"
	AggregateProvider       OutboxAggregateType = "provider"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateServiceRequest,
	AggregateTransaction,
	AggregateProvider,
}

// IsValid reports whether the value matches the canonical aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return isOneOf(a, validAggregateTypes)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseOneOf(value, "aggregate type", validAggregateTypes)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventRequestStatusChanged OutboxEventType = "service_request_status_changed"
	EventPaymentSettled       OutboxEventType = "payment_settled"
	EventTransferInitiated    OutboxEventType = "transfer_initiated"
	EventTransferUpdated      OutboxEventType = "transfer_updated"
	EventPayoutConfigured     OutboxEventType = "payout_configured"
)

var validOutboxEventTypes = []OutboxEventType{
	EventRequestStatusChanged,
	EventPaymentSettled,
	EventTransferInitiated,
	EventTransferUpdated,
	EventPayoutConfigured,
}

// IsValid reports whether the value matches the canonical event type.
func (e OutboxEventType) IsValid() bool {
	return isOneOf(e, validOutboxEventTypes)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseOneOf(value, "event type", validOutboxEventTypes)
}
