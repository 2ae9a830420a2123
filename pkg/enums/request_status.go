package enums

// RequestStatus is the lifecycle status of a service request.
type RequestStatus string

const (
	RequestStatusPending         RequestStatus = "pending"
	RequestStatusAssigned        RequestStatus = "assigned"
	RequestStatusQuoted          RequestStatus = "quoted"
	RequestStatusAccepted        RequestStatus = "accepted"
	RequestStatusAwaitingPayment RequestStatus = "awaiting_payment"
	RequestStatusPaid            RequestStatus = "paid"
	RequestStatusEnRoute         RequestStatus = "en_route"
	RequestStatusInProgress      RequestStatus = "in_progress"
	RequestStatusCompleted       RequestStatus = "completed"
	RequestStatusCancelled       RequestStatus = "cancelled"
)

var validRequestStatuses = []RequestStatus{
	RequestStatusPending,
	RequestStatusAssigned,
	RequestStatusQuoted,
	RequestStatusAccepted,
	RequestStatusAwaitingPayment,
	RequestStatusPaid,
	RequestStatusEnRoute,
	RequestStatusInProgress,
	RequestStatusCompleted,
	RequestStatusCancelled,
}

// RequestStatuses returns every known status in lifecycle order.
func RequestStatuses() []RequestStatus {
	out := make([]RequestStatus, len(validRequestStatuses))
	copy(out, validRequestStatuses)
	return out
}

// String implements fmt.Stringer.
func (s RequestStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known RequestStatus.
func (s RequestStatus) IsValid() bool {
	return isOneOf(s, validRequestStatuses)
}

// IsTerminal reports whether no further transitions are possible.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusCancelled
}

// ParseRequestStatus converts raw input into a RequestStatus.
func ParseRequestStatus(value string) (RequestStatus, error) {
	return parseOneOf(value, "request status", validRequestStatuses)
}
