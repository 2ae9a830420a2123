package tracking

import "github.com/towline/towline-backend/pkg/enums"

// IsActive reports whether role may stream samples while the request is in
// status. Providers stream only on the way and on site. Customers stream
// until the request is paid.
func IsActive(role enums.ActorRole, status enums.RequestStatus) bool {
	switch role {
	case enums.ActorProvider:
		return status == enums.RequestStatusEnRoute || status == enums.RequestStatusInProgress
	case enums.ActorCustomer:
		switch status {
		case enums.RequestStatusPending,
			enums.RequestStatusAssigned,
			enums.RequestStatusQuoted,
			enums.RequestStatusAccepted,
			enums.RequestStatusAwaitingPayment:
			return true
		}
	}
	return false
}
