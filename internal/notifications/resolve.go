package notifications

import (
	"fmt"

	"github.com/towline/towline-backend/pkg/enums"
)

// Notification is the message a single lifecycle edge produces.
type Notification struct {
	Recipient enums.ActorRole
	Type      enums.NotificationType
	Title     string
	body      string
}

// Body renders the message for the request's tracking code.
func (n Notification) Body(trackingCode string) string {
	return fmt.Sprintf(n.body, trackingCode)
}

type transitionKey struct {
	prev   enums.RequestStatus
	next   enums.RequestStatus
	driver enums.ActorRole
}

var (
	providerAssigned = Notification{enums.ActorCustomer, enums.NotificationTypeRequestUpdate, "Provider Assigned", "A provider has been assigned to request %s."}
	newJobAssigned   = Notification{enums.ActorProvider, enums.NotificationTypeRequestUpdate, "New Job Assigned", "You have been assigned request %s."}
	paymentReceived  = Notification{enums.ActorProvider, enums.NotificationTypePayment, "Payment Received", "Payment for request %s is secured. You can head out."}
)

var primary = buildPrimary()

// extras holds the additional notifications some edges fan out to.
var extras = map[transitionKey][]Notification{
	{enums.RequestStatusPending, enums.RequestStatusAssigned, enums.ActorSystem}: {providerAssigned},
}

func buildPrimary() map[transitionKey]Notification {
	t := map[transitionKey]Notification{
		{enums.RequestStatusPending, enums.RequestStatusAssigned, enums.ActorSystem}:   newJobAssigned,
		{enums.RequestStatusPending, enums.RequestStatusAssigned, enums.ActorCustomer}: newJobAssigned,
		{enums.RequestStatusPending, enums.RequestStatusAssigned, enums.ActorAdmin}:    providerAssigned,

		{enums.RequestStatusAssigned, enums.RequestStatusQuoted, enums.ActorProvider}: {
			enums.ActorCustomer, enums.NotificationTypeRequestUpdate, "Quote Received", "Your provider sent a quote for request %s.",
		},
		{enums.RequestStatusQuoted, enums.RequestStatusAccepted, enums.ActorCustomer}: {
			enums.ActorProvider, enums.NotificationTypeRequestUpdate, "Quote Accepted", "The customer accepted your quote for request %s.",
		},
		{enums.RequestStatusAccepted, enums.RequestStatusAwaitingPayment, enums.ActorSettlement}: {
			enums.ActorCustomer, enums.NotificationTypePayment, "Payment Pending", "Complete payment for request %s to dispatch your provider.",
		},
		{enums.RequestStatusAwaitingPayment, enums.RequestStatusPaid, enums.ActorSettlement}: paymentReceived,
		{enums.RequestStatusAccepted, enums.RequestStatusPaid, enums.ActorSettlement}:        paymentReceived,

		{enums.RequestStatusPaid, enums.RequestStatusEnRoute, enums.ActorProvider}: {
			enums.ActorCustomer, enums.NotificationTypeRequestUpdate, "Provider On The Way", "Your provider is on the way for request %s.",
		},
		{enums.RequestStatusEnRoute, enums.RequestStatusInProgress, enums.ActorProvider}: {
			enums.ActorCustomer, enums.NotificationTypeRequestUpdate, "Service Started", "Work on request %s has started.",
		},
		{enums.RequestStatusInProgress, enums.RequestStatusCompleted, enums.ActorProvider}: {
			enums.ActorCustomer, enums.NotificationTypeRequestUpdate, "Service Completed", "Request %s is complete. Please confirm.",
		},
	}

	cancelledByCustomer := Notification{enums.ActorProvider, enums.NotificationTypeRequestUpdate, "Request Cancelled", "The customer cancelled request %s."}
	cancelledByProvider := Notification{enums.ActorCustomer, enums.NotificationTypeRequestUpdate, "Provider Cancelled", "Your provider cancelled request %s."}
	for _, prev := range enums.RequestStatuses() {
		if prev.IsTerminal() {
			continue
		}
		t[transitionKey{prev, enums.RequestStatusCancelled, enums.ActorCustomer}] = cancelledByCustomer
		t[transitionKey{prev, enums.RequestStatusCancelled, enums.ActorProvider}] = cancelledByProvider
	}
	return t
}

// Resolve returns the primary notification for a lifecycle edge.
func Resolve(prev, next enums.RequestStatus, driver enums.ActorRole) (Notification, bool) {
	n, ok := primary[transitionKey{prev, next, driver}]
	return n, ok
}

// ResolveAll returns every notification an edge produces, primary first.
func ResolveAll(prev, next enums.RequestStatus, driver enums.ActorRole) []Notification {
	key := transitionKey{prev, next, driver}
	n, ok := primary[key]
	if !ok {
		return nil
	}
	return append([]Notification{n}, extras[key]...)
}
