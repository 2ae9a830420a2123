package enums

// NotificationType groups in-app notifications by source.
type NotificationType string

const (
	NotificationTypeRequestUpdate NotificationType = "request_update"
	NotificationTypePayment       NotificationType = "payment"
	NotificationTypePayout        NotificationType = "payout"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeRequestUpdate,
	NotificationTypePayment,
	NotificationTypePayout,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	return isOneOf(n, validNotificationTypes)
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	return parseOneOf(value, "notification type", validNotificationTypes)
}
