package domain

const (
	EventAccessGranted  = "ppv.access_granted"
	EventAccessRevoked  = "ppv.access_revoked"
	EventPurchaseFailed = "ppv.purchase_failed"
)

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventAccessGranted, EventAccessRevoked, EventPurchaseFailed:
		return true
	default:
		return false
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	if IsCanonicalEmittedEvent(eventType) {
		return "data.payment_intent_id"
	}
	return ""
}
