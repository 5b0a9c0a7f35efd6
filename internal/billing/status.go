package billing

import (
	"strings"

	"crm-automation-api/internal/domain"
)

// Normalize projects the provider's subscription status onto the five local
// states. Unknown and future values become incomplete.
func Normalize(status string) domain.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return domain.SubscriptionActive
	case "trialing":
		return domain.SubscriptionTrialing
	case "past_due", "unpaid":
		return domain.SubscriptionPastDue
	case "canceled", "incomplete_expired":
		return domain.SubscriptionCanceled
	default:
		return domain.SubscriptionIncomplete
	}
}
