package automation

import (
	"fmt"
	"strings"

	"crm-automation-api/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Filter selects rules by their active flag.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterActive   Filter = "active"
	FilterInactive Filter = "inactive"
)

// ParseFilter accepts "", all, active and inactive.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterActive, FilterInactive:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// FilterRules is a pure projection; the input slice is not modified.
func FilterRules(rules []domain.AutomationRule, f Filter) []domain.AutomationRule {
	switch f {
	case FilterActive:
		return lo.Filter(rules, func(r domain.AutomationRule, _ int) bool { return r.Active })
	case FilterInactive:
		return lo.Filter(rules, func(r domain.AutomationRule, _ int) bool { return !r.Active })
	default:
		return append([]domain.AutomationRule{}, rules...)
	}
}

// WebhookURL is the public inbound address of a rule.
func WebhookURL(baseURL string, ruleID uuid.UUID) string {
	return strings.TrimRight(baseURL, "/") + "/api/webhook/" + ruleID.String()
}
