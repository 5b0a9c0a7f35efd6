package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AutomationRule is a tenant-configured outbound call bound to an entity event.
type AutomationRule struct {
	TenantEntity
	Name         string            `db:"name"          json:"name"`
	Kind         RuleKind          `db:"kind"          json:"kind"`
	URL          string            `db:"url"           json:"url"`
	HTTPMethod   HTTPMethod        `db:"http_method"   json:"http_method"`
	TargetEntity TargetEntity      `db:"target_entity" json:"target_entity"`
	Event        TriggerEvent      `db:"event"         json:"event"`
	Headers      map[string]string `db:"headers"       json:"headers"`
	BodyTemplate *string           `db:"body_template" json:"body_template,omitempty"`

	// Scheduling, only for rules that are not event driven.
	FrequencyMinutes *int       `db:"frequency_minutes" json:"frequency_minutes,omitempty"`
	NextRunAt        *time.Time `db:"next_run_at"       json:"next_run_at,omitempty"`
	LastRunAt        *time.Time `db:"last_run_at"       json:"last_run_at,omitempty"`

	// Runtime state, written by dispatch bookkeeping only.
	Active         bool      `db:"active"          json:"active"`
	FailedAttempts int       `db:"failed_attempts" json:"failed_attempts"`
	LastStatus     RunStatus `db:"last_status"     json:"last_status"`
	LastError      *string   `db:"last_error"      json:"last_error,omitempty"`

	// Set if and only if Kind == KindWebhook. Stored sealed, held here in plaintext.
	WebhookSecret *string `db:"webhook_secret" json:"webhook_secret,omitempty"`
}

// IsScheduled reports whether the rule runs on a frequency instead of an event.
func (r AutomationRule) IsScheduled() bool {
	return r.FrequencyMinutes != nil && *r.FrequencyMinutes > 0
}

// AutomationLogEntry is one immutable dispatch attempt.
type AutomationLogEntry struct {
	ID             int64           `db:"id"               json:"id"`
	AutomationID   uuid.UUID       `db:"automation_id"    json:"automation_id"`
	Status         RunStatus       `db:"status"           json:"status"`
	RequestPayload json.RawMessage `db:"request_payload"  json:"request_payload,omitempty"`
	ResponseBody   json.RawMessage `db:"response_body"    json:"response_body,omitempty"`
	ErrorMessage   *string         `db:"error_message"    json:"error_message,omitempty"`
	HTTPStatusCode *int            `db:"http_status_code" json:"http_status_code,omitempty"`
	DurationMs     *int64          `db:"duration_ms"      json:"duration_ms,omitempty"`
	CreatedAt      time.Time       `db:"created_at"       json:"created_at"`
}

// SubscriptionState is the local projection of the provider's subscription
// for one user.
type SubscriptionState struct {
	BaseEntity
	UserID                 uuid.UUID          `db:"user_id"                  json:"user_id"`
	ProviderCustomerID     string             `db:"provider_customer_id"     json:"provider_customer_id"`
	ProviderSubscriptionID *string            `db:"provider_subscription_id" json:"provider_subscription_id,omitempty"`
	ProviderPriceID        *string            `db:"provider_price_id"        json:"provider_price_id,omitempty"`
	Status                 SubscriptionStatus `db:"status"                   json:"status"`
	CurrentPeriodEnd       *time.Time         `db:"current_period_end"       json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool               `db:"cancel_at_period_end"     json:"cancel_at_period_end"`
}
