package billing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Event types the receiver acts on. Everything else is acknowledged only.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// Event is the provider's delivery envelope.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// objectID accepts both a bare id and an expanded object with an id.
type objectID string

func (o *objectID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = objectID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*o = objectID(obj.ID)
	return nil
}

// CheckoutSession is the object of a checkout.session.completed event.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Customer          objectID          `json:"customer"`
	Subscription      objectID          `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// UserID resolves the acting user from metadata, then the client reference.
func (c CheckoutSession) UserID() (uuid.UUID, bool) {
	for _, candidate := range []string{c.Metadata["user_id"], c.ClientReferenceID} {
		if id, err := uuid.Parse(strings.TrimSpace(candidate)); err == nil && id != uuid.Nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

// Subscription is a provider subscription object.
type Subscription struct {
	ID                string   `json:"id"`
	Customer          objectID `json:"customer"`
	Status            string   `json:"status"`
	CurrentPeriodEnd  int64    `json:"current_period_end"`
	CancelAtPeriodEnd bool     `json:"cancel_at_period_end"`
	Items             struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
}

// SubscriptionItem is one priced line of a subscription.
type SubscriptionItem struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
	CurrentPeriodEnd int64 `json:"current_period_end"`
}

// PriceID is the price of the first item, if any.
func (s Subscription) PriceID() *string {
	if len(s.Items.Data) == 0 || s.Items.Data[0].Price.ID == "" {
		return nil
	}
	return lo.ToPtr(s.Items.Data[0].Price.ID)
}

// PeriodEnd reads the subscription level period end, falling back to the
// first item (newer API versions only set it there).
func (s Subscription) PeriodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	if end == 0 && len(s.Items.Data) > 0 {
		end = s.Items.Data[0].CurrentPeriodEnd
	}
	if end == 0 {
		return nil
	}
	return lo.ToPtr(time.Unix(end, 0).UTC())
}

// Invoice is the object of an invoice.payment_failed event.
type Invoice struct {
	ID       string   `json:"id"`
	Customer objectID `json:"customer"`
}
