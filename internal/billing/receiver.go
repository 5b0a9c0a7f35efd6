package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-automation-api/internal/logger"
	"crm-automation-api/internal/metrics"
	"crm-automation-api/internal/store/subscription"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrMalformedEvent is a correctly signed body that is not an event.
var ErrMalformedEvent = errors.New("malformed billing event")

// Outcome describes what happened to one delivery.
type Outcome struct {
	EventID   string
	EventType string
	Duplicate bool
	Skipped   bool
}

// Receiver reconciles local subscription state from provider events.
type Receiver struct {
	store     subscription.SubscriptionStorer
	provider  SubscriptionFetcher
	secret    string
	tolerance time.Duration
	metrics   *metrics.Recorder
	log       *zap.Logger
	now       func() time.Time
}

// NewReceiver creates a Receiver verifying deliveries with secret.
func NewReceiver(
	store subscription.SubscriptionStorer,
	provider SubscriptionFetcher,
	secret string,
	tolerance time.Duration,
	recorder *metrics.Recorder,
	log *zap.Logger,
) *Receiver {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Receiver{
		store:     store,
		provider:  provider,
		secret:    secret,
		tolerance: tolerance,
		metrics:   recorder,
		log:       logger.WithComponent(log, "billing"),
		now:       time.Now,
	}
}

// Handle verifies and applies one delivery. Errors wrapping
// domain.ErrInvalidSignature or ErrMalformedEvent must not be retried by the
// provider; every other error should be.
func (r *Receiver) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if err := VerifySignature(payload, signature, r.secret, r.tolerance, r.now()); err != nil {
		r.log.Warn("billing webhook rejected", zap.String("reason", err.Error()))
		r.metrics.BillingEvent("unknown", "rejected")
		return Outcome{}, err
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		r.log.Warn("billing webhook body is not an event", zap.Error(err))
		r.metrics.BillingEvent("unknown", "rejected")
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.Type == "" {
		r.log.Warn("billing webhook event without type")
		r.metrics.BillingEvent("unknown", "rejected")
		return Outcome{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	outcome := Outcome{EventID: event.ID, EventType: event.Type}
	log := r.log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	if event.ID != "" {
		processed, err := r.store.HasProcessedEvent(ctx, event.ID)
		if err != nil {
			return outcome, r.fail(log, event.Type, fmt.Errorf("could not check event idempotency: %w", err))
		}
		if processed {
			log.Info("billing event already processed")
			r.metrics.BillingEvent(event.Type, "duplicate")
			outcome.Duplicate = true
			return outcome, nil
		}
	}

	skipped, err := r.apply(ctx, log, event)
	if err != nil {
		return outcome, r.fail(log, event.Type, err)
	}
	outcome.Skipped = skipped

	if event.ID != "" {
		if err := r.store.MarkEventProcessed(ctx, event.ID, event.Type); err != nil {
			return outcome, r.fail(log, event.Type, fmt.Errorf("could not record processed event: %w", err))
		}
	}

	r.metrics.BillingEvent(event.Type, lo.Ternary(skipped, "skipped", "processed"))
	return outcome, nil
}

func (r *Receiver) fail(log *zap.Logger, eventType string, err error) error {
	log.Error("billing event processing failed", zap.String("error", logger.Truncate(err.Error())))
	r.metrics.BillingEvent(eventType, "error")
	return err
}

// apply dispatches on the event type. skipped reports an acknowledged event
// that changed nothing on purpose.
func (r *Receiver) apply(ctx context.Context, log *zap.Logger, event Event) (skipped bool, err error) {
	switch event.Type {
	case EventCheckoutCompleted:
		return r.checkoutCompleted(ctx, log, event.Data.Object)
	case EventSubscriptionUpdated:
		return r.subscriptionUpdated(ctx, log, event.Data.Object)
	case EventSubscriptionDeleted:
		return r.subscriptionDeleted(ctx, log, event.Data.Object)
	case EventInvoicePaymentFailed:
		return r.invoicePaymentFailed(ctx, log, event.Data.Object)
	default:
		log.Debug("billing event type ignored")
		return true, nil
	}
}

func (r *Receiver) checkoutCompleted(ctx context.Context, log *zap.Logger, raw json.RawMessage) (bool, error) {
	var session CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		log.Warn("checkout session could not be decoded", zap.Error(err))
		return true, nil
	}
	customerID, subscriptionID := string(session.Customer), string(session.Subscription)
	if customerID == "" || subscriptionID == "" {
		log.Warn("checkout session without customer or subscription")
		return true, nil
	}

	userID, ok := session.UserID()
	if !ok {
		found, exists, err := r.store.FindUserIDByCustomerID(ctx, customerID)
		if err != nil {
			return false, fmt.Errorf("could not resolve user for customer: %w", err)
		}
		if !exists {
			log.Warn("checkout session for unknown customer without user metadata",
				zap.String("customer_id", customerID))
			return true, nil
		}
		userID = found
	}

	sub, err := r.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("could not fetch subscription: %w", err)
	}

	state, err := r.store.UpsertByUserID(ctx, subscription.UpsertParams{
		UserID:                 userID,
		ProviderCustomerID:     customerID,
		ProviderSubscriptionID: lo.ToPtr(subscriptionID),
		ProviderPriceID:        sub.PriceID(),
		Status:                 Normalize(sub.Status),
		CurrentPeriodEnd:       sub.PeriodEnd(),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
	})
	if err != nil {
		return false, fmt.Errorf("could not upsert subscription state: %w", err)
	}

	log.Info("subscription activated from checkout",
		zap.String("user_id", userID.String()),
		zap.String("status", string(state.Status)))
	return false, nil
}

func (r *Receiver) subscriptionUpdated(ctx context.Context, log *zap.Logger, raw json.RawMessage) (bool, error) {
	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil || sub.Customer == "" {
		log.Warn("subscription update without customer")
		return true, nil
	}

	update := subscription.CustomerUpdate{
		ProviderPriceID:   sub.PriceID(),
		Status:            Normalize(sub.Status),
		CurrentPeriodEnd:  sub.PeriodEnd(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.ID != "" {
		update.ProviderSubscriptionID = lo.ToPtr(sub.ID)
	}

	n, err := r.store.UpdateByCustomerID(ctx, string(sub.Customer), update)
	if err != nil {
		return false, fmt.Errorf("could not update subscription state: %w", err)
	}
	r.logCustomerWrite(log, string(sub.Customer), n)
	return false, nil
}

func (r *Receiver) subscriptionDeleted(ctx context.Context, log *zap.Logger, raw json.RawMessage) (bool, error) {
	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil || sub.Customer == "" {
		log.Warn("subscription deletion without customer")
		return true, nil
	}

	// Altijd canceled, ongeacht de status die de provider meestuurt.
	n, err := r.store.MarkCanceledByCustomerID(ctx, string(sub.Customer))
	if err != nil {
		return false, fmt.Errorf("could not cancel subscription state: %w", err)
	}
	r.logCustomerWrite(log, string(sub.Customer), n)
	return false, nil
}

func (r *Receiver) invoicePaymentFailed(ctx context.Context, log *zap.Logger, raw json.RawMessage) (bool, error) {
	var invoice Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil || invoice.Customer == "" {
		log.Warn("invoice without customer")
		return true, nil
	}

	n, err := r.store.MarkPastDueByCustomerID(ctx, string(invoice.Customer))
	if err != nil {
		return false, fmt.Errorf("could not mark subscription past due: %w", err)
	}
	r.logCustomerWrite(log, string(invoice.Customer), n)
	return false, nil
}

func (r *Receiver) logCustomerWrite(log *zap.Logger, customerID string, rows int64) {
	if rows == 0 {
		log.Info("no subscription state changed for customer", zap.String("customer_id", customerID))
		return
	}
	log.Info("subscription state updated", zap.String("customer_id", customerID))
}
