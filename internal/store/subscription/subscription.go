package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-automation-api/internal/database"
	"crm-automation-api/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpsertParams is the full projection written on checkout completion.
type UpsertParams struct {
	UserID                 uuid.UUID
	ProviderCustomerID     string
	ProviderSubscriptionID *string
	ProviderPriceID        *string
	Status                 domain.SubscriptionStatus
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
}

// CustomerUpdate is written by subscription.updated events.
type CustomerUpdate struct {
	ProviderSubscriptionID *string // nil = keep
	ProviderPriceID        *string
	Status                 domain.SubscriptionStatus
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
}

// SubscriptionStorer defines the interface for subscription state and billing event bookkeeping.
type SubscriptionStorer interface {
	UpsertByUserID(ctx context.Context, arg UpsertParams) (domain.SubscriptionState, error)
	UpdateByCustomerID(ctx context.Context, customerID string, arg CustomerUpdate) (int64, error)
	MarkCanceledByCustomerID(ctx context.Context, customerID string) (int64, error)
	MarkPastDueByCustomerID(ctx context.Context, customerID string) (int64, error)
	FindUserIDByCustomerID(ctx context.Context, customerID string) (uuid.UUID, bool, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionState, error)
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// SubscriptionStore handles subscription-related database operations
type SubscriptionStore struct {
	db database.Querier
}

// NewSubscriptionStore creates a new SubscriptionStore
func NewSubscriptionStore(db database.Querier) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `id, user_id, provider_customer_id, provider_subscription_id, provider_price_id,
	status, current_period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (domain.SubscriptionState, error) {
	var sub domain.SubscriptionState
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProviderCustomerID,
		&sub.ProviderSubscriptionID,
		&sub.ProviderPriceID,
		&sub.Status,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	return sub, err
}

// UpsertByUserID is an atomic create-or-update keyed by the unique user_id.
// A replay with identical values leaves the row (including updated_at) untouched.
func (s *SubscriptionStore) UpsertByUserID(ctx context.Context, arg UpsertParams) (domain.SubscriptionState, error) {
	query := `INSERT INTO subscription_states (
        user_id, provider_customer_id, provider_subscription_id, provider_price_id,
        status, current_period_end, cancel_at_period_end
    ) VALUES ($1, $2, $3, $4, $5, $6, $7)
    ON CONFLICT (user_id) DO UPDATE SET
        provider_customer_id = EXCLUDED.provider_customer_id,
        provider_subscription_id = EXCLUDED.provider_subscription_id,
        provider_price_id = EXCLUDED.provider_price_id,
        status = EXCLUDED.status,
        current_period_end = EXCLUDED.current_period_end,
        cancel_at_period_end = EXCLUDED.cancel_at_period_end,
        updated_at = now()
    WHERE (subscription_states.provider_customer_id, subscription_states.provider_subscription_id,
           subscription_states.provider_price_id, subscription_states.status,
           subscription_states.current_period_end, subscription_states.cancel_at_period_end)
        IS DISTINCT FROM
          (EXCLUDED.provider_customer_id, EXCLUDED.provider_subscription_id,
           EXCLUDED.provider_price_id, EXCLUDED.status,
           EXCLUDED.current_period_end, EXCLUDED.cancel_at_period_end)
    RETURNING ` + subscriptionColumns + `;`

	sub, err := scanSubscription(s.db.QueryRow(ctx, query,
		arg.UserID,
		arg.ProviderCustomerID,
		arg.ProviderSubscriptionID,
		arg.ProviderPriceID,
		arg.Status,
		arg.CurrentPeriodEnd,
		arg.CancelAtPeriodEnd,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Niets gewijzigd: de bestaande rij is al gelijk.
		existing, getErr := s.GetByUserID(ctx, arg.UserID)
		if getErr != nil {
			return domain.SubscriptionState{}, getErr
		}
		if existing == nil {
			return domain.SubscriptionState{}, domain.ErrNotFound
		}
		return *existing, nil
	}
	if err != nil {
		return domain.SubscriptionState{}, fmt.Errorf("could not upsert subscription: %w", err)
	}
	return sub, nil
}

// UpdateByCustomerID writes only when a field actually differs. It returns the
// number of rows changed; zero covers both "no such customer" and "already equal".
func (s *SubscriptionStore) UpdateByCustomerID(ctx context.Context, customerID string, arg CustomerUpdate) (int64, error) {
	query := `UPDATE subscription_states SET
        provider_subscription_id = COALESCE($2, provider_subscription_id),
        provider_price_id = $3,
        status = $4,
        current_period_end = $5,
        cancel_at_period_end = $6,
        updated_at = now()
    WHERE provider_customer_id = $1
      AND (
        ($2::text IS NOT NULL AND provider_subscription_id IS DISTINCT FROM $2::text)
        OR provider_price_id IS DISTINCT FROM $3
        OR status IS DISTINCT FROM $4
        OR current_period_end IS DISTINCT FROM $5
        OR cancel_at_period_end IS DISTINCT FROM $6
      );`

	cmdTag, err := s.db.Exec(ctx, query,
		customerID,
		arg.ProviderSubscriptionID,
		arg.ProviderPriceID,
		arg.Status,
		arg.CurrentPeriodEnd,
		arg.CancelAtPeriodEnd,
	)
	if err != nil {
		return 0, fmt.Errorf("could not update subscription for customer: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// MarkCanceledByCustomerID forces status canceled and cancel_at_period_end.
func (s *SubscriptionStore) MarkCanceledByCustomerID(ctx context.Context, customerID string) (int64, error) {
	query := `UPDATE subscription_states SET
        status = 'canceled',
        cancel_at_period_end = TRUE,
        updated_at = now()
    WHERE provider_customer_id = $1
      AND (status <> 'canceled' OR NOT cancel_at_period_end);`

	cmdTag, err := s.db.Exec(ctx, query, customerID)
	if err != nil {
		return 0, fmt.Errorf("could not cancel subscription for customer: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// MarkPastDueByCustomerID forces status past_due and leaves the other fields alone.
func (s *SubscriptionStore) MarkPastDueByCustomerID(ctx context.Context, customerID string) (int64, error) {
	query := `UPDATE subscription_states SET
        status = 'past_due',
        updated_at = now()
    WHERE provider_customer_id = $1
      AND status <> 'past_due';`

	cmdTag, err := s.db.Exec(ctx, query, customerID)
	if err != nil {
		return 0, fmt.Errorf("could not mark subscription past due: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// FindUserIDByCustomerID resolves the owning user for a provider customer.
func (s *SubscriptionStore) FindUserIDByCustomerID(ctx context.Context, customerID string) (uuid.UUID, bool, error) {
	query := `SELECT user_id FROM subscription_states
    WHERE provider_customer_id = $1
    ORDER BY updated_at DESC
    LIMIT 1;`

	var userID uuid.UUID
	err := s.db.QueryRow(ctx, query, customerID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil // Geen rij gevonden, dit is geen error
		}
		return uuid.Nil, false, err
	}
	return userID, true, nil
}

// GetByUserID returns nil (and no error) when the user has no subscription.
func (s *SubscriptionStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionState, error) {
	query := `SELECT ` + subscriptionColumns + `
    FROM subscription_states
    WHERE user_id = $1;`

	sub, err := scanSubscription(s.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// HasProcessedEvent checks the billing_events idempotency table.
func (s *SubscriptionStore) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT 1 FROM billing_events WHERE event_id = $1;`

	var exists int
	err := s.db.QueryRow(ctx, query, eventID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkEventProcessed records a successfully handled event. Duplicates are ignored.
func (s *SubscriptionStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	query := `INSERT INTO billing_events (event_id, event_type)
    VALUES ($1, $2)
    ON CONFLICT (event_id) DO NOTHING;`

	if _, err := s.db.Exec(ctx, query, eventID, eventType); err != nil {
		return fmt.Errorf("could not record billing event: %w", err)
	}
	return nil
}
