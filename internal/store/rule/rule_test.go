package rule

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-automation-api/internal/crypto"
	"crm-automation-api/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("12345678901234567890123456789012")

// setupRuleStore is een helper die een RuleStore en een mock pool aanmaakt.
func setupRuleStore(t *testing.T) (*RuleStore, pgxmock.PgxPoolIface, *crypto.Sealer) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)

	sealer, err := crypto.NewSealer(testKey)
	require.NoError(t, err)

	return NewRuleStore(mockPool, sealer), mockPool, sealer
}

// Definitie van de kolommen die door de queries worden geretourneerd
var ruleColumnNames = []string{
	"id", "tenant_id", "name", "kind", "url", "http_method", "target_entity", "event",
	"headers", "body_template", "frequency_minutes", "next_run_at", "last_run_at",
	"active", "failed_attempts", "last_status", "last_error", "webhook_secret", "created_at", "updated_at",
}

// mockRuleRow bouwt een rij in kolomvolgorde; sealedSecret is nil voor api-regels.
func mockRuleRow(ruleID, tenantID uuid.UUID, name string, kind domain.RuleKind, active bool, sealedSecret []byte) []any {
	now := time.Now()
	return []any{
		ruleID, tenantID, name, kind, "https://example.com/hook", domain.MethodPost,
		domain.EntityLeads, domain.EventCreate,
		[]byte(`{"Authorization":"Bearer abc"}`), (*string)(nil), (*int)(nil),
		(*time.Time)(nil), (*time.Time)(nil),
		active, 0, domain.RunPending, (*string)(nil), sealedSecret, now, now,
	}
}

func TestRuleStore_CreateRule(t *testing.T) {
	t.Run("Webhook rule gets a generated secret", func(t *testing.T) {
		store, mockPool, sealer := setupRuleStore(t)
		defer mockPool.Close()

		store.newSecret = func() (string, error) { return "AbCdEfGhIjKlMnOpQrStUvWxYz012345", nil }

		ctx := context.Background()
		tenantID := uuid.New()
		ruleID := uuid.New()

		sealed, err := sealer.Seal([]byte("AbCdEfGhIjKlMnOpQrStUvWxYz012345"))
		require.NoError(t, err)

		params := CreateRuleParams{
			TenantID:     tenantID,
			Name:         "Lead webhook",
			Kind:         domain.KindWebhook,
			URL:          "https://example.com/hook",
			HTTPMethod:   domain.MethodPost,
			TargetEntity: domain.EntityLeads,
			Event:        domain.EventCreate,
		}

		mockPool.ExpectQuery("^INSERT INTO automation_rules").
			WithArgs(
				tenantID, params.Name, params.Kind, params.URL, params.HTTPMethod,
				params.TargetEntity, params.Event, []byte(`{}`), params.BodyTemplate,
				params.FrequencyMinutes, true, pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows(ruleColumnNames).AddRow(
				mockRuleRow(ruleID, tenantID, params.Name, domain.KindWebhook, true, sealed)...,
			))

		// Act
		rule, err := store.CreateRule(ctx, params)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, ruleID, rule.ID)
		assert.True(t, rule.Active)
		assert.Equal(t, 0, rule.FailedAttempts)
		assert.Equal(t, domain.RunPending, rule.LastStatus)
		require.NotNil(t, rule.WebhookSecret)
		assert.Equal(t, "AbCdEfGhIjKlMnOpQrStUvWxYz012345", *rule.WebhookSecret)
		assert.Equal(t, "Bearer abc", rule.Headers["Authorization"])
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Api rule has no secret", func(t *testing.T) {
		store, mockPool, _ := setupRuleStore(t)
		defer mockPool.Close()

		store.newSecret = func() (string, error) {
			t.Fatal("secret generator must not be called for api rules")
			return "", nil
		}

		tenantID := uuid.New()
		params := CreateRuleParams{
			TenantID:     tenantID,
			Name:         "Sync products",
			Kind:         domain.KindAPI,
			URL:          "https://example.com/api",
			HTTPMethod:   domain.MethodPut,
			TargetEntity: domain.EntityProducts,
			Event:        domain.EventUpdate,
			Headers:      map[string]string{"X-Key": "1"},
			Active:       lo.ToPtr(false),
		}

		mockPool.ExpectQuery("^INSERT INTO automation_rules").
			WithArgs(
				tenantID, params.Name, params.Kind, params.URL, params.HTTPMethod,
				params.TargetEntity, params.Event, []byte(`{"X-Key":"1"}`), params.BodyTemplate,
				params.FrequencyMinutes, false, []byte(nil),
			).
			WillReturnRows(pgxmock.NewRows(ruleColumnNames).AddRow(
				mockRuleRow(uuid.New(), tenantID, params.Name, domain.KindAPI, false, nil)...,
			))

		rule, err := store.CreateRule(context.Background(), params)

		require.NoError(t, err)
		assert.Nil(t, rule.WebhookSecret)
		assert.False(t, rule.Active)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Generator failure aborts before the insert", func(t *testing.T) {
		store, mockPool, _ := setupRuleStore(t)
		defer mockPool.Close()

		store.newSecret = func() (string, error) { return "", errors.New("entropy exhausted") }

		_, err := store.CreateRule(context.Background(), CreateRuleParams{Kind: domain.KindWebhook})

		assert.ErrorContains(t, err, "could not generate webhook secret")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRuleStore_GetRule(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		store, mockPool, _ := setupRuleStore(t)
		defer mockPool.Close()

		ruleID, tenantID := uuid.New(), uuid.New()

		mockPool.ExpectQuery("^SELECT id, tenant_id").
			WithArgs(ruleID, tenantID).
			WillReturnRows(pgxmock.NewRows(ruleColumnNames).AddRow(
				mockRuleRow(ruleID, tenantID, "Found Rule", domain.KindAPI, true, nil)...,
			))

		// Act
		rule, err := store.GetRule(context.Background(), tenantID, ruleID)

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, ruleID, rule.ID)
		assert.Equal(t, tenantID, rule.TenantID)
		assert.Equal(t, "Found Rule", rule.Name)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Other tenant is Not Found", func(t *testing.T) {
		store, mockPool, _ := setupRuleStore(t)
		defer mockPool.Close()

		ruleID, otherTenant := uuid.New(), uuid.New()

		mockPool.ExpectQuery("^SELECT id, tenant_id").
			WithArgs(ruleID, otherTenant).
			WillReturnError(pgx.ErrNoRows) // Simuleer "not found"

		// Act
		_, err := store.GetRule(context.Background(), otherTenant, ruleID)

		// Assert
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRuleStore_ListRules(t *testing.T) {
	store, mockPool, _ := setupRuleStore(t)
	defer mockPool.Close()

	tenantID := uuid.New()

	rows := pgxmock.NewRows(ruleColumnNames).
		AddRow(mockRuleRow(uuid.New(), tenantID, "Rule 2", domain.KindAPI, true, nil)...).
		AddRow(mockRuleRow(uuid.New(), tenantID, "Rule 1", domain.KindAPI, false, nil)...)

	mockPool.ExpectQuery("^SELECT id, tenant_id").
		WithArgs(tenantID).
		WillReturnRows(rows)

	// Act
	rules, err := store.ListRules(context.Background(), tenantID)

	// Assert
	assert.NoError(t, err)
	assert.Len(t, rules, 2)
	assert.Equal(t, "Rule 2", rules[0].Name)
	assert.False(t, rules[1].Active)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRuleStore_ListRules_Empty(t *testing.T) {
	store, mockPool, _ := setupRuleStore(t)
	defer mockPool.Close()

	tenantID := uuid.New()
	mockPool.ExpectQuery("^SELECT id, tenant_id").
		WithArgs(tenantID).
		WillReturnRows(pgxmock.NewRows(ruleColumnNames))

	rules, err := store.ListRules(context.Background(), tenantID)

	assert.NoError(t, err)
	assert.NotNil(t, rules)
	assert.Empty(t, rules)
}

func TestRuleStore_UpdateRule(t *testing.T) {
	store, mockPool, _ := setupRuleStore(t)
	defer mockPool.Close()

	ruleID, tenantID := uuid.New(), uuid.New()
	params := UpdateRuleParams{
		Name:    lo.ToPtr("Updated Rule"),
		Headers: map[string]string{"X-Trace": "on"},
	}

	mockPool.ExpectQuery("^UPDATE automation_rules SET").
		WithArgs(
			ruleID, tenantID, params.Name, params.URL, params.HTTPMethod,
			params.TargetEntity, params.Event, []byte(`{"X-Trace":"on"}`),
			params.BodyTemplate, params.FrequencyMinutes, params.Active,
		).
		WillReturnRows(pgxmock.NewRows(ruleColumnNames).AddRow(
			mockRuleRow(ruleID, tenantID, "Updated Rule", domain.KindAPI, true, nil)...,
		))

	// Act
	rule, err := store.UpdateRule(context.Background(), tenantID, ruleID, params)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "Updated Rule", rule.Name)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRuleStore_SetRuleActive(t *testing.T) {
	store, mockPool, _ := setupRuleStore(t)
	defer mockPool.Close()

	ruleID, tenantID := uuid.New(), uuid.New()

	mockPool.ExpectQuery("^UPDATE automation_rules SET active").
		WithArgs(ruleID, tenantID, false).
		WillReturnRows(pgxmock.NewRows(ruleColumnNames).AddRow(
			mockRuleRow(ruleID, tenantID, "Toggled Rule", domain.KindAPI, false, nil)...,
		))

	// Act
	rule, err := store.SetRuleActive(context.Background(), tenantID, ruleID, false)

	// Assert
	assert.NoError(t, err)
	assert.False(t, rule.Active) // Controleer of de status is gewijzigd
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRuleStore_DeleteRule(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		store, mockPool, _ := setupRuleStore(t)
		defer mockPool.Close()

		ruleID, tenantID := uuid.New(), uuid.New()

		// Verwacht een Exec call die 1 rij beïnvloedt
		mockPool.ExpectExec("^DELETE FROM automation_rules").
			WithArgs(ruleID, tenantID).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		// Act
		err := store.DeleteRule(context.Background(), tenantID, ruleID)

		// Assert
		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		store, mockPool, _ := setupRuleStore(t)
		defer mockPool.Close()

		ruleID, tenantID := uuid.New(), uuid.New()

		// Verwacht een Exec call die 0 rijen beïnvloedt
		mockPool.ExpectExec("^DELETE FROM automation_rules").
			WithArgs(ruleID, tenantID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		// Act
		err := store.DeleteRule(context.Background(), tenantID, ruleID)

		// Assert
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Contains(t, err.Error(), "no rule found") // Check de custom error
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRuleStore_RecordDispatchOutcome(t *testing.T) {
	t.Run("Success resets the counter", func(t *testing.T) {
		store, mockPool, _ := setupRuleStore(t)
		defer mockPool.Close()

		ruleID, tenantID := uuid.New(), uuid.New()

		mockPool.ExpectExec("^UPDATE automation_rules SET").
			WithArgs(ruleID, tenantID, domain.RunSuccess, (*string)(nil), true).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := store.RecordDispatchOutcome(context.Background(), tenantID, ruleID, DispatchOutcome{Success: true})

		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Failure stores the error", func(t *testing.T) {
		store, mockPool, _ := setupRuleStore(t)
		defer mockPool.Close()

		ruleID, tenantID := uuid.New(), uuid.New()

		mockPool.ExpectExec("^UPDATE automation_rules SET").
			WithArgs(ruleID, tenantID, domain.RunError, lo.ToPtr("request failed with HTTP status 500"), false).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := store.RecordDispatchOutcome(context.Background(), tenantID, ruleID, DispatchOutcome{
			Error: "request failed with HTTP status 500",
		})

		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Deleted rule", func(t *testing.T) {
		store, mockPool, _ := setupRuleStore(t)
		defer mockPool.Close()

		mockPool.ExpectExec("^UPDATE automation_rules SET").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), domain.RunError, pgxmock.AnyArg(), false).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.RecordDispatchOutcome(context.Background(), uuid.New(), uuid.New(), DispatchOutcome{Error: "x"})

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestRuleStore_ListActiveRulesForEvent(t *testing.T) {
	store, mockPool, _ := setupRuleStore(t)
	defer mockPool.Close()

	tenantID := uuid.New()

	mockPool.ExpectQuery("^SELECT id, tenant_id").
		WithArgs(tenantID, domain.EntityLeads, domain.EventCreate).
		WillReturnRows(pgxmock.NewRows(ruleColumnNames).AddRow(
			mockRuleRow(uuid.New(), tenantID, "On new lead", domain.KindAPI, true, nil)...,
		))

	rules, err := store.ListActiveRulesForEvent(context.Background(), tenantID, domain.EntityLeads, domain.EventCreate)

	assert.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRuleStore_ListDueRules(t *testing.T) {
	store, mockPool, _ := setupRuleStore(t)
	defer mockPool.Close()

	now := time.Now()

	mockPool.ExpectQuery("^SELECT id, tenant_id").
		WithArgs(now).
		WillReturnError(errors.New("connection reset"))

	_, err := store.ListDueRules(context.Background(), now)

	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRuleStore_MarkScheduledRun(t *testing.T) {
	store, mockPool, _ := setupRuleStore(t)
	defer mockPool.Close()

	ruleID, tenantID := uuid.New(), uuid.New()
	ranAt := time.Now()

	mockPool.ExpectExec("^UPDATE automation_rules SET").
		WithArgs(ruleID, tenantID, ranAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.MarkScheduledRun(context.Background(), tenantID, ruleID, ranAt)

	assert.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
