//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-automation-api/db/migrations"
	"crm-automation-api/internal/crypto"
	"crm-automation-api/internal/database"
	"crm-automation-api/internal/domain"
	"crm-automation-api/internal/store/log"
	"crm-automation-api/internal/store/rule"
	"crm-automation-api/internal/store/subscription"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func newMigrator(t *testing.T, connStr string) *migrate.Migrate {
	t.Helper()
	source, err := iofs.New(migrations.SQLFiles, ".")
	require.NoError(t, err)

	m, err := migrate.NewWithSourceInstance("iofs", source, connStr)
	require.NoError(t, err)
	return m
}

func TestDatabaseIntegration(t *testing.T) {
	// De //go:build integration tag vervangt de testing.Short() check.

	ctx := context.Background()
	logger := zap.NewNop()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	defer func() {
		// Gebruik context.Background() voor cleanup, niet de request-context
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}()

	// Get connection string
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Schema via golang-migrate
	m := newMigrator(t, connStr)
	require.NoError(t, m.Up())

	// Connect to database
	pool, err := database.ConnectDB(ctx, connStr, logger)
	require.NoError(t, err)
	defer pool.Close()

	sealer, err := crypto.NewSealer([]byte("12345678901234567890123456789012"))
	require.NoError(t, err)
	s := NewStore(pool, sealer)

	t.Run("RunMigrations is idempotent on top of golang-migrate", func(t *testing.T) {
		assert.NoError(t, database.RunMigrations(ctx, pool, true, logger))
	})

	t.Run("VerifyTablesCreated", func(t *testing.T) {
		for _, table := range []string{"automation_rules", "automation_logs", "subscription_states", "billing_events"} {
			var exists bool
			query := `SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public'
				AND table_name = $1
			)`
			err := pool.QueryRow(ctx, query, table).Scan(&exists)
			assert.NoError(t, err, "Failed to check if table %s exists", table)
			assert.True(t, exists, "Table %s should exist", table)
		}
	})

	tenantID := uuid.New()

	t.Run("Rule lifecycle", func(t *testing.T) {
		created, err := s.CreateRule(ctx, rule.CreateRuleParams{
			TenantID:     tenantID,
			Name:         "New lead hook",
			Kind:         domain.KindWebhook,
			URL:          "https://example.com/hook",
			HTTPMethod:   domain.MethodPost,
			TargetEntity: domain.EntityLeads,
			Event:        domain.EventCreate,
		})
		require.NoError(t, err)
		require.NotNil(t, created.WebhookSecret)
		assert.Len(t, *created.WebhookSecret, crypto.SecretLength)
		assert.True(t, created.Active)
		assert.Equal(t, domain.RunPending, created.LastStatus)

		// Het secret staat versleuteld in de database.
		var stored []byte
		require.NoError(t, pool.QueryRow(ctx, `SELECT webhook_secret FROM automation_rules WHERE id = $1`, created.ID).Scan(&stored))
		assert.NotEqual(t, []byte(*created.WebhookSecret), stored)

		// Andere tenant ziet de regel niet.
		_, err = s.GetRule(ctx, uuid.New(), created.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, s.RecordDispatchOutcome(ctx, tenantID, created.ID, rule.DispatchOutcome{Error: "boom"}))
		require.NoError(t, s.RecordDispatchOutcome(ctx, tenantID, created.ID, rule.DispatchOutcome{Error: "boom"}))
		got, err := s.GetRule(ctx, tenantID, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.FailedAttempts)
		assert.Equal(t, domain.RunError, got.LastStatus)

		require.NoError(t, s.RecordDispatchOutcome(ctx, tenantID, created.ID, rule.DispatchOutcome{Success: true}))
		got, err = s.GetRule(ctx, tenantID, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.FailedAttempts)
		assert.Nil(t, got.LastError)

		updated, err := s.UpdateRule(ctx, tenantID, created.ID, rule.UpdateRuleParams{Name: lo.ToPtr("Renamed")})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Name)
		assert.Equal(t, created.URL, updated.URL)

		entry, err := s.AppendLog(ctx, log.AppendLogParams{
			AutomationID:   created.ID,
			Status:         domain.RunSuccess,
			HTTPStatusCode: lo.ToPtr(200),
			DurationMs:     lo.ToPtr(int64(15)),
		})
		require.NoError(t, err)
		assert.NotZero(t, entry.ID)

		require.NoError(t, s.DeleteRule(ctx, tenantID, created.ID))
		logs, err := s.ListLogs(ctx, created.ID, 50)
		require.NoError(t, err)
		assert.Len(t, logs, 1, "logs survive rule deletion")
	})

	t.Run("Secret invariant is enforced by the schema", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO automation_rules
			(tenant_id, name, kind, url, http_method, target_entity, event)
			VALUES ($1, 'bad', 'webhook', 'https://x', 'POST', 'leads', 'criacao')`, tenantID)
		assert.Error(t, err)
	})

	t.Run("Scheduled rules", func(t *testing.T) {
		scheduled, err := s.CreateRule(ctx, rule.CreateRuleParams{
			TenantID:         tenantID,
			Name:             "Hourly sync",
			Kind:             domain.KindAPI,
			URL:              "https://example.com/sync",
			HTTPMethod:       domain.MethodGet,
			TargetEntity:     domain.EntityProducts,
			Event:            domain.EventManual,
			FrequencyMinutes: lo.ToPtr(60),
		})
		require.NoError(t, err)

		now := time.Now().UTC()
		due, err := s.ListDueRules(ctx, now)
		require.NoError(t, err)
		assert.True(t, lo.ContainsBy(due, func(r domain.AutomationRule) bool { return r.ID == scheduled.ID }))

		require.NoError(t, s.MarkScheduledRun(ctx, tenantID, scheduled.ID, now))
		due, err = s.ListDueRules(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, lo.ContainsBy(due, func(r domain.AutomationRule) bool { return r.ID == scheduled.ID }))
	})

	t.Run("Subscription reconciliation", func(t *testing.T) {
		userID := uuid.New()
		params := subscription.UpsertParams{
			UserID:                 userID,
			ProviderCustomerID:     "cus_int",
			ProviderSubscriptionID: lo.ToPtr("sub_int"),
			ProviderPriceID:        lo.ToPtr("price_basic"),
			Status:                 domain.SubscriptionActive,
		}
		first, err := s.UpsertByUserID(ctx, params)
		require.NoError(t, err)
		second, err := s.UpsertByUserID(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		var count int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM subscription_states WHERE user_id = $1`, userID).Scan(&count))
		assert.Equal(t, 1, count)

		update := subscription.CustomerUpdate{
			ProviderPriceID: lo.ToPtr("price_pro"),
			Status:          domain.SubscriptionPastDue,
		}
		n, err := s.UpdateByCustomerID(ctx, "cus_int", update)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		afterFirst, err := s.GetByUserID(ctx, userID)
		require.NoError(t, err)

		n, err = s.UpdateByCustomerID(ctx, "cus_int", update)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		afterSecond, err := s.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, afterFirst, afterSecond)

		_, err = s.MarkCanceledByCustomerID(ctx, "cus_int")
		require.NoError(t, err)
		canceled, err := s.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionCanceled, canceled.Status)
		assert.True(t, canceled.CancelAtPeriodEnd)

		missing, err := s.GetByUserID(ctx, uuid.New())
		assert.NoError(t, err)
		assert.Nil(t, missing)

		require.NoError(t, s.MarkEventProcessed(ctx, "evt_int", "customer.subscription.deleted"))
		require.NoError(t, s.MarkEventProcessed(ctx, "evt_int", "customer.subscription.deleted"))
		seen, err := s.HasProcessedEvent(ctx, "evt_int")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("ConstraintViolations", func(t *testing.T) {
		userID := uuid.New()
		_, err := pool.Exec(ctx, `INSERT INTO subscription_states (user_id, provider_customer_id) VALUES ($1, 'cus_a')`, userID)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `INSERT INTO subscription_states (user_id, provider_customer_id) VALUES ($1, 'cus_b')`, userID)
		assert.Error(t, err, "Should fail due to unique constraint on user_id")
		assert.Contains(t, err.Error(), "duplicate key value violates unique constraint")
	})

	t.Run("Down migrations", func(t *testing.T) {
		pool.Reset()
		err := m.Down()
		assert.True(t, err == nil || errors.Is(err, migrate.ErrNoChange))

		var exists bool
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'automation_rules')`).Scan(&exists))
		assert.False(t, exists)
	})
}
