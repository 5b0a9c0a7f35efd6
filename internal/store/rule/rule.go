package rule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-automation-api/internal/crypto"
	"crm-automation-api/internal/database"
	"crm-automation-api/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
)

// CreateRuleParams contains parameters for creating automation rules.
type CreateRuleParams struct {
	TenantID         uuid.UUID
	Name             string
	Kind             domain.RuleKind
	URL              string
	HTTPMethod       domain.HTTPMethod
	TargetEntity     domain.TargetEntity
	Event            domain.TriggerEvent
	Headers          map[string]string
	BodyTemplate     *string
	FrequencyMinutes *int
	Active           *bool // nil = true
}

// UpdateRuleParams is een partiële update: nil velden blijven ongewijzigd.
// Kind en tenant zijn bewust afwezig.
type UpdateRuleParams struct {
	Name             *string
	URL              *string
	HTTPMethod       *domain.HTTPMethod
	TargetEntity     *domain.TargetEntity
	Event            *domain.TriggerEvent
	Headers          map[string]string
	BodyTemplate     *string
	FrequencyMinutes *int
	Active           *bool
}

// DispatchOutcome is the bookkeeping written back after a dispatch attempt.
type DispatchOutcome struct {
	Success bool
	Error   string
}

// RuleStorer defines the interface for rule storage operations.
type RuleStorer interface {
	CreateRule(ctx context.Context, arg CreateRuleParams) (domain.AutomationRule, error)
	ListRules(ctx context.Context, tenantID uuid.UUID) ([]domain.AutomationRule, error)
	GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (domain.AutomationRule, error)
	UpdateRule(ctx context.Context, tenantID, ruleID uuid.UUID, arg UpdateRuleParams) (domain.AutomationRule, error)
	DeleteRule(ctx context.Context, tenantID, ruleID uuid.UUID) error
	SetRuleActive(ctx context.Context, tenantID, ruleID uuid.UUID, active bool) (domain.AutomationRule, error)
	RecordDispatchOutcome(ctx context.Context, tenantID, ruleID uuid.UUID, outcome DispatchOutcome) error
	ListActiveRulesForEvent(ctx context.Context, tenantID uuid.UUID, entity domain.TargetEntity, event domain.TriggerEvent) ([]domain.AutomationRule, error)
	ListDueRules(ctx context.Context, now time.Time) ([]domain.AutomationRule, error)
	MarkScheduledRun(ctx context.Context, tenantID, ruleID uuid.UUID, ranAt time.Time) error
}

// RuleStore handles rule-related database operations
type RuleStore struct {
	db        database.Querier
	sealer    *crypto.Sealer
	newSecret func() (string, error)
}

// NewRuleStore creates a new RuleStore. Webhook secrets are sealed with sealer at rest.
func NewRuleStore(db database.Querier, sealer *crypto.Sealer) *RuleStore {
	return &RuleStore{db: db, sealer: sealer, newSecret: crypto.GenerateSecret}
}

const ruleColumns = `id, tenant_id, name, kind, url, http_method, target_entity, event,
	headers, body_template, frequency_minutes, next_run_at, last_run_at,
	active, failed_attempts, last_status, last_error, webhook_secret, created_at, updated_at`

// scanRule scans a database row into an AutomationRule
func (s *RuleStore) scanRule(row pgx.Row) (domain.AutomationRule, error) {
	var (
		rule         domain.AutomationRule
		headers      []byte
		sealedSecret []byte
	)
	err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&rule.Name,
		&rule.Kind,
		&rule.URL,
		&rule.HTTPMethod,
		&rule.TargetEntity,
		&rule.Event,
		&headers,
		&rule.BodyTemplate,
		&rule.FrequencyMinutes,
		&rule.NextRunAt,
		&rule.LastRunAt,
		&rule.Active,
		&rule.FailedAttempts,
		&rule.LastStatus,
		&rule.LastError,
		&sealedSecret,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AutomationRule{}, domain.ErrNotFound
		}
		return domain.AutomationRule{}, err
	}

	rule.Headers = map[string]string{}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rule.Headers); err != nil {
			return domain.AutomationRule{}, fmt.Errorf("could not decode headers: %w", err)
		}
	}

	if len(sealedSecret) > 0 {
		secret, err := s.sealer.Open(sealedSecret)
		if err != nil {
			return domain.AutomationRule{}, fmt.Errorf("could not decrypt webhook secret: %w", err)
		}
		rule.WebhookSecret = lo.ToPtr(string(secret))
	}

	return rule, nil
}

func (s *RuleStore) scanRules(rows pgx.Rows) ([]domain.AutomationRule, error) {
	defer rows.Close()

	rules := []domain.AutomationRule{}
	for rows.Next() {
		rule, err := s.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rules, nil
}

func marshalHeaders(headers map[string]string) ([]byte, error) {
	if headers == nil {
		return nil, nil
	}
	return json.Marshal(headers)
}

// CreateRule creates a new automation rule. Webhook rules get a fresh secret;
// api rules never carry one.
func (s *RuleStore) CreateRule(ctx context.Context, arg CreateRuleParams) (domain.AutomationRule, error) {
	var sealedSecret []byte
	if arg.Kind.SignsRequests() {
		secret, err := s.newSecret()
		if err != nil {
			return domain.AutomationRule{}, fmt.Errorf("could not generate webhook secret: %w", err)
		}
		sealedSecret, err = s.sealer.Seal([]byte(secret))
		if err != nil {
			return domain.AutomationRule{}, fmt.Errorf("could not encrypt webhook secret: %w", err)
		}
	}

	headers := arg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headerJSON, err := marshalHeaders(headers)
	if err != nil {
		return domain.AutomationRule{}, fmt.Errorf("could not encode headers: %w", err)
	}

	active := true
	if arg.Active != nil {
		active = *arg.Active
	}

	query := `INSERT INTO automation_rules (
        tenant_id, name, kind, url, http_method, target_entity, event,
        headers, body_template, frequency_minutes, active, webhook_secret
    ) VALUES (
        $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
    )
    RETURNING ` + ruleColumns + `;`

	row := s.db.QueryRow(ctx, query,
		arg.TenantID,
		arg.Name,
		arg.Kind,
		arg.URL,
		arg.HTTPMethod,
		arg.TargetEntity,
		arg.Event,
		headerJSON,
		arg.BodyTemplate,
		arg.FrequencyMinutes,
		active,
		sealedSecret,
	)

	rule, err := s.scanRule(row)
	if err != nil {
		return domain.AutomationRule{}, fmt.Errorf("db scan error: %w", err)
	}
	return rule, nil
}

// ListRules returns every rule of the tenant, newest first.
func (s *RuleStore) ListRules(ctx context.Context, tenantID uuid.UUID) ([]domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
    FROM automation_rules
    WHERE tenant_id = $1
    ORDER BY created_at DESC;`

	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	return s.scanRules(rows)
}

// GetRule returns one rule, or domain.ErrNotFound when it does not exist for this tenant.
func (s *RuleStore) GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
    FROM automation_rules
    WHERE id = $1 AND tenant_id = $2;`

	return s.scanRule(s.db.QueryRow(ctx, query, ruleID, tenantID))
}

// UpdateRule werkt een bestaande regel bij (alleen de meegegeven velden).
func (s *RuleStore) UpdateRule(ctx context.Context, tenantID, ruleID uuid.UUID, arg UpdateRuleParams) (domain.AutomationRule, error) {
	headerJSON, err := marshalHeaders(arg.Headers)
	if err != nil {
		return domain.AutomationRule{}, fmt.Errorf("could not encode headers: %w", err)
	}

	query := `UPDATE automation_rules SET
        name = COALESCE($3, name),
        url = COALESCE($4, url),
        http_method = COALESCE($5, http_method),
        target_entity = COALESCE($6, target_entity),
        event = COALESCE($7, event),
        headers = COALESCE($8, headers),
        body_template = COALESCE($9, body_template),
        frequency_minutes = COALESCE($10, frequency_minutes),
        active = COALESCE($11, active),
        updated_at = now()
    WHERE id = $1 AND tenant_id = $2
    RETURNING ` + ruleColumns + `;`

	row := s.db.QueryRow(ctx, query,
		ruleID,
		tenantID,
		arg.Name,
		arg.URL,
		arg.HTTPMethod,
		arg.TargetEntity,
		arg.Event,
		headerJSON,
		arg.BodyTemplate,
		arg.FrequencyMinutes,
		arg.Active,
	)

	return s.scanRule(row)
}

// SetRuleActive zet alleen de 'active' boolean van een regel.
func (s *RuleStore) SetRuleActive(ctx context.Context, tenantID, ruleID uuid.UUID, active bool) (domain.AutomationRule, error) {
	query := `UPDATE automation_rules SET active = $3, updated_at = now()
    WHERE id = $1 AND tenant_id = $2
    RETURNING ` + ruleColumns + `;`

	return s.scanRule(s.db.QueryRow(ctx, query, ruleID, tenantID, active))
}

// DeleteRule verwijdert een regel. De logs van de regel blijven staan.
func (s *RuleStore) DeleteRule(ctx context.Context, tenantID, ruleID uuid.UUID) error {
	query := `DELETE FROM automation_rules
    WHERE id = $1 AND tenant_id = $2;`

	cmdTag, err := s.db.Exec(ctx, query, ruleID, tenantID)
	if err != nil {
		return err
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("no rule found with ID %s to delete: %w", ruleID, domain.ErrNotFound)
	}

	return nil
}

// RecordDispatchOutcome updates the cached last-status fields. A success resets
// failed_attempts to 0, a failure increments it. Concurrent writers: last one wins.
func (s *RuleStore) RecordDispatchOutcome(ctx context.Context, tenantID, ruleID uuid.UUID, outcome DispatchOutcome) error {
	status := domain.RunError
	var lastError *string
	if outcome.Success {
		status = domain.RunSuccess
	} else if outcome.Error != "" {
		lastError = lo.ToPtr(outcome.Error)
	}

	query := `UPDATE automation_rules SET
        last_status = $3,
        last_error = $4,
        failed_attempts = CASE WHEN $5 THEN 0 ELSE failed_attempts + 1 END,
        updated_at = now()
    WHERE id = $1 AND tenant_id = $2;`

	cmdTag, err := s.db.Exec(ctx, query, ruleID, tenantID, status, lastError, outcome.Success)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActiveRulesForEvent returns the active rules bound to (entity, event).
func (s *RuleStore) ListActiveRulesForEvent(
	ctx context.Context,
	tenantID uuid.UUID,
	entity domain.TargetEntity,
	event domain.TriggerEvent,
) ([]domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
    FROM automation_rules
    WHERE tenant_id = $1 AND target_entity = $2 AND event = $3 AND active
    ORDER BY created_at DESC;`

	rows, err := s.db.Query(ctx, query, tenantID, entity, event)
	if err != nil {
		return nil, err
	}
	return s.scanRules(rows)
}

// ListDueRules returns active frequency rules of all tenants whose next run is due.
func (s *RuleStore) ListDueRules(ctx context.Context, now time.Time) ([]domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
    FROM automation_rules
    WHERE active
      AND frequency_minutes IS NOT NULL
      AND (next_run_at IS NULL OR next_run_at <= $1)
    ORDER BY next_run_at NULLS FIRST;`

	rows, err := s.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	return s.scanRules(rows)
}

// MarkScheduledRun sets last_run_at and moves next_run_at one frequency ahead.
func (s *RuleStore) MarkScheduledRun(ctx context.Context, tenantID, ruleID uuid.UUID, ranAt time.Time) error {
	query := `UPDATE automation_rules SET
        last_run_at = $3,
        next_run_at = $3 + make_interval(mins => frequency_minutes),
        updated_at = now()
    WHERE id = $1 AND tenant_id = $2 AND frequency_minutes IS NOT NULL;`

	cmdTag, err := s.db.Exec(ctx, query, ruleID, tenantID, ranAt)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
