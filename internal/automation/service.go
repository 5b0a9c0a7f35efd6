package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"crm-automation-api/internal/dispatch"
	"crm-automation-api/internal/domain"
	"crm-automation-api/internal/logger"
	"crm-automation-api/internal/store/rule"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidTrigger is returned for an unknown entity or event.
var ErrInvalidTrigger = errors.New("invalid trigger")

// ErrRefetch is returned by TestRule when the dispatch happened but the rule
// list could not be reloaded. The outcome still carries the result.
var ErrRefetch = errors.New("could not refetch rules")

// Dispatcher performs one outbound attempt for a rule.
type Dispatcher interface {
	Dispatch(ctx context.Context, rule domain.AutomationRule, payload json.RawMessage) dispatch.Result
}

// TestOutcome is the result of a manual test plus the refetched rule list.
type TestOutcome struct {
	Result      dispatch.Result         `json:"result"`
	Automations []domain.AutomationRule `json:"automations"`
}

// TriggerResult is the outcome of one rule fired by an entity event.
type TriggerResult struct {
	AutomationID uuid.UUID       `json:"automation_id"`
	Name         string          `json:"name"`
	Result       dispatch.Result `json:"result"`
}

// Service is the orchestration layer between the rule store and the dispatcher.
type Service struct {
	rules      rule.RuleStorer
	dispatcher Dispatcher
	retry      RetryPolicy
	log        *zap.Logger
	now        func() time.Time

	background sync.WaitGroup
}

// NewService creates the orchestration layer.
func NewService(rules rule.RuleStorer, dispatcher Dispatcher, retry RetryPolicy, log *zap.Logger) *Service {
	return &Service{
		rules:      rules,
		dispatcher: dispatcher,
		retry:      retry,
		log:        logger.WithComponent(log, "automation"),
		now:        time.Now,
	}
}

// List returns the tenant's rules, newest first.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]domain.AutomationRule, error) {
	rules, err := s.rules.ListRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("could not list rules: %w", err)
	}
	return rules, nil
}

// Get returns one rule of the tenant.
func (s *Service) Get(ctx context.Context, tenantID, ruleID uuid.UUID) (domain.AutomationRule, error) {
	return s.rules.GetRule(ctx, tenantID, ruleID)
}

// Create validates and persists a new rule.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, in CreateInput) (domain.AutomationRule, error) {
	if err := in.validate(); err != nil {
		return domain.AutomationRule{}, err
	}

	created, err := s.rules.CreateRule(ctx, in.params(tenantID))
	if err != nil {
		return domain.AutomationRule{}, fmt.Errorf("could not create rule: %w", err)
	}

	s.log.Info("automation created",
		zap.String("automation_id", created.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("kind", string(created.Kind)))
	return created, nil
}

// Update merges in into the rule. Changing kind or tenant is rejected.
func (s *Service) Update(ctx context.Context, tenantID, ruleID uuid.UUID, in UpdateInput) (domain.AutomationRule, error) {
	current, err := s.rules.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return domain.AutomationRule{}, err
	}
	if err := in.check(current); err != nil {
		return domain.AutomationRule{}, err
	}

	updated, err := s.rules.UpdateRule(ctx, tenantID, ruleID, in.params())
	if err != nil {
		return domain.AutomationRule{}, fmt.Errorf("could not update rule: %w", err)
	}
	return updated, nil
}

// Delete removes the rule. Its log entries stay.
func (s *Service) Delete(ctx context.Context, tenantID, ruleID uuid.UUID) error {
	if err := s.rules.DeleteRule(ctx, tenantID, ruleID); err != nil {
		return err
	}
	s.log.Info("automation deleted",
		zap.String("automation_id", ruleID.String()),
		zap.String("tenant_id", tenantID.String()))
	return nil
}

// ToggleActive only changes the active flag.
func (s *Service) ToggleActive(ctx context.Context, tenantID, ruleID uuid.UUID, active bool) (domain.AutomationRule, error) {
	return s.rules.SetRuleActive(ctx, tenantID, ruleID, active)
}

// TestRule sends the synthetic test payload once and then refetches the
// tenant's rules so the new last_status and failed_attempts are visible.
func (s *Service) TestRule(ctx context.Context, tenantID, ruleID uuid.UUID) (TestOutcome, error) {
	r, err := s.rules.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return TestOutcome{}, err
	}

	result := s.execute(ctx, r, nil, SingleAttempt)

	rules, err := s.rules.ListRules(ctx, tenantID)
	if err != nil {
		return TestOutcome{Result: result}, fmt.Errorf("%w: %v", ErrRefetch, err)
	}
	return TestOutcome{Result: result, Automations: rules}, nil
}

// Trigger fires every active rule bound to (entity, event) concurrently and
// waits for all of them. Each rule gets its own payload and retry budget.
func (s *Service) Trigger(
	ctx context.Context,
	tenantID uuid.UUID,
	entity domain.TargetEntity,
	event domain.TriggerEvent,
	record map[string]any,
) ([]TriggerResult, error) {
	rules, tc, err := s.loadTrigger(ctx, tenantID, entity, event, record)
	if err != nil {
		return nil, err
	}
	return s.fire(ctx, rules, tc), nil
}

// TriggerAsync loads the rules bound to (entity, event) and dispatches them in
// the background, so retries are not bound to the caller's request. It
// returns the accepted rules without results. Wait blocks until every
// background dispatch finished.
func (s *Service) TriggerAsync(
	ctx context.Context,
	tenantID uuid.UUID,
	entity domain.TargetEntity,
	event domain.TriggerEvent,
	record map[string]any,
) ([]TriggerResult, error) {
	rules, tc, err := s.loadTrigger(ctx, tenantID, entity, event, record)
	if err != nil {
		return nil, err
	}

	accepted := make([]TriggerResult, len(rules))
	for i, r := range rules {
		accepted[i] = TriggerResult{AutomationID: r.ID, Name: r.Name}
	}
	if len(rules) == 0 {
		return accepted, nil
	}

	// De sessie blijft als waarde in de context; alleen de annulering van de request valt weg.
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.fire(bg, rules, tc)
	}()
	return accepted, nil
}

// Wait blocks until background dispatches started by TriggerAsync are done,
// or ctx expires.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) loadTrigger(
	ctx context.Context,
	tenantID uuid.UUID,
	entity domain.TargetEntity,
	event domain.TriggerEvent,
	record map[string]any,
) ([]domain.AutomationRule, dispatch.TemplateContext, error) {
	if !entity.Valid() || !event.Valid() {
		return nil, dispatch.TemplateContext{}, fmt.Errorf("%w: entity %q, event %q", ErrInvalidTrigger, entity, event)
	}

	rules, err := s.rules.ListActiveRulesForEvent(ctx, tenantID, entity, event)
	if err != nil {
		return nil, dispatch.TemplateContext{}, fmt.Errorf("could not load rules for event: %w", err)
	}

	return rules, dispatch.TemplateContext{
		TenantID: tenantID,
		Entity:   entity,
		Event:    event,
		Record:   record,
		Now:      s.now(),
	}, nil
}

func (s *Service) fire(ctx context.Context, rules []domain.AutomationRule, tc dispatch.TemplateContext) []TriggerResult {
	results := make([]TriggerResult, len(rules))
	var wg sync.WaitGroup
	for i, r := range rules {
		wg.Add(1)
		go func(i int, r domain.AutomationRule) {
			defer wg.Done()
			results[i] = TriggerResult{AutomationID: r.ID, Name: r.Name}

			payload, err := dispatch.BuildPayload(r, tc)
			if err != nil {
				s.log.Warn("could not build payload",
					zap.String("automation_id", r.ID.String()),
					zap.Error(err))
				results[i].Result = dispatch.Result{Success: false, Error: err.Error()}
				return
			}
			results[i].Result = s.execute(ctx, r, payload, s.retry)
		}(i, r)
	}
	wg.Wait()

	s.log.Info("event processed",
		zap.String("tenant_id", tc.TenantID.String()),
		zap.String("entity", string(tc.Entity)),
		zap.String("event", string(tc.Event)),
		zap.Int("automations", len(rules)))
	return results
}

// Run dispatches a scheduled rule with the configured retry policy.
func (s *Service) Run(ctx context.Context, r domain.AutomationRule) dispatch.Result {
	payload, err := dispatch.BuildPayload(r, dispatch.TemplateContext{
		TenantID: r.TenantID,
		Entity:   r.TargetEntity,
		Event:    r.Event,
		Record:   map[string]any{},
		Now:      s.now(),
	})
	if err != nil {
		return dispatch.Result{Success: false, Error: err.Error()}
	}
	return s.execute(ctx, r, payload, s.retry)
}

// execute dispatches until success or until the policy gives up. Every
// attempt that reaches the dispatcher is recorded on the rule.
func (s *Service) execute(ctx context.Context, r domain.AutomationRule, payload json.RawMessage, policy RetryPolicy) dispatch.Result {
	if _, ok := dispatch.SessionFromContext(ctx); !ok {
		// Geen sessie: de dispatcher faalt direct, er is niets te boekhouden.
		return s.dispatcher.Dispatch(ctx, r, payload)
	}

	var result dispatch.Result
	attempts := 0
	operation := func() error {
		attempts++
		result = s.dispatcher.Dispatch(ctx, r, payload)
		s.recordOutcome(ctx, r, result)
		if result.Success {
			return nil
		}
		return errors.New(result.Error)
	}
	notify := func(err error, wait time.Duration) {
		s.log.Info("retrying automation",
			zap.String("automation_id", r.ID.String()),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.String("error", logger.Truncate(err.Error())))
	}

	if err := backoff.RetryNotify(operation, policy.backOff(ctx), notify); err != nil && attempts > 1 {
		s.log.Warn("automation failed after retries",
			zap.String("automation_id", r.ID.String()),
			zap.Int("attempts", attempts))
	}
	return result
}

func (s *Service) recordOutcome(ctx context.Context, r domain.AutomationRule, result dispatch.Result) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	outcome := rule.DispatchOutcome{Success: result.Success, Error: result.Error}
	if err := s.rules.RecordDispatchOutcome(writeCtx, r.TenantID, r.ID, outcome); err != nil {
		s.log.Error("failed to record dispatch outcome",
			zap.String("automation_id", r.ID.String()),
			zap.Error(err))
	}
}
