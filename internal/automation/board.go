package automation

import (
	"context"
	"sync"

	"crm-automation-api/internal/domain"

	"github.com/google/uuid"
)

// Board is the in-memory rule list an operator view works on. Server-derived
// fields are only ever taken from the store; the active flag is patched
// optimistically.
type Board struct {
	mu       sync.RWMutex
	svc      *Service
	tenantID uuid.UUID
	rules    []domain.AutomationRule
	lastErr  error
}

// NewBoard creates an empty board for one tenant.
func NewBoard(svc *Service, tenantID uuid.UUID) *Board {
	return &Board{svc: svc, tenantID: tenantID}
}

// Rules returns a copy of the current list filtered by f.
func (b *Board) Rules(f Filter) []domain.AutomationRule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return FilterRules(b.rules, f)
}

// Err is the last failure, nil after a successful operation.
func (b *Board) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

func (b *Board) fail(err error) error {
	b.lastErr = err
	return err
}

// Load replaces the list. On failure the previous list stays visible.
func (b *Board) Load(ctx context.Context) error {
	rules, err := b.svc.List(ctx, b.tenantID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		return b.fail(err)
	}
	b.rules, b.lastErr = rules, nil
	return nil
}

// Create inserts the persisted rule at the front.
func (b *Board) Create(ctx context.Context, in CreateInput) (domain.AutomationRule, error) {
	created, err := b.svc.Create(ctx, b.tenantID, in)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		return domain.AutomationRule{}, b.fail(err)
	}
	b.rules = append([]domain.AutomationRule{created}, b.rules...)
	b.lastErr = nil
	return created, nil
}

// Update replaces the rule with the same id.
func (b *Board) Update(ctx context.Context, ruleID uuid.UUID, in UpdateInput) (domain.AutomationRule, error) {
	updated, err := b.svc.Update(ctx, b.tenantID, ruleID, in)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		return domain.AutomationRule{}, b.fail(err)
	}
	b.replace(updated)
	b.lastErr = nil
	return updated, nil
}

// Delete removes the rule from the list once the store has removed it.
func (b *Board) Delete(ctx context.Context, ruleID uuid.UUID) error {
	err := b.svc.Delete(ctx, b.tenantID, ruleID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		return b.fail(err)
	}
	kept := b.rules[:0:0]
	for _, r := range b.rules {
		if r.ID != ruleID {
			kept = append(kept, r)
		}
	}
	b.rules, b.lastErr = kept, nil
	return nil
}

// ToggleActive patches the flag first and reverts it when the store refuses.
func (b *Board) ToggleActive(ctx context.Context, ruleID uuid.UUID, active bool) error {
	b.mu.Lock()
	previous, found := b.setActive(ruleID, active)
	b.mu.Unlock()

	updated, err := b.svc.ToggleActive(ctx, b.tenantID, ruleID, active)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if found {
			b.setActive(ruleID, previous)
		}
		return b.fail(err)
	}
	b.replace(updated)
	b.lastErr = nil
	return nil
}

// Test runs a manual test and takes over the refetched list.
func (b *Board) Test(ctx context.Context, ruleID uuid.UUID) (TestOutcome, error) {
	outcome, err := b.svc.TestRule(ctx, b.tenantID, ruleID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		return outcome, b.fail(err)
	}
	b.rules, b.lastErr = outcome.Automations, nil
	return outcome, nil
}

func (b *Board) replace(r domain.AutomationRule) {
	for i := range b.rules {
		if b.rules[i].ID == r.ID {
			b.rules[i] = r
			return
		}
	}
}

func (b *Board) setActive(ruleID uuid.UUID, active bool) (previous bool, found bool) {
	for i := range b.rules {
		if b.rules[i].ID == ruleID {
			previous = b.rules[i].Active
			b.rules[i].Active = active
			return previous, true
		}
	}
	return false, false
}
