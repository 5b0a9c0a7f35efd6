package store

import (
	"context"
	"time"

	"crm-automation-api/internal/domain"
	"crm-automation-api/internal/store/log"
	"crm-automation-api/internal/store/rule"
	"crm-automation-api/internal/store/subscription"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Storer interface for testing
type MockStore struct {
	mock.Mock
}

var _ Storer = (*MockStore)(nil)

func (m *MockStore) CreateRule(ctx context.Context, arg rule.CreateRuleParams) (domain.AutomationRule, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(domain.AutomationRule), args.Error(1)
}

func (m *MockStore) ListRules(ctx context.Context, tenantID uuid.UUID) ([]domain.AutomationRule, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AutomationRule), args.Error(1)
}

func (m *MockStore) GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (domain.AutomationRule, error) {
	args := m.Called(ctx, tenantID, ruleID)
	return args.Get(0).(domain.AutomationRule), args.Error(1)
}

func (m *MockStore) UpdateRule(ctx context.Context, tenantID, ruleID uuid.UUID, arg rule.UpdateRuleParams) (domain.AutomationRule, error) {
	args := m.Called(ctx, tenantID, ruleID, arg)
	return args.Get(0).(domain.AutomationRule), args.Error(1)
}

func (m *MockStore) DeleteRule(ctx context.Context, tenantID, ruleID uuid.UUID) error {
	args := m.Called(ctx, tenantID, ruleID)
	return args.Error(0)
}

func (m *MockStore) SetRuleActive(ctx context.Context, tenantID, ruleID uuid.UUID, active bool) (domain.AutomationRule, error) {
	args := m.Called(ctx, tenantID, ruleID, active)
	return args.Get(0).(domain.AutomationRule), args.Error(1)
}

func (m *MockStore) RecordDispatchOutcome(ctx context.Context, tenantID, ruleID uuid.UUID, outcome rule.DispatchOutcome) error {
	args := m.Called(ctx, tenantID, ruleID, outcome)
	return args.Error(0)
}

func (m *MockStore) ListActiveRulesForEvent(ctx context.Context, tenantID uuid.UUID, entity domain.TargetEntity, event domain.TriggerEvent) ([]domain.AutomationRule, error) {
	args := m.Called(ctx, tenantID, entity, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AutomationRule), args.Error(1)
}

func (m *MockStore) ListDueRules(ctx context.Context, now time.Time) ([]domain.AutomationRule, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AutomationRule), args.Error(1)
}

func (m *MockStore) MarkScheduledRun(ctx context.Context, tenantID, ruleID uuid.UUID, ranAt time.Time) error {
	args := m.Called(ctx, tenantID, ruleID, ranAt)
	return args.Error(0)
}

func (m *MockStore) AppendLog(ctx context.Context, arg log.AppendLogParams) (domain.AutomationLogEntry, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(domain.AutomationLogEntry), args.Error(1)
}

func (m *MockStore) ListLogs(ctx context.Context, automationID uuid.UUID, limit int) ([]domain.AutomationLogEntry, error) {
	args := m.Called(ctx, automationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AutomationLogEntry), args.Error(1)
}

func (m *MockStore) UpsertByUserID(ctx context.Context, arg subscription.UpsertParams) (domain.SubscriptionState, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(domain.SubscriptionState), args.Error(1)
}

func (m *MockStore) UpdateByCustomerID(ctx context.Context, customerID string, arg subscription.CustomerUpdate) (int64, error) {
	args := m.Called(ctx, customerID, arg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) MarkCanceledByCustomerID(ctx context.Context, customerID string) (int64, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) MarkPastDueByCustomerID(ctx context.Context, customerID string) (int64, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) FindUserIDByCustomerID(ctx context.Context, customerID string) (uuid.UUID, bool, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(uuid.UUID), args.Bool(1), args.Error(2)
}

func (m *MockStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionState, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SubscriptionState), args.Error(1)
}

func (m *MockStore) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	args := m.Called(ctx, eventID, eventType)
	return args.Error(0)
}
