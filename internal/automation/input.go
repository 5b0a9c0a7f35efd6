package automation

import (
	"fmt"

	"crm-automation-api/internal/domain"
	"crm-automation-api/internal/store/rule"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CreateInput is the operator-supplied part of a new rule. Runtime state
// (failed_attempts, last_status, webhook_secret) is never accepted.
type CreateInput struct {
	Name             string              `json:"name"              validate:"required,max=200"`
	Kind             domain.RuleKind     `json:"kind"              validate:"required,oneof=webhook api"`
	URL              string              `json:"url"               validate:"required,http_url"`
	HTTPMethod       domain.HTTPMethod   `json:"http_method"       validate:"required,oneof=GET POST PUT PATCH"`
	TargetEntity     domain.TargetEntity `json:"target_entity"     validate:"required,oneof=produtos leads imoveis tarefas"`
	Event            domain.TriggerEvent `json:"event"             validate:"required,oneof=criacao atualizacao delecao manual"`
	Headers          map[string]string   `json:"headers"`
	BodyTemplate     *string             `json:"body_template"     validate:"omitempty,max=20000"`
	FrequencyMinutes *int                `json:"frequency_minutes" validate:"omitempty,min=1"`
	Active           *bool               `json:"active"`
}

// UpdateInput is a partial update. Kind and TenantID are only decoded so a
// change attempt can be rejected.
type UpdateInput struct {
	Name             *string              `json:"name"              validate:"omitempty,min=1,max=200"`
	URL              *string              `json:"url"               validate:"omitempty,http_url"`
	HTTPMethod       *domain.HTTPMethod   `json:"http_method"       validate:"omitempty,oneof=GET POST PUT PATCH"`
	TargetEntity     *domain.TargetEntity `json:"target_entity"     validate:"omitempty,oneof=produtos leads imoveis tarefas"`
	Event            *domain.TriggerEvent `json:"event"             validate:"omitempty,oneof=criacao atualizacao delecao manual"`
	Headers          map[string]string    `json:"headers"`
	BodyTemplate     *string              `json:"body_template"     validate:"omitempty,max=20000"`
	FrequencyMinutes *int                 `json:"frequency_minutes" validate:"omitempty,min=1"`
	Active           *bool                `json:"active"`

	Kind     *domain.RuleKind `json:"kind"`
	TenantID *uuid.UUID       `json:"tenant_id"`
}

var ruleValidator = validator.New()

func (in CreateInput) validate() error {
	if err := ruleValidator.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}
	return nil
}

func (in CreateInput) params(tenantID uuid.UUID) rule.CreateRuleParams {
	return rule.CreateRuleParams{
		TenantID:         tenantID,
		Name:             in.Name,
		Kind:             in.Kind,
		URL:              in.URL,
		HTTPMethod:       in.HTTPMethod,
		TargetEntity:     in.TargetEntity,
		Event:            in.Event,
		Headers:          in.Headers,
		BodyTemplate:     in.BodyTemplate,
		FrequencyMinutes: in.FrequencyMinutes,
		Active:           in.Active,
	}
}

// check validates the input against the stored rule.
func (in UpdateInput) check(current domain.AutomationRule) error {
	if in.Kind != nil && *in.Kind != current.Kind {
		return fmt.Errorf("kind: %w", domain.ErrImmutableField)
	}
	if in.TenantID != nil && *in.TenantID != current.TenantID {
		return fmt.Errorf("tenant_id: %w", domain.ErrImmutableField)
	}
	if err := ruleValidator.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}
	return nil
}

func (in UpdateInput) params() rule.UpdateRuleParams {
	return rule.UpdateRuleParams{
		Name:             in.Name,
		URL:              in.URL,
		HTTPMethod:       in.HTTPMethod,
		TargetEntity:     in.TargetEntity,
		Event:            in.Event,
		Headers:          in.Headers,
		BodyTemplate:     in.BodyTemplate,
		FrequencyMinutes: in.FrequencyMinutes,
		Active:           in.Active,
	}
}
