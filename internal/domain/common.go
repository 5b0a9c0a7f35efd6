package domain

import (
	"time"

	"github.com/google/uuid"
)

// --- ENUM Types ---

// RuleKind discriminates the two automation variants. Webhook rules carry a
// signing secret, api rules do not.
type RuleKind string

const (
	KindWebhook RuleKind = "webhook"
	KindAPI     RuleKind = "api"
)

// Valid reports whether k is one of the known kinds.
func (k RuleKind) Valid() bool {
	return k == KindWebhook || k == KindAPI
}

// SignsRequests reports whether dispatches for this kind carry the
// X-Webhook-Secret header.
func (k RuleKind) SignsRequests() bool {
	return k == KindWebhook
}

type HTTPMethod string

const (
	MethodGet   HTTPMethod = "GET"
	MethodPost  HTTPMethod = "POST"
	MethodPut   HTTPMethod = "PUT"
	MethodPatch HTTPMethod = "PATCH"
)

func (m HTTPMethod) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch:
		return true
	}
	return false
}

// HasBody reports whether a payload is sent for this method.
func (m HTTPMethod) HasBody() bool {
	return m != MethodGet
}

// TargetEntity values are the literal storage tokens shared with the existing data.
type TargetEntity string

const (
	EntityProducts   TargetEntity = "produtos"
	EntityLeads      TargetEntity = "leads"
	EntityProperties TargetEntity = "imoveis"
	EntityTasks      TargetEntity = "tarefas"
)

func (e TargetEntity) Valid() bool {
	switch e {
	case EntityProducts, EntityLeads, EntityProperties, EntityTasks:
		return true
	}
	return false
}

type TriggerEvent string

const (
	EventCreate TriggerEvent = "criacao"
	EventUpdate TriggerEvent = "atualizacao"
	EventDelete TriggerEvent = "delecao"
	EventManual TriggerEvent = "manual"
)

func (e TriggerEvent) Valid() bool {
	switch e {
	case EventCreate, EventUpdate, EventDelete, EventManual:
		return true
	}
	return false
}

// RunStatus is shared by the rule's cached last_status and by log entries.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunPending RunStatus = "pending"
)

// SubscriptionStatus is the normalized five-value projection of the billing
// provider's status vocabulary.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

// --- Base Structs ---

type BaseEntity struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type TenantEntity struct {
	BaseEntity
	TenantID uuid.UUID `db:"tenant_id" json:"tenant_id"`
}
