package store

import (
	"crm-automation-api/internal/crypto"
	"crm-automation-api/internal/database"
	"crm-automation-api/internal/store/log"
	"crm-automation-api/internal/store/rule"
	"crm-automation-api/internal/store/subscription"
)

// Storer is de interface voor al onze database-interacties.
type Storer interface {
	rule.RuleStorer
	log.LogStorer
	subscription.SubscriptionStorer
}

// DBStore implementeert de Storer interface door de sub-stores te combineren.
type DBStore struct {
	*rule.RuleStore
	*log.LogStore
	*subscription.SubscriptionStore
}

var _ Storer = (*DBStore)(nil)

// NewStore maakt een nieuwe DBStore. db is meestal een *pgxpool.Pool.
func NewStore(db database.Querier, sealer *crypto.Sealer) *DBStore {
	return &DBStore{
		RuleStore:         rule.NewRuleStore(db, sealer),
		LogStore:          log.NewLogStore(db),
		SubscriptionStore: subscription.NewSubscriptionStore(db),
	}
}
