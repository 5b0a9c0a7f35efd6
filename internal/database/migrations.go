package database

import (
	"context"

	"crm-automation-api/db/migrations"

	"go.uber.org/zap"
)

// RunMigrations voert de database migraties uit wanneer enabled (RUN_MIGRATIONS) aan staat.
// Alle scripts zijn idempotent (IF NOT EXISTS), dus herhaald draaien is veilig.
func RunMigrations(ctx context.Context, db Querier, enabled bool, log *zap.Logger) error {
	if !enabled {
		log.Info("skipping migrations (RUN_MIGRATIONS is not 'true')", zap.String("component", "migrations"))
		return nil
	}

	log.Info("running database migrations", zap.String("component", "migrations"))

	migrationSteps := []struct {
		name  string
		query string
	}{
		{"automation schema", migrations.AutomationSchemaUp},
		{"billing schema", migrations.BillingSchemaUp},
	}

	for _, step := range migrationSteps {
		if _, err := db.Exec(ctx, step.query); err != nil {
			log.Error(step.name+" migration failed", zap.Error(err))
			return err
		}
		log.Info(step.name+" migration applied successfully", zap.String("component", "migrations"))
	}

	log.Info("all database migrations applied successfully", zap.String("component", "migrations"))
	return nil
}
