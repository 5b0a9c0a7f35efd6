// db/migrations/embed.go

package migrations

import "embed"

//go:embed 000001_automation_schema.up.sql
var AutomationSchemaUp string

//go:embed 000001_automation_schema.down.sql
var AutomationSchemaDown string

// Billing schema migrations
//go:embed 000002_billing_schema.up.sql
var BillingSchemaUp string

//go:embed 000002_billing_schema.down.sql
var BillingSchemaDown string

// Alle sql-bestanden als bestandssysteem, voor golang-migrate in integratietests.
//
//go:embed *.sql
var SQLFiles embed.FS
