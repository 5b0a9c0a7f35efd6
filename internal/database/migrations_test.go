package database

import (
	"context"
	"errors"
	"testing"

	"crm-automation-api/db/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}
func (m *MockQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("unimplemented")
}
func (m *MockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("unimplemented")
}

func TestRunMigrations_Success(t *testing.T) {
	// Arrange
	ctx := context.Background()
	log := zap.NewNop()
	mockDB := new(MockQuerier)

	// Verwacht dat *elke* migratie wordt aangeroepen
	mockDB.On("Exec", ctx, migrations.AutomationSchemaUp, mock.Anything).Return(pgconn.CommandTag{}, nil).Once()
	mockDB.On("Exec", ctx, migrations.BillingSchemaUp, mock.Anything).Return(pgconn.CommandTag{}, nil).Once()

	// Act
	err := RunMigrations(ctx, mockDB, true, log)

	// Assert
	assert.NoError(t, err)
	mockDB.AssertExpectations(t)
}

func TestRunMigrations_Skip(t *testing.T) {
	// Arrange
	ctx := context.Background()
	observedCore, logs := observer.New(zapcore.InfoLevel)
	mockDB := new(MockQuerier)

	// We verwachten *geen* aanroepen naar Exec

	// Act
	err := RunMigrations(ctx, mockDB, false, zap.New(observedCore))

	// Assert
	assert.NoError(t, err)
	mockDB.AssertExpectations(t) // Verifieert dat Exec NIET is aangeroepen
	assert.Equal(t, 1, logs.FilterMessageSnippet("skipping migrations").Len())
}

func TestRunMigrations_Fail(t *testing.T) {
	// Arrange
	ctx := context.Background()
	log := zap.NewNop()
	mockDB := new(MockQuerier)
	dbError := errors.New("DB migration failed")

	// Laat de *eerste* migratie falen
	mockDB.On("Exec", ctx, migrations.AutomationSchemaUp, mock.Anything).Return(pgconn.CommandTag{}, dbError).Once()
	// We verwachten *niet* dat de billing migratie wordt aangeroepen

	// Act
	err := RunMigrations(ctx, mockDB, true, log)

	// Assert
	assert.Error(t, err)
	assert.Equal(t, dbError, err)
	mockDB.AssertExpectations(t)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	for name, sql := range map[string]string{
		"automation": migrations.AutomationSchemaUp,
		"billing":    migrations.BillingSchemaUp,
	} {
		assert.Contains(t, sql, "IF NOT EXISTS", name)
		assert.NotContains(t, sql, "CREATE TABLE automation", name)
	}
}
