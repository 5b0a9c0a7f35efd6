package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-automation-api/internal/config"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                       "test",
		Port:                      "8181", // Gebruik een andere poort voor de test
		DatabaseURL:               "postgres://unused",
		JWTSecretKey:              "test-secret-key",
		EncryptionKey:             "0123456789abcdef0123456789abcdef",
		AllowedOrigin:             []string{"http://localhost:3000"},
		PublicBaseURL:             "http://localhost:8181",
		RelayURL:                  "http://localhost:8181/api/v1/relay",
		RelayTimeout:              30 * time.Second,
		DispatchMaxRetries:        3,
		DispatchRetryInterval:     time.Second,
		SchedulerSpec:             "@every 1h",
		BillingWebhookSecret:      "whsec_test",
		BillingAPIBaseURL:         "https://api.stripe.com",
		BillingSignatureTolerance: 5 * time.Minute,
	}
}

// TestRun_Success test het 'happy path' van de applicatie-setup.
func TestRun_Success(t *testing.T) {
	// --- Arrange ---
	logger := zap.NewNop()

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	// --- Act ---
	app, err := run(testConfig(), logger, mockPool)

	// --- Assert ---
	require.NoError(t, err)
	require.NotNil(t, app)
	defer app.worker.Stop()

	server := app.server
	assert.NotNil(t, app.automations)

	assert.Equal(t, ":8181", server.Addr)
	assert.NotNil(t, server.Handler) // De router moet ingesteld zijn

	rr := httptest.NewRecorder()
	server.Handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	server.Handler.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestRun_InvalidEncryptionKey test of de setup faalt met een verkeerde sleutel
func TestRun_InvalidEncryptionKey(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	cfg := testConfig()
	cfg.EncryptionKey = "te-kort"

	app, err := run(cfg, zap.NewNop(), mockPool)

	assert.Error(t, err)
	assert.Nil(t, app)
}

func TestRun_InvalidSchedulerSpec(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	cfg := testConfig()
	cfg.SchedulerSpec = "elke minuut"

	app, err := run(cfg, zap.NewNop(), mockPool)

	assert.Error(t, err)
	assert.Nil(t, app)
}
