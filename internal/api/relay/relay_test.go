package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-automation-api/internal/dispatch"
	relaysvc "crm-automation-api/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func post(t *testing.T, handler http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/relay", &buf))
	return rr
}

func TestHandleRelay_Forwards(t *testing.T) {
	var gotSecret string
	var gotBody []byte
	destination := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(dispatch.SecretHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"queued":true}`))
	}))
	defer destination.Close()

	handler := HandleRelay(relaysvc.NewService(5*time.Second, zap.NewNop()), zap.NewNop())

	rr := post(t, handler, map[string]any{
		"url":     destination.URL + "/hook",
		"method":  "POST",
		"headers": map[string]string{dispatch.SecretHeader: "s3cret"},
		"payload": map[string]any{"id": "lead-1"},
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"status":202,"dados":{"queued":true}}`, rr.Body.String())
	assert.Equal(t, "s3cret", gotSecret)
	assert.JSONEq(t, `{"id":"lead-1"}`, string(gotBody))
}

func TestHandleRelay_DestinationErrorIsEnvelope(t *testing.T) {
	destination := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kapot", http.StatusInternalServerError)
	}))
	defer destination.Close()

	handler := HandleRelay(relaysvc.NewService(5*time.Second, zap.NewNop()), zap.NewNop())
	rr := post(t, handler, map[string]any{"url": destination.URL, "method": "GET"})

	assert.Equal(t, http.StatusOK, rr.Code)
	var env dispatch.RelayResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, http.StatusInternalServerError, env.Status)
}

func TestHandleRelay_InvalidRequest(t *testing.T) {
	handler := HandleRelay(relaysvc.NewService(time.Second, zap.NewNop()), zap.NewNop())

	rr := post(t, handler, map[string]any{"url": "ftp://example.com", "method": "POST"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = post(t, handler, map[string]any{"url": "https://example.com", "method": "DELETE"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/relay", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleRelay_Unreachable(t *testing.T) {
	destination := httptest.NewServer(http.NotFoundHandler())
	url := destination.URL
	destination.Close()

	handler := HandleRelay(relaysvc.NewService(time.Second, zap.NewNop()), zap.NewNop())
	rr := post(t, handler, map[string]any{"url": url, "method": "POST"})

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "destination call failed")
}
