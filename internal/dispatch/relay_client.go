package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// maxRelayResponse caps how much of a relay response is read.
const maxRelayResponse = 1 << 20

// RelayRequest is the body sent to the relay.
type RelayRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// RelayResponse is the envelope the relay answers with. Status is the
// destination's HTTP status, Dados its decoded body.
type RelayResponse struct {
	Success bool            `json:"success"`
	Status  int             `json:"status"`
	Dados   json.RawMessage `json:"dados"`
}

// Relay forwards one outbound call on behalf of session and returns the raw
// relay response body.
type Relay interface {
	Forward(ctx context.Context, session string, req RelayRequest) ([]byte, error)
}

// HTTPRelay calls the relay endpoint over HTTP with the session as bearer token.
type HTTPRelay struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRelay creates a relay client. client may be nil.
func NewHTTPRelay(endpoint string, client *http.Client) *HTTPRelay {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRelay{endpoint: endpoint, client: client}
}

// Forward posts req to the relay. Non-2xx relay answers are errors; the
// destination's own status travels inside the envelope.
func (c *HTTPRelay) Forward(ctx context.Context, session string, req RelayRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not encode relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not build relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// De oauth2 transport zet de Authorization header met de sessie.
	clientCtx := context.WithValue(ctx, oauth2.HTTPClient, c.client)
	client := oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: session,
		TokenType:   "Bearer",
	}))
	client.Timeout = c.client.Timeout

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("relay call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayResponse))
	if err != nil {
		return nil, fmt.Errorf("could not read relay response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("relay responded with HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	return raw, nil
}
