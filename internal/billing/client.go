package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const providerTimeout = 15 * time.Second

// SubscriptionFetcher reads the provider's source of truth for a subscription.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
}

// ProviderClient talks to the billing provider's REST API with a secret key.
type ProviderClient struct {
	baseURL string
	client  *http.Client
}

// NewProviderClient creates a client that authenticates every call with apiKey.
// A nil base uses http.DefaultClient as transport.
func NewProviderClient(baseURL, apiKey string, base *http.Client) *ProviderClient {
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: apiKey,
		TokenType:   "Bearer",
	}))
	client.Timeout = providerTimeout

	return &ProviderClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// GetSubscription fetches GET /v1/subscriptions/{id}.
func (c *ProviderClient) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	endpoint := c.baseURL + "/v1/subscriptions/" + url.PathEscape(subscriptionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Subscription{}, fmt.Errorf("could not build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Subscription{}, fmt.Errorf("billing provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Subscription{}, fmt.Errorf("could not read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Subscription{}, fmt.Errorf("billing provider responded with HTTP %d", resp.StatusCode)
	}

	var sub Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return Subscription{}, fmt.Errorf("could not decode subscription: %w", err)
	}
	return sub, nil
}
