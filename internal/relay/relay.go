package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crm-automation-api/internal/dispatch"
	"crm-automation-api/internal/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxResponseBody = 1 << 20

// ErrInvalidRequest wraps validation failures of a relay request.
var ErrInvalidRequest = errors.New("invalid relay request")

// hopHeaders are never forwarded to the destination.
var hopHeaders = []string{"Host", "Content-Length", "Connection", "Transfer-Encoding"}

// Request is a validated relay call.
type Request struct {
	URL     string            `json:"url"     validate:"required,http_url"`
	Method  string            `json:"method"  validate:"required,oneof=GET POST PUT PATCH"`
	Headers map[string]string `json:"headers"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// Service performs outbound calls for the dispatcher, server side.
type Service struct {
	client   *http.Client
	validate *validator.Validate
	log      *zap.Logger
}

// NewService creates a relay with a bounded per-call timeout.
func NewService(timeout time.Duration, log *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = dispatch.DefaultTimeout
	}
	return &Service{
		client:   &http.Client{Timeout: timeout},
		validate: validator.New(),
		log:      logger.WithComponent(log, "relay"),
	}
}

// Forward calls the destination and reports its status and decoded body.
// Destination failures (any status) are a successful relay call with
// success=false; only validation and transport problems return an error.
func (s *Service) Forward(ctx context.Context, req Request) (dispatch.RelayResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return dispatch.RelayResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var body io.Reader
	if req.Method != http.MethodGet && len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return dispatch.RelayResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	for _, name := range hopHeaders {
		httpReq.Header.Del(name)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.log.Warn("destination unreachable",
			zap.String("method", req.Method),
			zap.String("host", httpReq.URL.Host),
			zap.String("error", logger.Truncate(err.Error())))
		return dispatch.RelayResponse{}, fmt.Errorf("destination call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return dispatch.RelayResponse{}, fmt.Errorf("could not read destination response: %w", err)
	}

	logger.LogDuration(s.log, "relay_forward", time.Since(start).Milliseconds(),
		zap.String("method", req.Method),
		zap.String("host", httpReq.URL.Host),
		zap.Int("status", resp.StatusCode))

	return dispatch.RelayResponse{
		Success: resp.StatusCode >= 200 && resp.StatusCode <= 299,
		Status:  resp.StatusCode,
		Dados:   decodeBody(raw),
	}, nil
}

// decodeBody keeps JSON bodies as-is and wraps anything else as a JSON string.
func decodeBody(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	text, _ := json.Marshal(strings.ToValidUTF8(string(raw), "�"))
	return text
}
