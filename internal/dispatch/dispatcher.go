package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-automation-api/internal/domain"
	"crm-automation-api/internal/metrics"
	"crm-automation-api/internal/store/log"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// SecretHeader carries a webhook rule's secret to the destination.
const SecretHeader = "X-Webhook-Secret"

// DefaultTimeout bounds one relay call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Result is what a dispatch attempt returns. Dispatch never fails with an
// error; every failure is reported here (and in the execution log).
type Result struct {
	Success    bool            `json:"success"`
	Code       int             `json:"code,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// LogWriter is the part of the execution log store the dispatcher needs.
type LogWriter interface {
	AppendLog(ctx context.Context, arg log.AppendLogParams) (domain.AutomationLogEntry, error)
}

// Dispatcher performs outbound rule calls through the relay.
type Dispatcher struct {
	relay   Relay
	logs    LogWriter
	metrics *metrics.Recorder
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. A zero timeout means DefaultTimeout.
func NewDispatcher(relay Relay, logs LogWriter, recorder *metrics.Recorder, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		relay:   relay,
		logs:    logs,
		metrics: recorder,
		log:     logger.With(zap.String("component", "dispatcher")),
		timeout: timeout,
		now:     time.Now,
	}
}

// TestPayload is sent when a dispatch has no payload of its own.
func TestPayload(now time.Time) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"test":      true,
		"timestamp": now.UTC().Format(time.RFC3339),
	})
	return raw
}

// OutboundHeaders copies rule.Headers and adds the secret header for webhook rules.
func OutboundHeaders(rule domain.AutomationRule) map[string]string {
	headers := make(map[string]string, len(rule.Headers)+1)
	for k, v := range rule.Headers {
		headers[k] = v
	}
	if rule.Kind.SignsRequests() && rule.WebhookSecret != nil && *rule.WebhookSecret != "" {
		headers[SecretHeader] = *rule.WebhookSecret
	}
	return headers
}

// Dispatch sends payload (or a synthetic test payload when nil) to the rule's
// destination via the relay, and records exactly one log entry. Without a
// session in ctx it fails fast: no network call, no log entry.
func (d *Dispatcher) Dispatch(ctx context.Context, rule domain.AutomationRule, payload json.RawMessage) Result {
	session, ok := SessionFromContext(ctx)
	if !ok {
		d.log.Warn("dispatch skipped: no session",
			zap.String("automation_id", rule.ID.String()))
		return Result{Success: false, Error: domain.ErrMissingSession.Error()}
	}

	headers := OutboundHeaders(rule)
	if len(payload) == 0 {
		payload = TestPayload(d.now())
	}

	req := RelayRequest{
		URL:     rule.URL,
		Method:  string(rule.HTTPMethod),
		Headers: headers,
	}
	var sentPayload json.RawMessage
	if rule.HTTPMethod.HasBody() {
		req.Payload = payload
		sentPayload = payload
	}

	start := d.now()
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	raw, err := d.relay.Forward(callCtx, session, req)
	cancel()
	elapsed := d.now().Sub(start).Milliseconds()

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("relay call timed out after %s", d.timeout)
		}
		d.record(ctx, rule, log.AppendLogParams{
			AutomationID:   rule.ID,
			Status:         domain.RunError,
			RequestPayload: sentPayload,
			ErrorMessage:   &msg,
			DurationMs:     &elapsed,
		})
		return Result{Success: false, Error: msg, DurationMs: elapsed}
	}

	var envelope RelayResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// Onleesbaar antwoord: bewaar de ruwe tekst voor diagnose.
		msg := fmt.Sprintf("malformed relay response: %v", err)
		response, _ := json.Marshal(map[string]string{"raw": string(raw)})
		d.record(ctx, rule, log.AppendLogParams{
			AutomationID:   rule.ID,
			Status:         domain.RunError,
			RequestPayload: sentPayload,
			ResponseBody:   response,
			ErrorMessage:   &msg,
			DurationMs:     &elapsed,
		})
		return Result{Success: false, Response: response, DurationMs: elapsed, Error: msg}
	}

	result := Result{
		Success:    envelope.Success,
		Code:       envelope.Status,
		Response:   envelope.Dados,
		DurationMs: elapsed,
	}

	entry := log.AppendLogParams{
		AutomationID:   rule.ID,
		Status:         domain.RunSuccess,
		RequestPayload: sentPayload,
		ResponseBody:   envelope.Dados,
		HTTPStatusCode: lo.ToPtr(envelope.Status),
		DurationMs:     &elapsed,
	}
	if !envelope.Success {
		result.Error = fmt.Sprintf("request failed with HTTP status %d", envelope.Status)
		entry.Status = domain.RunError
		entry.ErrorMessage = &result.Error
	}
	d.record(ctx, rule, entry)

	return result
}

// record writes the log entry. A failing log write is reported but never
// changes the dispatch result.
func (d *Dispatcher) record(ctx context.Context, rule domain.AutomationRule, entry log.AppendLogParams) {
	d.metrics.ObserveDispatch(string(entry.Status), lo.FromPtr(entry.DurationMs))

	// Losgekoppeld van de request-context zodat een geannuleerde caller het log niet verliest.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := d.logs.AppendLog(writeCtx, entry); err != nil {
		d.log.Error("failed to write automation log",
			zap.Error(err),
			zap.String("automation_id", rule.ID.String()),
			zap.String("status", string(entry.Status)))
		return
	}

	fields := []zap.Field{
		zap.String("automation_id", rule.ID.String()),
		zap.String("tenant_id", rule.TenantID.String()),
		zap.String("status", string(entry.Status)),
		zap.Int64("duration_ms", lo.FromPtr(entry.DurationMs)),
	}
	if entry.HTTPStatusCode != nil {
		fields = append(fields, zap.Int("http_status", *entry.HTTPStatusCode))
	}
	d.log.Info("dispatch recorded", fields...)
}
