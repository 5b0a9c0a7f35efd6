package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crm-automation-api/internal/dispatch"
	"crm-automation-api/internal/domain"
	"crm-automation-api/internal/logger"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSpec runs the scheduler once a minute.
const DefaultSpec = "@every 1m"

const cycleTimeout = 50 * time.Second

// scheduleWriteTimeout bounds the schedule update after a run, also when the
// cycle deadline already passed.
const scheduleWriteTimeout = 5 * time.Second

// DueRuleStore is the part of the rule store the worker needs.
type DueRuleStore interface {
	ListDueRules(ctx context.Context, now time.Time) ([]domain.AutomationRule, error)
	MarkScheduledRun(ctx context.Context, tenantID, ruleID uuid.UUID, ranAt time.Time) error
}

// RuleRunner dispatches one rule, retries included.
type RuleRunner interface {
	Run(ctx context.Context, rule domain.AutomationRule) dispatch.Result
}

// SessionIssuer mints the session a scheduled dispatch runs under.
type SessionIssuer interface {
	IssueService(tenantID uuid.UUID) (string, error)
}

// Worker is de achtergrond-processor voor regels met een frequentie.
type Worker struct {
	store    DueRuleStore
	runner   RuleRunner
	sessions SessionIssuer
	cron     *cron.Cron
	spec     string
	logger   *zap.Logger
	now      func() time.Time
}

// NewWorker creates a worker that runs on spec (standard cron or @every).
func NewWorker(store DueRuleStore, runner RuleRunner, sessions SessionIssuer, spec string, log *zap.Logger) (*Worker, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid scheduler spec %q: %w", spec, err)
	}

	log = logger.WithComponent(log, "worker")
	return &Worker{
		store:    store,
		runner:   runner,
		sessions: sessions,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log}))),
		spec:     spec,
		logger:   log,
		now:      time.Now,
	}, nil
}

// Start registers the cycle and starts the cron runner in its own goroutine.
func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.spec, w.doWork); err != nil {
		return fmt.Errorf("could not schedule worker: %w", err)
	}
	w.logger.Info("starting worker", zap.String("spec", w.spec))
	w.cron.Start()
	return nil
}

// Stop stops scheduling; the returned context is done once a running cycle finished.
func (w *Worker) Stop() context.Context {
	return w.cron.Stop()
}

func (w *Worker) doWork() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("worker cycle failed", zap.Error(err))
	}
}

// RunOnce dispatches every due rule in parallel and moves its schedule forward.
func (w *Worker) RunOnce(ctx context.Context) error {
	now := w.now()
	rules, err := w.store.ListDueRules(ctx, now)
	if err != nil {
		return fmt.Errorf("could not get due rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	w.logger.Debug("due rules found", zap.Int("count", len(rules)))

	sessions := make(map[uuid.UUID]string)
	var wg sync.WaitGroup
	for _, rule := range rules {
		token, ok := sessions[rule.TenantID]
		if !ok {
			token, err = w.sessions.IssueService(rule.TenantID)
			if err != nil {
				w.logger.Error("could not issue service session",
					zap.String("tenant_id", rule.TenantID.String()),
					zap.Error(err))
				continue
			}
			sessions[rule.TenantID] = token
		}

		wg.Add(1)
		go func(rule domain.AutomationRule, token string) {
			defer wg.Done()
			w.processRule(dispatch.WithSession(ctx, token), rule, now)
		}(rule, token)
	}
	wg.Wait()

	return nil
}

func (w *Worker) processRule(ctx context.Context, rule domain.AutomationRule, now time.Time) {
	start := time.Now()
	result := w.runner.Run(ctx, rule)

	// Ook na een mislukte of afgebroken run schuift de planning door; failed_attempts houdt de fouten bij.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scheduleWriteTimeout)
	defer cancel()
	if err := w.store.MarkScheduledRun(writeCtx, rule.TenantID, rule.ID, now); err != nil {
		w.logger.Error("could not update schedule",
			zap.String("automation_id", rule.ID.String()),
			zap.Error(err))
	}

	logger.LogDuration(w.logger, "scheduled_run", time.Since(start).Milliseconds(),
		zap.String("automation_id", rule.ID.String()),
		zap.Bool("success", result.Success))
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
