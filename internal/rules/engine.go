package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultScanWindow is how many of the owner's newest messages a batch run inspects
	DefaultScanWindow = 500
	// DefaultWorkers bounds how many matched messages are mutated concurrently
	DefaultWorkers = 8
)

// Options tunes the rules engine
type Options struct {
	ScanWindow int
	Workers    int
}

// Engine evaluates automation rules against messages and applies their actions
type Engine struct {
	rules      core.RuleRepository
	messages   core.MessageRepository
	labels     core.LabelRepository
	logger     *zap.Logger
	scanWindow int
	workers    int
	now        func() time.Time
}

// NewEngine creates a new rules engine
func NewEngine(rules core.RuleRepository, messages core.MessageRepository, labels core.LabelRepository, logger *zap.Logger, opts Options) *Engine {
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = DefaultScanWindow
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Engine{
		rules:      rules,
		messages:   messages,
		labels:     labels,
		logger:     logger,
		scanWindow: opts.ScanWindow,
		workers:    opts.Workers,
		now:        time.Now,
	}
}

// RunRule executes one rule over the owner's recent messages and records a single run log.
// The returned log is never nil; the error repeats the failure captured in it.
func (e *Engine) RunRule(ctx context.Context, rule *core.AutomationRule) (*core.RunLog, error) {
	started := e.now()
	log := &core.RunLog{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		UserID:    rule.UserID,
		Status:    core.RunPending,
		StartedAt: started,
		Outcomes:  []core.MessageOutcome{},
	}

	log.Status = core.RunRunning
	runErr := e.execute(ctx, rule, log)

	finished := e.now()
	log.FinishedAt = &finished
	if runErr != nil {
		log.Status = core.RunFailed
		log.Error = runErr.Error()
	} else {
		log.Status = core.RunCompleted
	}

	ruleRuns.WithLabelValues(string(log.Status)).Inc()
	ruleRunDuration.Observe(finished.Sub(started).Seconds())

	if err := e.rules.AppendRunLog(ctx, log); err != nil {
		e.logger.Error("Failed to store rule run log",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
		runErr = errors.Join(runErr, fmt.Errorf("failed to store run log: %w", err))
	}

	if runErr != nil {
		e.logger.Warn("Rule run failed",
			zap.String("rule_id", rule.ID),
			zap.String("user_id", rule.UserID),
			zap.Error(runErr))
		return log, runErr
	}

	e.logger.Info("Rule run completed",
		zap.String("rule_id", rule.ID),
		zap.String("user_id", rule.UserID),
		zap.Int("scanned", log.EmailsScanned),
		zap.Int("affected", log.EmailsAffected))
	return log, nil
}

func (e *Engine) execute(ctx context.Context, rule *core.AutomationRule, log *core.RunLog) error {
	emails, err := e.messages.ListRecentEmails(ctx, rule.UserID, e.scanWindow)
	if err != nil {
		return fmt.Errorf("failed to list emails: %w", err)
	}
	log.EmailsScanned = len(emails)

	now := e.now()
	var matched []*core.Email
	for _, email := range emails {
		if Evaluate(rule.Conditions, email, now) {
			matched = append(matched, email)
		}
	}

	outcomes := make([]core.MessageOutcome, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, email := range matched {
		g.Go(func() error {
			outcomes[i] = e.applyActions(gctx, rule, email)
			return nil
		})
	}
	_ = g.Wait()

	affected := 0
	for _, o := range outcomes {
		if o.Affected() {
			affected++
		}
	}
	log.Outcomes = outcomes
	log.EmailsAffected = affected

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rule run interrupted: %w", err)
	}
	if err := e.rules.RecordRuleRun(ctx, rule.ID, affected, e.now()); err != nil {
		return fmt.Errorf("failed to update rule statistics: %w", err)
	}
	return nil
}

// RunAllActive runs every active rule of the user one after another. A failing rule is
// recorded in its own run log and does not stop the remaining rules.
func (e *Engine) RunAllActive(ctx context.Context, userID string) ([]*core.RunLog, error) {
	return e.runMatching(ctx, userID, func(r *core.AutomationRule) bool { return r.Active })
}

// RunDue runs the user's active scheduled rules whose frequency interval has elapsed
func (e *Engine) RunDue(ctx context.Context, userID string) ([]*core.RunLog, error) {
	now := e.now()
	return e.runMatching(ctx, userID, func(r *core.AutomationRule) bool {
		return r.Active && isDue(r, now)
	})
}

func isDue(rule *core.AutomationRule, now time.Time) bool {
	interval := rule.Frequency.Interval()
	if interval == 0 {
		return false
	}
	return rule.LastRunAt == nil || now.Sub(*rule.LastRunAt) >= interval
}

func (e *Engine) runMatching(ctx context.Context, userID string, include func(*core.AutomationRule) bool) ([]*core.RunLog, error) {
	rules, err := e.rules.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	var logs []*core.RunLog
	for _, rule := range rules {
		if !include(rule) {
			continue
		}
		if ctx.Err() != nil {
			return logs, ctx.Err()
		}
		log, _ := e.RunRule(ctx, rule)
		logs = append(logs, log)
	}
	return logs, nil
}

// ApplyToMessage runs the user's active rules against one newly classified message.
// It returns how many rules changed the message. Arrival runs add to a rule's affected
// count but are not runs: no run log, run count or last run time is written.
func (e *Engine) ApplyToMessage(ctx context.Context, email *core.Email) (int, error) {
	rules, err := e.rules.ListRules(ctx, email.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}

	now := e.now()
	applied := 0
	for _, rule := range rules {
		if !rule.Active || !Evaluate(rule.Conditions, email, now) {
			continue
		}

		if !e.applyActions(ctx, rule, email).Affected() {
			continue
		}
		applied++
		arrivalApplications.Inc()
		if err := e.rules.RecordRuleAffected(ctx, rule.ID, 1); err != nil {
			e.logger.Warn("Failed to update rule statistics",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
		}
	}

	if applied > 0 {
		e.logger.Debug("Applied rules to arriving email",
			zap.String("email_id", email.ID),
			zap.Int("rules", applied))
	}
	return applied, nil
}
