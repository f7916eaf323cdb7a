package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

// RuleRunner runs the rules that are due for one user
type RuleRunner interface {
	RunDue(ctx context.Context, userID string) ([]*core.RunLog, error)
}

// OwnerLister lists users with at least one active rule
type OwnerLister interface {
	ListActiveRuleOwners(ctx context.Context) ([]string, error)
}

// Aggregator rolls up the previous day's classification log
type Aggregator interface {
	AggregateYesterday(ctx context.Context) (int, error)
}

// Options configures the periodic jobs. A zero interval disables the job.
type Options struct {
	RulesInterval     time.Duration
	AggregateInterval time.Duration
}

// Scheduler submits periodic maintenance tasks to a Queue
type Scheduler struct {
	queue      *Queue
	owners     OwnerLister
	rules      RuleRunner
	aggregator Aggregator
	opts       Options
	logger     *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new scheduler
func New(queue *Queue, owners OwnerLister, rules RuleRunner, aggregator Aggregator, logger *zap.Logger, opts Options) *Scheduler {
	return &Scheduler{
		queue:      queue,
		owners:     owners,
		rules:      rules,
		aggregator: aggregator,
		opts:       opts,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the periodic loops
func (s *Scheduler) Start(ctx context.Context) {
	if s.opts.RulesInterval > 0 {
		s.every(ctx, s.opts.RulesInterval, s.RunDueRulesTask)
	}
	if s.opts.AggregateInterval > 0 {
		s.every(ctx, s.opts.AggregateInterval, s.AggregateTask)
	}
	s.logger.Info("Started scheduler",
		zap.Duration("rules_interval", s.opts.RulesInterval),
		zap.Duration("aggregate_interval", s.opts.AggregateInterval))
}

// Stop stops the periodic loops. The queue is stopped by its owner.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, task func() Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				t := task()
				if err := s.queue.Submit(t); err != nil {
					s.logger.Warn("Failed to submit scheduled task", zap.String("task", t.Name), zap.Error(err))
				}
			}
		}
	}()
}

// RunDueRulesTask returns a task running due rules for every rule owner
func (s *Scheduler) RunDueRulesTask() Task {
	return Task{Name: "rules.run_due", Run: s.RunDueRules}
}

// AggregateTask returns a task rolling up yesterday's statistics
func (s *Scheduler) AggregateTask() Task {
	return Task{Name: "stats.aggregate", Run: func(ctx context.Context) error {
		n, err := s.aggregator.AggregateYesterday(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("Aggregated daily summaries", zap.Int("users", n))
		return nil
	}}
}

// RunDueRules runs due rules for every owner. One owner's failure does not stop the others.
func (s *Scheduler) RunDueRules(ctx context.Context) error {
	owners, err := s.owners.ListActiveRuleOwners(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rule owners: %w", err)
	}

	var errs []error
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.rules.RunDue(ctx, owner); err != nil {
			s.logger.Warn("Rule run failed", zap.String("user_id", owner), zap.Error(err))
			errs = append(errs, fmt.Errorf("user %s: %w", owner, err))
		}
	}
	return errors.Join(errs...)
}
