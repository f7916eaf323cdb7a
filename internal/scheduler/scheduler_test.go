package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(opts QueueOptions) *Queue {
	q := NewQueue(zap.NewNop(), opts)
	q.Start()
	return q
}

func TestQueueRunsTasks(t *testing.T) {
	q := newTestQueue(QueueOptions{Workers: 3})
	defer q.Stop()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit(Task{Name: "count", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	q.Wait()
	assert.Equal(t, int32(10), ran.Load())
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	q := newTestQueue(QueueOptions{Workers: 1, MaxAttempts: 5, RetryBaseDelay: time.Millisecond, MaxRetryDelay: 4 * time.Millisecond})
	defer q.Stop()

	var attempts atomic.Int32
	require.NoError(t, q.Submit(Task{Name: "flaky", Run: func(ctx context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}}))
	q.Wait()
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueueGivesUpAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(QueueOptions{Workers: 2, MaxAttempts: 3, RetryBaseDelay: time.Millisecond, MaxRetryDelay: 2 * time.Millisecond})
	defer q.Stop()

	var attempts atomic.Int32
	require.NoError(t, q.Submit(Task{Name: "broken", Run: func(ctx context.Context) error {
		attempts.Add(1)
		return errors.New("always")
	}}))
	q.Wait()
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueueSubmitIsNonBlocking(t *testing.T) {
	// no workers started, so the buffer fills
	q := NewQueue(zap.NewNop(), QueueOptions{Capacity: 2})
	noop := Task{Name: "noop", Run: func(ctx context.Context) error { return nil }}

	require.NoError(t, q.Submit(noop))
	require.NoError(t, q.Submit(noop))
	assert.ErrorIs(t, q.Submit(noop), ErrQueueFull)

	q.Stop()
	assert.ErrorIs(t, q.Submit(noop), ErrQueueStopped)
}

func TestRetryDelay(t *testing.T) {
	q := NewQueue(zap.NewNop(), QueueOptions{RetryBaseDelay: time.Second, MaxRetryDelay: 10 * time.Second})

	assert.Equal(t, time.Second, q.retryDelay(0))
	assert.Equal(t, time.Second, q.retryDelay(1))
	assert.Equal(t, 2*time.Second, q.retryDelay(2))
	assert.Equal(t, 8*time.Second, q.retryDelay(4))
	assert.Equal(t, 10*time.Second, q.retryDelay(5))
	assert.Equal(t, 10*time.Second, q.retryDelay(60))
}

type fakeOwners struct {
	owners []string
	err    error
}

func (f fakeOwners) ListActiveRuleOwners(ctx context.Context) ([]string, error) {
	return f.owners, f.err
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeRunner) RunDue(ctx context.Context, userID string) ([]*core.RunLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	if f.fail[userID] {
		return nil, errors.New("datastore down")
	}
	return nil, nil
}

type fakeAggregator struct {
	calls atomic.Int32
}

func (f *fakeAggregator) AggregateYesterday(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 2, nil
}

func TestRunDueRulesIsolatesOwners(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"bob": true}}
	s := New(nil, fakeOwners{owners: []string{"alice", "bob", "carol"}}, runner, &fakeAggregator{}, zap.NewNop(), Options{})

	err := s.RunDueRules(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user bob")
	assert.Equal(t, []string{"alice", "bob", "carol"}, runner.calls)
}

func TestRunDueRulesListFailure(t *testing.T) {
	runner := &fakeRunner{}
	s := New(nil, fakeOwners{err: errors.New("boom")}, runner, &fakeAggregator{}, zap.NewNop(), Options{})

	assert.ErrorContains(t, s.RunDueRules(context.Background()), "boom")
	assert.Empty(t, runner.calls)
}

func TestSchedulerTicksSubmitTasks(t *testing.T) {
	q := newTestQueue(QueueOptions{Workers: 2})
	defer q.Stop()

	runner := &fakeRunner{}
	agg := &fakeAggregator{}
	s := New(q, fakeOwners{owners: []string{"alice"}}, runner, agg, zap.NewNop(), Options{
		RulesInterval:     5 * time.Millisecond,
		AggregateInterval: 5 * time.Millisecond,
	})
	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.calls) >= 2 && agg.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}
