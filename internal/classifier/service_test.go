package classifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/mail-trust/internal/adapters/storage"
	"github.com/mikey/mail-trust/internal/classlog"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/oracle"
	"github.com/mikey/mail-trust/internal/phishing"
	"github.com/mikey/mail-trust/internal/reputation"
	"github.com/mikey/mail-trust/internal/scheduler"
	"github.com/mikey/mail-trust/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type oracleFunc func(ctx context.Context, email *core.Email) (*core.OracleResult, error)

func (f oracleFunc) Classify(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
	return f(ctx, email)
}

type recordedTasks struct {
	mu    sync.Mutex
	tasks []scheduler.Task
}

func (r *recordedTasks) Submit(task scheduler.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

type recordingRules struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRules) ApplyToMessage(ctx context.Context, email *core.Email) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, email.ID)
	return 1, nil
}

type fixture struct {
	store   *storage.MemoryStore
	senders *reputation.SenderStore
	domains *reputation.DomainTracker
	service *Service
	tasks   *recordedTasks
	rules   *recordingRules
}

func newFixture(t *testing.T, o core.Oracle, guardOpts oracle.GuardOptions) *fixture {
	logger := zap.NewNop()
	store := storage.NewMemoryStore(logger, 0, 0)
	t.Cleanup(func() { store.Close() })

	senders := reputation.NewSenderStore(store, logger, reputation.Options{})
	domains := reputation.NewDomainTracker(store, logger, 0)
	cache := phishing.NewPatternCache(store, logger, time.Minute, nil, nil)
	detector := phishing.NewDetector(cache, utils.NewTextProcessor(logger), logger)
	var guard *oracle.Guard
	if o != nil {
		guard = oracle.NewGuard(o, logger, guardOpts)
	}
	tasks := &recordedTasks{}
	rules := &recordingRules{}

	return &fixture{
		store:   store,
		senders: senders,
		domains: domains,
		tasks:   tasks,
		rules:   rules,
		service: NewService(senders, domains, detector, guard, classlog.NewLogger(store, logger), store, rules, tasks, logger),
	}
}

func (f *fixture) logs(t *testing.T) []*core.ClassificationLogEntry {
	entries, err := f.store.ListClassificationLogs(context.Background(), "user-1", time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return entries
}

func slowOracle(delay time.Duration) oracleFunc {
	return func(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
		time.Sleep(delay)
		return &core.OracleResult{Category: core.CategoryWork, Confidence: 0.99}, nil
	}
}

func TestClassifyOracleTimeoutFallsBackToKeywords(t *testing.T) {
	f := newFixture(t, slowOracle(500*time.Millisecond), oracle.GuardOptions{Timeout: 20 * time.Millisecond})

	result, err := f.service.Classify(context.Background(), &core.Email{
		UserID:  "user-1",
		From:    "Shop <orders@shop.example>",
		Subject: "Your receipt from Shop",
		Body:    "Thanks for shopping with us.",
	})
	require.NoError(t, err)
	assert.Equal(t, core.CategoryTransaction, result.Category)
	assert.Equal(t, core.SourceKeyword, result.Source)
	assert.Nil(t, result.Oracle)
	assert.NotEmpty(t, result.OracleError)

	entries := f.logs(t)
	require.Len(t, entries, 1)
	assert.Equal(t, core.SourceKeyword, entries[0].Source)
	assert.Equal(t, core.CategoryTransaction, entries[0].Category)
	assert.Equal(t, "orders@shop.example", entries[0].SenderEmail)
}

func TestClassifyOracleTimeoutUsesLearnedReputation(t *testing.T) {
	f := newFixture(t, slowOracle(500*time.Millisecond), oracle.GuardOptions{Timeout: 20 * time.Millisecond})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.senders.Update(ctx, "user-1", "boss@corp.example", core.CategoryWork, false))
	}

	result, err := f.service.Classify(ctx, &core.Email{UserID: "user-1", From: "boss@corp.example", Subject: "hi"})
	require.NoError(t, err)
	assert.Equal(t, core.CategoryWork, result.Category)
	assert.Equal(t, core.SourceLearned, result.Source)
	assert.False(t, result.ReputationUsed)

	entries := f.logs(t)
	require.Len(t, entries, 1)
	assert.Equal(t, core.SourceLearned, entries[0].Source)
	assert.InDelta(t, 0.35, entries[0].ReputationScore, 1e-9)
}

func TestClassifyConfidentReputationSkipsOracle(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, oracleFunc(func(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
		calls.Add(1)
		return &core.OracleResult{Category: core.CategoryPromotion, Confidence: 0.9}, nil
	}), oracle.GuardOptions{})
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, f.senders.Update(ctx, "user-1", "lead@corp.example", core.CategoryWork, false))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, f.senders.Update(ctx, "user-1", "lead@corp.example", core.CategoryWork, true))
	}

	result, err := f.service.Classify(ctx, &core.Email{UserID: "user-1", From: "lead@corp.example", Subject: "50% off everything"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, core.CategoryWork, result.Category)
	assert.Equal(t, core.SourceSenderReputation, result.Source)
	assert.True(t, result.ReputationUsed)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)

	entries := f.logs(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ReputationUsed)
}

func TestClassifyUsesOracleAnswer(t *testing.T) {
	f := newFixture(t, oracleFunc(func(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
		return &core.OracleResult{Category: core.CategoryNewsletter, Confidence: 0.8, Summary: "Weekly roundup"}, nil
	}), oracle.GuardOptions{})

	result, err := f.service.Classify(context.Background(), &core.Email{UserID: "user-1", From: "news@blog.example", Subject: "This week"})
	require.NoError(t, err)
	assert.Equal(t, core.CategoryNewsletter, result.Category)
	assert.Equal(t, core.SourceOracle, result.Source)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	require.NotNil(t, result.Oracle)
	assert.Equal(t, "Weekly roundup", result.Oracle.Summary)
	assert.Empty(t, result.OracleError)
}

var phishingEmail = core.Email{
	UserID:  "user-1",
	From:    "alerts@example.org",
	Subject: "Urgent action required",
	Body:    "Your account will be suspended. Please confirm your password today.",
}

func TestClassifyPhishingOverridesOracle(t *testing.T) {
	f := newFixture(t, oracleFunc(func(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
		return &core.OracleResult{Category: core.CategoryWork, Confidence: 0.6}, nil
	}), oracle.GuardOptions{})

	email := phishingEmail
	result, err := f.service.Classify(context.Background(), &email)
	require.NoError(t, err)
	assert.Equal(t, core.CategorySpam, result.Category)
	assert.Equal(t, core.SourceHybrid, result.Source)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	assert.True(t, result.Phishing.IsPhishing)
}

func TestClassifyWithoutOracle(t *testing.T) {
	f := newFixture(t, nil, oracle.GuardOptions{})

	email := phishingEmail
	result, err := f.service.Classify(context.Background(), &email)
	require.NoError(t, err)
	assert.Equal(t, core.CategorySpam, result.Category)
	assert.Equal(t, core.SourceRuleBased, result.Source)
	assert.Empty(t, result.OracleError)

	result, err = f.service.Classify(context.Background(), &core.Email{UserID: "user-1", From: "friend@home.example", Subject: "Dinner?"})
	require.NoError(t, err)
	assert.Equal(t, core.CategoryPersonal, result.Category)
	assert.Equal(t, core.SourceKeyword, result.Source)
}

func TestClassifyPersistsAndUpdatesReputation(t *testing.T) {
	f := newFixture(t, nil, oracle.GuardOptions{})
	ctx := context.Background()

	email := &core.Email{UserID: "user-1", From: "News <digest@letters.example>", Subject: "Your weekly digest"}
	result, err := f.service.Classify(ctx, email)
	require.NoError(t, err)
	require.NotEmpty(t, result.EmailID)
	assert.Equal(t, email.ID, result.EmailID)

	stored, err := f.store.GetEmail(ctx, result.EmailID)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryNewsletter, stored.Category)
	require.NotNil(t, stored.Phishing)
	assert.False(t, stored.ReceivedAt.IsZero())

	rep, err := f.store.GetSenderReputation(ctx, "user-1", "digest@letters.example")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TotalEmails)
	assert.Equal(t, core.CategoryNewsletter, rep.PrimaryCategory)

	dom, err := f.domains.Get(ctx, "user-1", "letters.example")
	require.NoError(t, err)
	assert.Equal(t, 1, dom.TotalEmails)
}

func TestClassifyQueuesArrivalRules(t *testing.T) {
	f := newFixture(t, nil, oracle.GuardOptions{})

	result, err := f.service.Classify(context.Background(), &core.Email{UserID: "user-1", From: "a@b.example", Subject: "hello"})
	require.NoError(t, err)

	require.Len(t, f.tasks.tasks, 1)
	assert.Equal(t, "rules.apply", f.tasks.tasks[0].Name)
	assert.Empty(t, f.rules.ids)

	require.NoError(t, f.tasks.tasks[0].Run(context.Background()))
	assert.Equal(t, []string{result.EmailID}, f.rules.ids)
}

func TestClassifyRejectsMissingUser(t *testing.T) {
	f := newFixture(t, nil, oracle.GuardOptions{})

	_, err := f.service.Classify(context.Background(), &core.Email{From: "a@b.example"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.service.Classify(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestRescan(t *testing.T) {
	f := newFixture(t, nil, oracle.GuardOptions{})
	ctx := context.Background()

	email := phishingEmail
	email.ID = "m1"
	require.NoError(t, f.store.SaveEmail(ctx, &email))

	a, err := f.service.Rescan(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 90, a.Score)

	stored, err := f.store.GetEmail(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, stored.Phishing)
	assert.Equal(t, 90, stored.Phishing.Score)

	safe := phishing.MarkSafe(stored.Phishing, time.Now())
	require.NoError(t, f.store.PatchEmail(ctx, "m1", core.EmailPatch{Phishing: safe}))

	a, err = f.service.Rescan(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, a.MarkedSafe)
	assert.False(t, phishing.IsThreat(a))

	_, err = f.service.Rescan(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestKeywordCategory(t *testing.T) {
	tests := []struct {
		name  string
		email core.Email
		want  core.Category
		ok    bool
	}{
		{"social domain", core.Email{From: "notify@facebookmail.com", Subject: "hi"}, core.CategorySocial, true},
		{"social subdomain", core.Email{From: "jobs@e.linkedin.com", Subject: "hi"}, core.CategorySocial, true},
		{"receipt", core.Email{From: "x@shop.example", Subject: "Your Receipt"}, core.CategoryTransaction, true},
		{"promotion", core.Email{From: "x@shop.example", Subject: "Take 20% off today"}, core.CategoryPromotion, true},
		{"list header", core.Email{From: "x@list.example", Subject: "hi", Headers: map[string][]string{"list-unsubscribe": {"<mailto:u@list.example>"}}}, core.CategoryNewsletter, true},
		{"work", core.Email{From: "x@corp.example", Subject: "Agenda for Monday"}, core.CategoryWork, true},
		{"nothing", core.Email{From: "x@home.example", Subject: "Dinner?"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := keywordCategory(&tt.email)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyKeepsForeignMessagesIntact(t *testing.T) {
	f := newFixture(t, nil, oracle.GuardOptions{})
	ctx := context.Background()

	owned := &core.Email{ID: "m1", UserID: "user-1", From: "friend@home.example", Subject: "Dinner?"}
	_, err := f.service.Classify(ctx, owned)
	require.NoError(t, err)

	_, err = f.service.Classify(ctx, &core.Email{ID: "m1", UserID: "user-2", From: "x@y.example", Subject: "replaced"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	stored, err := f.store.GetEmail(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "Dinner?", stored.Subject)

	_, err = f.service.Classify(ctx, &core.Email{ID: "m1", UserID: "user-1", From: "friend@home.example", Subject: "Dinner tonight?"})
	require.NoError(t, err)
	stored, err = f.store.GetEmail(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Dinner tonight?", stored.Subject)
}
