package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMemory(t *testing.T) core.Store {
	s := NewMemoryStore(zap.NewNop(), 0, 0)
	t.Cleanup(func() { s.Close() })
	return s
}

func newSQLite(t *testing.T) core.Store {
	path := filepath.Join(t.TempDir(), "mail-trust.db")
	s, err := NewSQLStore(DriverSQLite, path, zap.NewNop(), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) core.Store{
		"memory": newMemory,
		"sqlite": newSQLite,
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("SenderReputationCAS", func(t *testing.T) { testSenderCAS(t, open(t)) })
			t.Run("DomainReputationCAS", func(t *testing.T) { testDomainCAS(t, open(t)) })
			t.Run("Patterns", func(t *testing.T) { testPatterns(t, open(t)) })
			t.Run("Rules", func(t *testing.T) { testRules(t, open(t)) })
			t.Run("Labels", func(t *testing.T) { testLabels(t, open(t)) })
			t.Run("Emails", func(t *testing.T) { testEmails(t, open(t)) })
			t.Run("ClassificationLogs", func(t *testing.T) { testClassificationLogs(t, open(t)) })
		})
	}
}

func testSenderCAS(t *testing.T, s core.Store) {
	ctx := context.Background()

	_, err := s.GetSenderReputation(ctx, "u1", "news@shop.com")
	assert.ErrorIs(t, err, core.ErrNotFound)

	rep := &core.SenderReputation{
		UserID:          "u1",
		SenderEmail:     "news@shop.com",
		Domain:          "shop.com",
		PrimaryCategory: core.CategoryNewsletter,
		CategoryScores:  []core.CategoryScore{{Category: core.CategoryNewsletter, Score: 1}},
		TotalEmails:     1,
		Confidence:      0.25,
		LastSeen:        time.Now(),
	}
	require.NoError(t, s.SaveSenderReputation(ctx, rep, 0))
	assert.Equal(t, int64(1), rep.Version)

	// second insert loses
	dup := *rep
	assert.ErrorIs(t, s.SaveSenderReputation(ctx, &dup, 0), core.ErrVersionConflict)

	got, err := s.GetSenderReputation(ctx, "u1", "news@shop.com")
	require.NoError(t, err)
	assert.Equal(t, rep.CategoryScores, got.CategoryScores)

	got.TotalEmails = 2
	require.NoError(t, s.SaveSenderReputation(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)

	// stale writer loses
	rep.TotalEmails = 99
	assert.ErrorIs(t, s.SaveSenderReputation(ctx, rep, 1), core.ErrVersionConflict)

	final, err := s.GetSenderReputation(ctx, "u1", "news@shop.com")
	require.NoError(t, err)
	assert.Equal(t, 2, final.TotalEmails)
	assert.Equal(t, int64(2), final.Version)
}

func testDomainCAS(t *testing.T, s core.Store) {
	ctx := context.Background()
	now := time.Now()

	rep := &core.DomainReputation{
		UserID:               "u1",
		Domain:               "shop.com",
		Score:                50,
		TrustLevel:           core.TrustNeutral,
		TotalEmails:          1,
		CategoryDistribution: []core.CategoryScore{{Category: core.CategoryPromotion, Score: 1}},
		FirstSeen:            now,
		LastSeen:             now,
	}
	require.NoError(t, s.SaveDomainReputation(ctx, rep, 0))

	rep.IsWhitelisted = true
	require.NoError(t, s.SaveDomainReputation(ctx, rep, 1))
	assert.ErrorIs(t, s.SaveDomainReputation(ctx, rep, 1), core.ErrVersionConflict)

	list, err := s.ListDomainReputations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsWhitelisted)
	assert.Equal(t, core.CategoryPromotion, list[0].CategoryDistribution[0].Category)
}

func testPatterns(t *testing.T, s core.Store) {
	ctx := context.Background()

	p := &core.PhishingPattern{Type: core.FindingUrgency, Pattern: "act now", Severity: 15, Active: true}
	require.NoError(t, s.SavePhishingPattern(ctx, p))
	assert.NotEmpty(t, p.ID)

	p.Severity = 20
	require.NoError(t, s.SavePhishingPattern(ctx, p))

	patterns, err := s.ListPhishingPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 20, patterns[0].Severity)

	require.NoError(t, s.SaveDomainEntry(ctx, &core.DomainListEntry{Domain: "paypal.com", List: core.ListWhitelist}))
	require.NoError(t, s.SaveDomainEntry(ctx, &core.DomainListEntry{Domain: "evil.tk", List: core.ListBlacklist, Reason: "a"}))
	require.NoError(t, s.SaveDomainEntry(ctx, &core.DomainListEntry{Domain: "evil.tk", List: core.ListBlacklist, Reason: "b"}))

	entries, err := s.ListDomainEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Reason)
}

func testRules(t *testing.T, s core.Store) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	rule := &core.AutomationRule{
		UserID: "u1",
		Name:   "Archive newsletters",
		Active: true,
		Conditions: core.ConditionGroup{Match: core.MatchAll, Rules: []core.Condition{
			{Field: core.FieldCategory, Operator: core.OpEquals, Value: "newsletter"},
		}},
		Actions:   []core.Action{{Type: core.ActionArchive}},
		Frequency: core.FrequencyDaily,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateRule(ctx, rule))
	require.NotEmpty(t, rule.ID)

	require.NoError(t, s.RecordRuleRun(ctx, rule.ID, 3, now))
	require.NoError(t, s.RecordRuleRun(ctx, rule.ID, 2, now))
	require.NoError(t, s.RecordRuleAffected(ctx, rule.ID, 1))
	assert.ErrorIs(t, s.RecordRuleAffected(ctx, "missing", 1), core.ErrNotFound)

	rule.Active = false
	require.NoError(t, s.UpdateRule(ctx, rule))

	got, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 2, got.RunCount)
	assert.Equal(t, 6, got.EmailsAffected)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, "newsletter", got.Conditions.Rules[0].Value)

	owners, err := s.ListActiveRuleOwners(ctx)
	require.NoError(t, err)
	assert.Empty(t, owners)

	_, err = s.GetRule(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	for i := 0; i < 3; i++ {
		finished := now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.AppendRunLog(ctx, &core.RunLog{
			RuleID:         rule.ID,
			UserID:         "u1",
			Status:         core.RunCompleted,
			StartedAt:      finished,
			FinishedAt:     &finished,
			EmailsAffected: i,
			Outcomes: []core.MessageOutcome{{MessageID: "m1", Actions: []core.ActionOutcome{
				{Action: core.ActionArchive, Success: true},
			}}},
		}))
	}
	logs, err := s.ListRunLogs(ctx, rule.ID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 2, logs[0].EmailsAffected)
	assert.True(t, logs[0].Outcomes[0].Affected())
}

func testLabels(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveEmail(ctx, &core.Email{ID: "m1", UserID: "u1", From: "a@b.com", ReceivedAt: time.Now()}))

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := s.UpsertLabel(ctx, "u1", "Receipts")
			if assert.NoError(t, err) {
				ids[i] = l.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	other, err := s.UpsertLabel(ctx, "u1", "receipts")
	require.NoError(t, err)
	assert.Equal(t, ids[0], other.ID)

	require.NoError(t, s.AttachLabel(ctx, "m1", ids[0]))
	require.NoError(t, s.AttachLabel(ctx, "m1", ids[0]))

	email, err := s.GetEmail(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Receipts"}, email.Labels)
}

func testEmails(t *testing.T, s core.Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.SaveEmail(ctx, &core.Email{
			ID:         id,
			UserID:     "u1",
			From:       "a@b.com",
			Subject:    id,
			Headers:    map[string][]string{"List-Unsubscribe": {"<mailto:x@b.com>"}},
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	deleted := true
	require.NoError(t, s.PatchEmail(ctx, "mid", core.EmailPatch{IsDeleted: &deleted}))

	emails, err := s.ListRecentEmails(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "new", emails[0].ID)
	assert.Equal(t, "old", emails[1].ID)
	assert.Equal(t, "<mailto:x@b.com>", emails[0].Header("list-unsubscribe"))

	priority := 3
	category := core.CategoryNewsletter
	assessment := &core.PhishingAssessment{Score: 45, Risk: core.RiskMedium, MarkedSafe: true}
	require.NoError(t, s.PatchEmail(ctx, "new", core.EmailPatch{Priority: &priority, Category: &category, Phishing: assessment}))

	got, err := s.GetEmail(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Priority)
	assert.Equal(t, core.CategoryNewsletter, got.Category)
	require.NotNil(t, got.Phishing)
	assert.True(t, got.Phishing.MarkedSafe)

	assert.ErrorIs(t, s.PatchEmail(ctx, "missing", core.EmailPatch{IsRead: &deleted}), core.ErrNotFound)
}

func testClassificationLogs(t *testing.T, s core.Store) {
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.AppendClassificationLog(ctx, &core.ClassificationLogEntry{
			UserID:     "u1",
			MessageID:  "m1",
			Category:   core.CategoryWork,
			Source:     core.SourceOracle,
			Confidence: 0.9,
			CreatedAt:  day.Add(time.Duration(i+1) * time.Hour),
		}))
	}

	corrected := core.CategoryPersonal
	require.NoError(t, s.UpdateClassificationFeedback(ctx, "u1", "m1", &corrected, false, day.Add(5*time.Hour)))
	assert.ErrorIs(t, s.UpdateClassificationFeedback(ctx, "u1", "nope", nil, true, day), core.ErrNotFound)

	logs, err := s.ListClassificationLogs(ctx, "", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Nil(t, logs[0].IsCorrect)
	require.NotNil(t, logs[1].IsCorrect)
	assert.False(t, *logs[1].IsCorrect)
	assert.Equal(t, core.CategoryPersonal, *logs[1].CorrectedCategory)

	summary := &core.DailySummary{
		UserID:            "u1",
		Day:               day,
		Total:             2,
		CategoryBreakdown: map[core.Category]int{core.CategoryWork: 2},
		SourceBreakdown:   map[core.ClassificationSource]int{core.SourceOracle: 2},
		AggregatedAt:      day.Add(25 * time.Hour),
	}
	require.NoError(t, s.UpsertDailySummary(ctx, summary))
	summary.Total = 3
	require.NoError(t, s.UpsertDailySummary(ctx, summary))

	got, err := s.GetDailySummary(ctx, "u1", day.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.CategoryBreakdown[core.CategoryWork])
}

func TestMemoryStoreCleanupPrunesOldLogs(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), time.Hour, 0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.AppendClassificationLog(ctx, &core.ClassificationLogEntry{UserID: "u1", CreatedAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, s.AppendClassificationLog(ctx, &core.ClassificationLogEntry{UserID: "u1", CreatedAt: time.Now()}))
	require.NoError(t, s.Cleanup(ctx))

	logs, err := s.ListClassificationLogs(ctx, "u1", time.Now().Add(-24*time.Hour), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	rep := &core.SenderReputation{UserID: "u1", SenderEmail: "a@b.com", CategoryScores: []core.CategoryScore{{Category: core.CategoryWork, Score: 1}}}
	require.NoError(t, s.SaveSenderReputation(ctx, rep, 0))
	rep.CategoryScores[0].Score = 42

	got, err := s.GetSenderReputation(ctx, "u1", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.CategoryScores[0].Score)
}

func TestUpsertClauseByDriver(t *testing.T) {
	mysqlStore := &SQLStore{driver: DriverMySQL}
	assert.Equal(t, "ON DUPLICATE KEY UPDATE a = VALUES(a), b = VALUES(b)",
		mysqlStore.upsert([]string{"id"}, []string{"a", "b"}))

	pgStore := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "ON CONFLICT (id, day) DO UPDATE SET a = excluded.a",
		pgStore.upsert([]string{"id", "day"}, []string{"a"}))
}
