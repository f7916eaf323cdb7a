package reputation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mikey/mail-trust/internal/adapters/storage"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T) *storage.MemoryStore {
	s := storage.NewMemoryStore(zap.NewNop(), 0, 0)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		overrides int
		scores    []core.CategoryScore
		want      float64
	}{
		{"empty", 0, 0, nil, 0},
		{"single passive", 1, 0, []core.CategoryScore{{Category: core.CategoryWork, Score: 1}}, 0.05 + 0.2},
		{"base capped", 40, 0, []core.CategoryScore{{Category: core.CategoryWork, Score: 20}, {Category: core.CategorySpam, Score: 20}}, 0.5 + 0.1},
		{"overrides capped", 0, 5, []core.CategoryScore{{Category: core.CategoryWork, Score: 15}}, 0.3 + 0.2},
		{"scenario 1", 20, 2, []core.CategoryScore{{Category: core.CategoryWork, Score: 26}}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.total, tt.overrides, tt.scores), 1e-9)
		})
	}
}

func TestConfidenceBoundedAndMonotonicInOverrides(t *testing.T) {
	scores := []core.CategoryScore{{Category: core.CategoryWork, Score: 3}, {Category: core.CategorySocial, Score: 7}}
	for total := 0; total <= 60; total += 5 {
		prev := -1.0
		for overrides := 0; overrides <= 10; overrides++ {
			c := Confidence(total, overrides, scores)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
			assert.GreaterOrEqual(t, c, prev, "total=%d overrides=%d", total, overrides)
			prev = c
		}
	}
}

func TestPrimaryCategoryFirstInsertedWinsTies(t *testing.T) {
	scores := []core.CategoryScore{
		{Category: core.CategoryPromotion, Score: 2},
		{Category: core.CategoryNewsletter, Score: 2},
	}
	assert.Equal(t, core.CategoryPromotion, PrimaryCategory(scores))

	scores = addScore(scores, core.CategoryNewsletter, 1)
	assert.Equal(t, core.CategoryNewsletter, PrimaryCategory(scores))
	assert.Equal(t, core.Category(""), PrimaryCategory(nil))
}

func TestSenderStoreScenarioOne(t *testing.T) {
	ctx := context.Background()
	store := NewSenderStore(newStore(t), zap.NewNop(), Options{})

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Update(ctx, "u1", "Boss <Boss@Corp.com>", core.CategoryWork, false))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, store.Update(ctx, "u1", "boss@corp.com", core.CategoryWork, true))
	}

	res := store.Lookup(ctx, "u1", "boss@corp.com")
	require.True(t, res.Found)
	assert.Equal(t, 20, res.Reputation.TotalEmails)
	assert.Equal(t, 2, res.Reputation.UserOverrides)
	assert.Equal(t, 26.0, res.Reputation.CategoryScores[0].Score)
	assert.InDelta(t, 1.0, res.Reputation.Confidence, 1e-9)
	assert.True(t, res.ShouldUseReputation)
	assert.Equal(t, core.CategoryWork, res.SuggestedCategory)
	assert.Equal(t, "corp.com", res.Reputation.Domain)
}

func TestSenderStoreLookupNotFound(t *testing.T) {
	store := NewSenderStore(newStore(t), zap.NewNop(), Options{})

	res := store.Lookup(context.Background(), "u1", "nobody@example.com")
	assert.False(t, res.Found)
	assert.False(t, res.ShouldUseReputation)
	assert.Nil(t, res.Reputation)
}

type failingSenderRepo struct{}

func (failingSenderRepo) GetSenderReputation(context.Context, string, string) (*core.SenderReputation, error) {
	return nil, errors.New("connection reset")
}

func (failingSenderRepo) SaveSenderReputation(context.Context, *core.SenderReputation, int64) error {
	return errors.New("connection reset")
}

func TestSenderStoreLookupSwallowsDatastoreErrors(t *testing.T) {
	store := NewSenderStore(failingSenderRepo{}, zap.NewNop(), Options{})

	res := store.Lookup(context.Background(), "u1", "a@b.com")
	assert.False(t, res.Found)

	err := store.Update(context.Background(), "u1", "a@b.com", core.CategoryWork, false)
	assert.Error(t, err)
}

func TestSenderStoreUpdateValidation(t *testing.T) {
	store := NewSenderStore(newStore(t), zap.NewNop(), Options{})
	ctx := context.Background()

	assert.ErrorIs(t, store.Update(ctx, "u1", "not-an-address", core.CategoryWork, false), ErrInvalidSender)
	assert.ErrorIs(t, store.Update(ctx, "u1", "a@b.com", core.Category("junk"), false), ErrUnknownCategory)
}

func TestSenderStoreConcurrentUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t)
	store := NewSenderStore(repo, zap.NewNop(), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Update(ctx, "u1", "digest@news.com", core.CategoryNewsletter, false))
		}()
	}
	wg.Wait()

	rep, err := repo.GetSenderReputation(ctx, "u1", "digest@news.com")
	require.NoError(t, err)
	assert.Equal(t, 50, rep.TotalEmails)
	assert.Equal(t, 50.0, rep.CategoryScores[0].Score)
}

func TestSenderStoreCrossInstanceConflictsRetry(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t)
	a := NewSenderStore(repo, zap.NewNop(), Options{MaxRetries: 100})
	b := NewSenderStore(repo, zap.NewNop(), Options{MaxRetries: 100})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); assert.NoError(t, a.Update(ctx, "u1", "x@y.com", core.CategorySocial, false)) }()
		go func() { defer wg.Done(); assert.NoError(t, b.Update(ctx, "u1", "x@y.com", core.CategorySocial, false)) }()
	}
	wg.Wait()

	rep, err := repo.GetSenderReputation(ctx, "u1", "x@y.com")
	require.NoError(t, err)
	assert.Equal(t, 40, rep.TotalEmails)
}

func TestResolveCategory(t *testing.T) {
	pipeline := PipelineDecision{Category: core.CategoryPromotion, Source: core.SourceOracle, Confidence: 0.95}
	confident := LookupResult{
		Found:               true,
		Reputation:          &core.SenderReputation{Confidence: 0.9, PrimaryCategory: core.CategoryNewsletter},
		ShouldUseReputation: true,
		SuggestedCategory:   core.CategoryNewsletter,
	}
	weak := confident
	weak.ShouldUseReputation = false

	t.Run("override lets confident reputation win", func(t *testing.T) {
		first := ResolveCategory(pipeline, confident)
		second := ResolveCategory(pipeline, confident)
		assert.Equal(t, first, second)
		assert.Equal(t, core.CategoryNewsletter, first.FinalCategory)
		assert.Equal(t, core.SourceSenderReputation, first.Source)
		assert.Equal(t, 0.9, first.Confidence)
	})

	t.Run("weak reputation keeps pipeline", func(t *testing.T) {
		res := ResolveCategory(pipeline, weak)
		assert.Equal(t, Resolution{FinalCategory: core.CategoryPromotion, Source: core.SourceOracle, Confidence: 0.95}, res)
	})

	t.Run("blend defers to a more confident pipeline", func(t *testing.T) {
		res := PolicyBlend.Resolve(pipeline, confident)
		assert.Equal(t, core.CategoryPromotion, res.FinalCategory)

		lessSure := pipeline
		lessSure.Confidence = 0.6
		res = PolicyBlend.Resolve(lessSure, confident)
		assert.Equal(t, core.CategoryNewsletter, res.FinalCategory)
	})

	t.Run("store applies configured policy", func(t *testing.T) {
		store := NewSenderStore(newStore(t), zap.NewNop(), Options{Policy: ParsePolicy("blend")})
		assert.Equal(t, core.CategoryPromotion, store.ResolveCategory(pipeline, confident).FinalCategory)
		assert.Equal(t, PolicyOverride, ParsePolicy("bogus"))
	})
}
