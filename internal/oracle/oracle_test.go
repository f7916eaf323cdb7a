package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		category   core.Category
		confidence float64
		wantErr    bool
	}{
		{
			name:       "plain JSON",
			text:       `{"category":"work","confidence":0.92,"summary":"Budget review","needs_reply":true,"suggested_labels":["finance"," "]}`,
			category:   core.CategoryWork,
			confidence: 0.92,
		},
		{
			name:       "wrapped in prose",
			text:       "Here is the classification:\n```json\n{\"category\": \"Newsletter\", \"confidence\": 0.7}\n```\nThanks",
			category:   core.CategoryNewsletter,
			confidence: 0.7,
		},
		{
			name:       "confidence clamped high",
			text:       `{"category":"spam","confidence":7}`,
			category:   core.CategorySpam,
			confidence: 1,
		},
		{
			name:       "confidence clamped low",
			text:       `{"category":"social","confidence":-0.5}`,
			category:   core.CategorySocial,
			confidence: 0,
		},
		{name: "unknown category", text: `{"category":"urgent","confidence":0.9}`, wantErr: true},
		{name: "missing category", text: `{"confidence":0.9}`, wantErr: true},
		{name: "no JSON", text: "I cannot classify this email.", wantErr: true},
		{name: "broken JSON", text: `{"category": "work", "confidence": }`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseResult(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.category, result.Category)
			assert.InDelta(t, tt.confidence, result.Confidence, 1e-9)
		})
	}

	result, err := ParseResult(tests[0].text)
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, result.SuggestedLabels)
	assert.True(t, result.NeedsReply)
	assert.Equal(t, "Budget review", result.Summary)
}

func TestBuildPrompt(t *testing.T) {
	email := &core.Email{
		From:     "alice@example.com",
		FromName: "Alice",
		To:       []string{"bob@example.com", "carol@example.com", "dan@example.com"},
		Subject:  "Lunch?",
	}

	prompt := BuildPrompt(email, "Are you free on Friday?")
	assert.Contains(t, prompt, "From: Alice <alice@example.com>")
	assert.Contains(t, prompt, "To: bob@example.com and 2 others")
	assert.Contains(t, prompt, "Subject: Lunch?")
	assert.Contains(t, prompt, "Are you free on Friday?")
	assert.Contains(t, prompt, "work, personal, transaction, newsletter, promotion, social, spam")
}

type oracleFunc func(ctx context.Context, email *core.Email) (*core.OracleResult, error)

func (f oracleFunc) Classify(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
	return f(ctx, email)
}

func TestGuardReturnsResult(t *testing.T) {
	g := NewGuard(oracleFunc(func(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
		return &core.OracleResult{Category: core.CategoryWork, Confidence: 0.9}, nil
	}), zap.NewNop(), GuardOptions{})

	result, err := g.Classify(context.Background(), &core.Email{ID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, core.CategoryWork, result.Category)
}

func TestGuardTimesOutOnUncooperativeProvider(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	g := NewGuard(oracleFunc(func(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
		<-release
		return &core.OracleResult{Category: core.CategoryWork}, nil
	}), zap.NewNop(), GuardOptions{Timeout: 20 * time.Millisecond})

	started := time.Now()
	_, err := g.Classify(context.Background(), &core.Email{ID: "m1"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(started), time.Second)
}

func TestGuardMapsProviderDeadline(t *testing.T) {
	g := NewGuard(oracleFunc(func(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
		return nil, context.DeadlineExceeded
	}), zap.NewNop(), GuardOptions{})

	_, err := g.Classify(context.Background(), &core.Email{})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGuardPropagatesProviderError(t *testing.T) {
	boom := errors.New("503 service unavailable")
	g := NewGuard(oracleFunc(func(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
		return nil, boom
	}), zap.NewNop(), GuardOptions{})

	_, err := g.Classify(context.Background(), &core.Email{})
	assert.ErrorIs(t, err, boom)
}

func TestGuardRateLimits(t *testing.T) {
	calls := 0
	g := NewGuard(oracleFunc(func(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
		calls++
		return &core.OracleResult{Category: core.CategoryWork}, nil
	}), zap.NewNop(), GuardOptions{RatePerSecond: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		_, err := g.Classify(context.Background(), &core.Email{})
		require.NoError(t, err)
	}
	_, err := g.Classify(context.Background(), &core.Email{})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2, calls)
}

func TestGuardDisabled(t *testing.T) {
	g := NewGuard(nil, zap.NewNop(), GuardOptions{})
	assert.False(t, g.Enabled())

	_, err := g.Classify(context.Background(), &core.Email{})
	assert.ErrorIs(t, err, ErrDisabled)
}
