package classlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

const (
	// DefaultStatsDays is the trailing window used when a caller asks for zero days
	DefaultStatsDays = 7

	phishingFlagScore = 70
)

// Stats are the classification metrics over a trailing window
type Stats struct {
	From              time.Time                         `json:"from"`
	To                time.Time                         `json:"to"`
	Total             int                               `json:"total"`
	FeedbackCount     int                               `json:"feedback_count"`
	Correct           int                               `json:"correct"`
	Incorrect         int                               `json:"incorrect"`
	AccuracyRate      float64                           `json:"accuracy_rate"`
	ReputationHits    int                               `json:"reputation_hits"`
	ReputationHitRate float64                           `json:"reputation_hit_rate"`
	AvgConfidence     float64                           `json:"avg_confidence"`
	PhishingFlagged   int                               `json:"phishing_flagged"`
	AvgProcessingMs   float64                           `json:"avg_processing_ms"`
	CategoryBreakdown map[core.Category]int             `json:"category_breakdown"`
	SourceBreakdown   map[core.ClassificationSource]int `json:"source_breakdown"`
}

// summarize folds log entries into stats. Accuracy only counts entries that received feedback.
func summarize(entries []*core.ClassificationLogEntry) Stats {
	s := Stats{
		CategoryBreakdown: make(map[core.Category]int),
		SourceBreakdown:   make(map[core.ClassificationSource]int),
	}

	var confidence float64
	var processing int64
	for _, e := range entries {
		s.Total++
		confidence += e.Confidence
		processing += e.ProcessingTimeMs
		s.CategoryBreakdown[e.Category]++
		s.SourceBreakdown[e.Source]++
		if e.ReputationUsed {
			s.ReputationHits++
		}
		if e.PhishingScore >= phishingFlagScore {
			s.PhishingFlagged++
		}
		if e.IsCorrect != nil {
			s.FeedbackCount++
			if *e.IsCorrect {
				s.Correct++
			} else {
				s.Incorrect++
			}
		}
	}

	if s.Total > 0 {
		s.AvgConfidence = confidence / float64(s.Total)
		s.AvgProcessingMs = float64(processing) / float64(s.Total)
		s.ReputationHitRate = float64(s.ReputationHits) / float64(s.Total)
	}
	if s.FeedbackCount > 0 {
		s.AccuracyRate = float64(s.Correct) / float64(s.FeedbackCount)
	}
	return s
}

// RealtimeStats computes the user's metrics over the trailing number of days
func (l *Logger) RealtimeStats(ctx context.Context, userID string, days int) (*Stats, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	to := l.now()
	from := to.Add(-time.Duration(days) * 24 * time.Hour)

	entries, err := l.repo.ListClassificationLogs(ctx, userID, from, to.Add(time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("failed to list classification logs: %w", err)
	}

	stats := summarize(entries)
	stats.From = from
	stats.To = to
	return &stats, nil
}

// DayStart truncates a time to the start of its UTC day
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AggregateDay rolls one UTC day of logs into a summary per user. Summaries are replaced,
// so running it again for the same day never double counts. It returns how many summaries
// were written; a failing user does not stop the others.
func (l *Logger) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	start := DayStart(day)
	end := start.Add(24 * time.Hour)

	entries, err := l.repo.ListClassificationLogs(ctx, "", start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to list classification logs: %w", err)
	}

	byUser := make(map[string][]*core.ClassificationLogEntry)
	for _, e := range entries {
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}
	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	written := 0
	var errs []error
	for _, userID := range users {
		s := summarize(byUser[userID])
		summary := &core.DailySummary{
			UserID:            userID,
			Day:               start,
			Total:             s.Total,
			FeedbackCount:     s.FeedbackCount,
			Correct:           s.Correct,
			Incorrect:         s.Incorrect,
			AccuracyRate:      s.AccuracyRate,
			ReputationHits:    s.ReputationHits,
			AvgConfidence:     s.AvgConfidence,
			PhishingFlagged:   s.PhishingFlagged,
			AvgProcessingMs:   s.AvgProcessingMs,
			CategoryBreakdown: s.CategoryBreakdown,
			SourceBreakdown:   s.SourceBreakdown,
			AggregatedAt:      l.now(),
		}
		if err := l.repo.UpsertDailySummary(ctx, summary); err != nil {
			l.logger.Error("Failed to store daily summary",
				zap.String("user_id", userID),
				zap.Time("day", start),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		written++
	}

	l.logger.Info("Aggregated classification logs",
		zap.Time("day", start),
		zap.Int("entries", len(entries)),
		zap.Int("summaries", written))
	return written, errors.Join(errs...)
}

// AggregateYesterday aggregates the previous UTC day
func (l *Logger) AggregateYesterday(ctx context.Context) (int, error) {
	return l.AggregateDay(ctx, DayStart(l.now()).Add(-24*time.Hour))
}

// DailySummary returns the stored summary for a user and day
func (l *Logger) DailySummary(ctx context.Context, userID string, day time.Time) (*core.DailySummary, error) {
	summary, err := l.repo.GetDailySummary(ctx, userID, DayStart(day))
	if err != nil {
		return nil, fmt.Errorf("failed to get daily summary: %w", err)
	}
	return summary, nil
}
