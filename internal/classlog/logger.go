package classlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

// Logger records classification decisions and the feedback users give on them
type Logger struct {
	repo   core.ClassificationLogRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewLogger creates a new classification logger
func NewLogger(repo core.ClassificationLogRepository, logger *zap.Logger) *Logger {
	return &Logger{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Log appends one classification entry. Feedback fields are always cleared; they can only
// be set through Feedback.
func (l *Logger) Log(ctx context.Context, entry *core.ClassificationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	entry.SenderEmail = core.NormalizeAddress(entry.SenderEmail)
	if entry.SenderDomain == "" {
		entry.SenderDomain = core.DomainOf(entry.SenderEmail)
	}
	entry.CorrectedCategory = nil
	entry.IsCorrect = nil
	entry.FeedbackAt = nil

	if err := l.repo.AppendClassificationLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to append classification log: %w", err)
	}

	classifications.WithLabelValues(string(entry.Source), string(entry.Category)).Inc()
	processingTime.Observe(float64(entry.ProcessingTimeMs) / 1000)
	return nil
}

// Feedback records a user's verdict on the latest classification of a message.
// It returns core.ErrNotFound when the message was never logged.
func (l *Logger) Feedback(ctx context.Context, messageID, userID string, corrected *core.Category, isCorrect bool) error {
	if corrected != nil {
		c, ok := core.ParseCategory(string(*corrected))
		if !ok {
			return fmt.Errorf("unknown category %q", *corrected)
		}
		corrected = &c
	}

	if err := l.repo.UpdateClassificationFeedback(ctx, userID, messageID, corrected, isCorrect, l.now()); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}

	feedbackReceived.WithLabelValues(fmt.Sprint(isCorrect)).Inc()
	l.logger.Debug("Recorded classification feedback",
		zap.String("user_id", userID),
		zap.String("message_id", messageID),
		zap.Bool("is_correct", isCorrect))
	return nil
}
