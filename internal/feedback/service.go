package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/mail-trust/internal/classlog"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/phishing"
	"github.com/mikey/mail-trust/internal/reputation"
	"go.uber.org/zap"
)

// ErrInvalidFeedback is returned for feedback that names no usable category
var ErrInvalidFeedback = errors.New("invalid feedback")

// Feedback is a user's verdict on one classified message
type Feedback struct {
	UserID            string         `json:"user_id"`
	MessageID         string         `json:"message_id"`
	CorrectedCategory *core.Category `json:"corrected_category,omitempty"`
	IsCorrect         bool           `json:"is_correct"`
}

// Service turns user verdicts into reputation, log and mailbox updates
type Service struct {
	senders  *reputation.SenderStore
	domains  *reputation.DomainTracker
	logs     *classlog.Logger
	messages core.MessageRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new feedback service
func NewService(senders *reputation.SenderStore, domains *reputation.DomainTracker, logs *classlog.Logger, messages core.MessageRepository, logger *zap.Logger) *Service {
	return &Service{
		senders:  senders,
		domains:  domains,
		logs:     logs,
		messages: messages,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit records feedback. A correction re-categorizes the message and reinforces the
// sender's reputation with the corrected category; a confirmation reinforces the current one.
func (s *Service) Submit(ctx context.Context, fb Feedback) error {
	email, err := s.load(ctx, fb.UserID, fb.MessageID)
	if err != nil {
		return err
	}
	return s.apply(ctx, email, fb)
}

func (s *Service) apply(ctx context.Context, email *core.Email, fb Feedback) error {
	category := email.Category
	if fb.CorrectedCategory != nil {
		c, ok := core.ParseCategory(string(*fb.CorrectedCategory))
		if !ok {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidFeedback, *fb.CorrectedCategory)
		}
		category = c
		fb.CorrectedCategory = &c
	} else if !fb.IsCorrect {
		category = ""
	}

	if fb.CorrectedCategory != nil && category != email.Category {
		if err := s.messages.PatchEmail(ctx, email.ID, core.EmailPatch{Category: &category}); err != nil {
			return fmt.Errorf("failed to recategorize email %s: %w", email.ID, err)
		}
	}

	if category != "" {
		if err := s.senders.Update(ctx, email.UserID, email.From, category, true); err != nil && !errors.Is(err, reputation.ErrInvalidSender) {
			return fmt.Errorf("failed to update sender reputation: %w", err)
		}
	}

	if err := s.logs.Feedback(ctx, email.ID, email.UserID, fb.CorrectedCategory, fb.IsCorrect); err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		s.logger.Warn("No classification log for feedback",
			zap.String("user_id", email.UserID),
			zap.String("message_id", email.ID))
	}

	s.logger.Info("Recorded feedback",
		zap.String("user_id", email.UserID),
		zap.String("message_id", email.ID),
		zap.String("sender", email.From),
		zap.String("category", string(category)),
		zap.Bool("is_correct", fb.IsCorrect))
	return nil
}

// ReportSpam recategorizes the message as spam and penalizes its domain
func (s *Service) ReportSpam(ctx context.Context, userID, messageID string) error {
	return s.reportAbuse(ctx, userID, messageID, reputation.ActionSpamReport)
}

// ReportPhishing is ReportSpam with the heavier phishing penalty on the domain
func (s *Service) ReportPhishing(ctx context.Context, userID, messageID string) error {
	return s.reportAbuse(ctx, userID, messageID, reputation.ActionPhishingReport)
}

func (s *Service) reportAbuse(ctx context.Context, userID, messageID string, kind reputation.ActionKind) error {
	email, err := s.load(ctx, userID, messageID)
	if err != nil {
		return err
	}

	spam := core.CategorySpam
	if err := s.apply(ctx, email, Feedback{
		UserID:            userID,
		MessageID:         messageID,
		CorrectedCategory: &spam,
		IsCorrect:         email.Category == core.CategorySpam,
	}); err != nil {
		return err
	}
	return s.recordDomain(ctx, email, kind)
}

// MarkNotSpam moves a message out of spam into the given category, or personal when
// none is given. For a message that is not in spam it confirms the current category.
func (s *Service) MarkNotSpam(ctx context.Context, userID, messageID string, category *core.Category) error {
	email, err := s.load(ctx, userID, messageID)
	if err != nil {
		return err
	}

	fb := Feedback{UserID: userID, MessageID: messageID, IsCorrect: email.Category != core.CategorySpam}
	if !fb.IsCorrect {
		corrected := core.CategoryPersonal
		if category != nil {
			corrected = *category
		}
		if corrected == core.CategorySpam {
			return fmt.Errorf("%w: cannot move spam to spam", ErrInvalidFeedback)
		}
		fb.CorrectedCategory = &corrected
	}

	if err := s.apply(ctx, email, fb); err != nil {
		return err
	}
	return s.recordDomain(ctx, email, reputation.ActionMarkSafe)
}

// MarkSafe applies the user's terminal override to the message's phishing assessment
func (s *Service) MarkSafe(ctx context.Context, userID, messageID string) (*core.PhishingAssessment, error) {
	email, err := s.load(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	safe := phishing.MarkSafe(email.Phishing, s.now())
	if err := s.messages.PatchEmail(ctx, email.ID, core.EmailPatch{Phishing: safe}); err != nil {
		return nil, fmt.Errorf("failed to mark email %s safe: %w", email.ID, err)
	}
	if err := s.recordDomain(ctx, email, reputation.ActionMarkSafe); err != nil {
		return nil, err
	}
	return safe, nil
}

func (s *Service) recordDomain(ctx context.Context, email *core.Email, kind reputation.ActionKind) error {
	if core.DomainOf(core.NormalizeAddress(email.From)) == "" {
		return nil
	}
	_, err := s.domains.RecordAction(ctx, reputation.ActionEvent{
		UserID:   email.UserID,
		Sender:   email.From,
		Kind:     kind,
		Category: email.Category,
		At:       s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to record %s for %s: %w", kind, email.From, err)
	}
	return nil
}

// load returns the user's message. Messages owned by other users are reported as not found.
func (s *Service) load(ctx context.Context, userID, messageID string) (*core.Email, error) {
	email, err := s.messages.GetEmail(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email %s: %w", messageID, err)
	}
	if email.UserID != userID {
		return nil, fmt.Errorf("failed to load email %s: %w", messageID, core.ErrNotFound)
	}
	return email, nil
}
