package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-trust/internal/classlog"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/oracle"
	"github.com/mikey/mail-trust/internal/phishing"
	"github.com/mikey/mail-trust/internal/reputation"
	"github.com/mikey/mail-trust/internal/scheduler"
	"go.uber.org/zap"
)

// ErrInvalidEmail is returned for messages that cannot be classified
var ErrInvalidEmail = errors.New("invalid email")

// RuleApplier runs a user's active rules against one message
type RuleApplier interface {
	ApplyToMessage(ctx context.Context, email *core.Email) (int, error)
}

// TaskSubmitter accepts background work
type TaskSubmitter interface {
	Submit(task scheduler.Task) error
}

// Result is the outcome of classifying one message
type Result struct {
	EmailID        string                    `json:"email_id"`
	Category       core.Category             `json:"category"`
	Source         core.ClassificationSource `json:"source"`
	Confidence     float64                   `json:"confidence"`
	ReputationUsed bool                      `json:"reputation_used"`
	Phishing       *core.PhishingAssessment  `json:"phishing"`
	Oracle         *core.OracleResult        `json:"oracle,omitempty"`
	OracleError    string                    `json:"oracle_error,omitempty"`
	ProcessingTime time.Duration             `json:"processing_time"`
}

// Service classifies messages by combining sender reputation, phishing analysis and the oracle
type Service struct {
	senders  *reputation.SenderStore
	domains  *reputation.DomainTracker
	detector *phishing.Detector
	guard    *oracle.Guard
	logs     *classlog.Logger
	messages core.MessageRepository
	rules    RuleApplier
	tasks    TaskSubmitter
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new classification service. rules and tasks may be nil, in which
// case no rules run on arrival.
func NewService(
	senders *reputation.SenderStore,
	domains *reputation.DomainTracker,
	detector *phishing.Detector,
	guard *oracle.Guard,
	logs *classlog.Logger,
	messages core.MessageRepository,
	rules RuleApplier,
	tasks TaskSubmitter,
	logger *zap.Logger,
) *Service {
	return &Service{
		senders:  senders,
		domains:  domains,
		detector: detector,
		guard:    guard,
		logs:     logs,
		messages: messages,
		rules:    rules,
		tasks:    tasks,
		logger:   logger,
		now:      time.Now,
	}
}

// Classify assigns a category and phishing assessment to an email and persists both.
// Oracle failures degrade to heuristics and are never returned as errors.
func (s *Service) Classify(ctx context.Context, email *core.Email) (*Result, error) {
	if email == nil || email.UserID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidEmail)
	}
	start := s.now()
	if email.ID == "" {
		email.ID = uuid.NewString()
	} else if err := s.checkOwner(ctx, email); err != nil {
		return nil, err
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = start
	}

	lookup := s.senders.Lookup(ctx, email.UserID, email.From)
	assessment := s.detector.Assess(ctx, email)

	result := &Result{EmailID: email.ID, Phishing: assessment}
	decision := s.decide(ctx, email, assessment, lookup, result)
	resolution := s.senders.ResolveCategory(decision, lookup)

	result.Category = resolution.FinalCategory
	result.Source = resolution.Source
	result.Confidence = resolution.Confidence
	result.ReputationUsed = resolution.Source == core.SourceSenderReputation

	email.Category = resolution.FinalCategory
	email.Phishing = assessment
	if err := s.messages.SaveEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to save email %s: %w", email.ID, err)
	}

	s.recordReputation(ctx, email, resolution.FinalCategory)

	result.ProcessingTime = s.now().Sub(start)
	s.logDecision(ctx, email, result, lookup)
	s.submitRules(email)

	s.logger.Info("Classified email",
		zap.String("email_id", email.ID),
		zap.String("user_id", email.UserID),
		zap.String("sender", email.From),
		zap.String("category", string(result.Category)),
		zap.String("source", string(result.Source)),
		zap.Float64("confidence", result.Confidence),
		zap.Int("phishing_score", assessment.Score),
		zap.Duration("elapsed", result.ProcessingTime))

	return result, nil
}

// checkOwner refuses to overwrite a stored message belonging to another user.
// Foreign ids report ErrNotFound so callers cannot probe for them.
func (s *Service) checkOwner(ctx context.Context, email *core.Email) error {
	existing, err := s.messages.GetEmail(ctx, email.ID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load email %s: %w", email.ID, err)
	}
	if existing.UserID != email.UserID {
		return fmt.Errorf("email %s: %w", email.ID, core.ErrNotFound)
	}
	return nil
}

// decide computes the pipeline's own category before reputation resolution
func (s *Service) decide(ctx context.Context, email *core.Email, assessment *core.PhishingAssessment, lookup reputation.LookupResult, result *Result) reputation.PipelineDecision {
	if lookup.ShouldUseReputation {
		oracleSkipped.Inc()
		return heuristicDecision(email, assessment, lookup)
	}

	answer, err := s.guard.Classify(ctx, email)
	if err != nil {
		reason := fallbackReason(err)
		oracleFallbacks.WithLabelValues(reason).Inc()
		if reason != "disabled" {
			result.OracleError = err.Error()
			s.logger.Warn("Oracle unavailable, using heuristics",
				zap.String("email_id", email.ID),
				zap.String("reason", reason),
				zap.Error(err))
		}
		return heuristicDecision(email, assessment, lookup)
	}

	result.Oracle = answer
	if phishing.IsThreat(assessment) && answer.Category != core.CategorySpam {
		confidence := float64(assessment.Score) / 100
		if answer.Confidence > confidence {
			confidence = answer.Confidence
		}
		return reputation.PipelineDecision{
			Category:   core.CategorySpam,
			Source:     core.SourceHybrid,
			Confidence: confidence,
		}
	}
	return reputation.PipelineDecision{
		Category:   answer.Category,
		Source:     core.SourceOracle,
		Confidence: answer.Confidence,
	}
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, oracle.ErrDisabled):
		return "disabled"
	case errors.Is(err, oracle.ErrTimeout):
		return "timeout"
	case errors.Is(err, oracle.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, oracle.ErrInvalidResponse):
		return "invalid_response"
	default:
		return "error"
	}
}

func (s *Service) recordReputation(ctx context.Context, email *core.Email, category core.Category) {
	if err := s.senders.Update(ctx, email.UserID, email.From, category, false); err != nil {
		if errors.Is(err, reputation.ErrInvalidSender) {
			s.logger.Debug("Skipping reputation for unusable sender", zap.String("sender", email.From))
			return
		}
		s.logger.Warn("Failed to update sender reputation",
			zap.String("user_id", email.UserID),
			zap.String("sender", email.From),
			zap.Error(err))
	}

	_, err := s.domains.RecordAction(ctx, reputation.ActionEvent{
		UserID:   email.UserID,
		Sender:   email.From,
		Kind:     reputation.ActionReceived,
		Category: category,
		At:       email.ReceivedAt,
	})
	if err != nil {
		s.logger.Warn("Failed to record domain event",
			zap.String("user_id", email.UserID),
			zap.String("sender", email.From),
			zap.Error(err))
	}
}

func (s *Service) logDecision(ctx context.Context, email *core.Email, result *Result, lookup reputation.LookupResult) {
	entry := &core.ClassificationLogEntry{
		UserID:           email.UserID,
		MessageID:        email.ID,
		SenderEmail:      email.From,
		Subject:          email.Subject,
		Category:         result.Category,
		Confidence:       result.Confidence,
		PhishingScore:    result.Phishing.Score,
		Source:           result.Source,
		ReputationUsed:   result.ReputationUsed,
		ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
	}
	if lookup.Reputation != nil {
		entry.ReputationScore = lookup.Reputation.Confidence
	}
	if err := s.logs.Log(ctx, entry); err != nil {
		s.logger.Warn("Failed to write classification log",
			zap.String("email_id", email.ID),
			zap.Error(err))
	}
}

// submitRules hands the on-arrival rule run to the background queue
func (s *Service) submitRules(email *core.Email) {
	if s.rules == nil || s.tasks == nil {
		return
	}

	snapshot := *email
	snapshot.Labels = append([]string(nil), email.Labels...)
	err := s.tasks.Submit(scheduler.Task{
		Name: "rules.apply",
		Run: func(ctx context.Context) error {
			_, err := s.rules.ApplyToMessage(ctx, &snapshot)
			return err
		},
	})
	if err != nil {
		s.logger.Warn("Failed to queue arrival rules",
			zap.String("email_id", email.ID),
			zap.Error(err))
	}
}

// Rescan recomputes a stored message's phishing assessment. An assessment the user
// marked safe is returned unchanged.
func (s *Service) Rescan(ctx context.Context, messageID string) (*core.PhishingAssessment, error) {
	email, err := s.messages.GetEmail(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email %s: %w", messageID, err)
	}
	return s.rescan(ctx, email)
}

// RescanFor is Rescan restricted to the user's own messages
func (s *Service) RescanFor(ctx context.Context, userID, messageID string) (*core.PhishingAssessment, error) {
	email, err := s.messages.GetEmail(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email %s: %w", messageID, err)
	}
	if email.UserID != userID {
		return nil, fmt.Errorf("failed to load email %s: %w", messageID, core.ErrNotFound)
	}
	return s.rescan(ctx, email)
}

func (s *Service) rescan(ctx context.Context, email *core.Email) (*core.PhishingAssessment, error) {
	assessment := s.detector.Rescan(ctx, email)
	if assessment == email.Phishing {
		return assessment, nil
	}

	if err := s.messages.PatchEmail(ctx, email.ID, core.EmailPatch{Phishing: assessment}); err != nil {
		return nil, fmt.Errorf("failed to save assessment for %s: %w", email.ID, err)
	}
	return assessment, nil
}
