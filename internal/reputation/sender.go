package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

var (
	// ErrInvalidSender is returned when an update has no usable sender address
	ErrInvalidSender = errors.New("invalid sender address")
	// ErrUnknownCategory is returned when an update names a category outside the enum
	ErrUnknownCategory = errors.New("unknown category")
)

// Options tunes the sender reputation store
type Options struct {
	Threshold  float64
	Policy     ResolutionPolicy
	MaxRetries int
}

// LookupResult is the outcome of a sender reputation lookup
type LookupResult struct {
	Found               bool
	Reputation          *core.SenderReputation
	ShouldUseReputation bool
	SuggestedCategory   core.Category
}

// SenderStore scores senders per user and decides when history alone can classify a message
type SenderStore struct {
	repo       core.SenderReputationRepository
	logger     *zap.Logger
	threshold  float64
	policy     ResolutionPolicy
	maxRetries int
	locks      *keyLocker
	now        func() time.Time
}

// NewSenderStore creates a new sender reputation store
func NewSenderStore(repo core.SenderReputationRepository, logger *zap.Logger, opts Options) *SenderStore {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.Policy == "" {
		opts.Policy = PolicyOverride
	}
	return &SenderStore{
		repo:       repo,
		logger:     logger,
		threshold:  opts.Threshold,
		policy:     opts.Policy,
		maxRetries: opts.MaxRetries,
		locks:      newKeyLocker(),
		now:        time.Now,
	}
}

// Lookup returns the sender's reputation. A missing record, or one that cannot be
// read, is reported as not found rather than as an error.
func (s *SenderStore) Lookup(ctx context.Context, userID, senderEmail string) LookupResult {
	sender := core.NormalizeAddress(senderEmail)
	if sender == "" {
		return LookupResult{}
	}

	rep, err := s.repo.GetSenderReputation(ctx, userID, sender)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("Sender reputation lookup failed",
				zap.String("user_id", userID),
				zap.String("sender", sender),
				zap.Error(err))
		}
		return LookupResult{}
	}

	return LookupResult{
		Found:               true,
		Reputation:          rep,
		ShouldUseReputation: rep.Confidence >= s.threshold,
		SuggestedCategory:   rep.PrimaryCategory,
	}
}

// Update records one classification (or, weighted 3x, one user feedback action) for a
// sender and recomputes the derived fields before a compare-and-swap upsert.
func (s *SenderStore) Update(ctx context.Context, userID, senderEmail string, category core.Category, isUserFeedback bool) error {
	sender := core.NormalizeAddress(senderEmail)
	if sender == "" || core.DomainOf(sender) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidSender, senderEmail)
	}
	if _, ok := core.ParseCategory(string(category)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	unlock := s.locks.Lock(userID + "\x00" + sender)
	defer unlock()

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		rep, err := s.repo.GetSenderReputation(ctx, userID, sender)
		var expected int64
		switch {
		case errors.Is(err, core.ErrNotFound):
			rep = &core.SenderReputation{
				UserID:      userID,
				SenderEmail: sender,
				Domain:      core.DomainOf(sender),
			}
		case err != nil:
			return fmt.Errorf("failed to load sender reputation: %w", err)
		default:
			expected = rep.Version
		}

		applySenderUpdate(rep, category, isUserFeedback, s.now())

		err = s.repo.SaveSenderReputation(ctx, rep, expected)
		if err == nil {
			return nil
		}
		if !errors.Is(err, core.ErrVersionConflict) {
			return fmt.Errorf("failed to save sender reputation: %w", err)
		}
		s.logger.Debug("Sender reputation version conflict, retrying",
			zap.String("sender", sender),
			zap.Int("attempt", attempt))
	}

	return fmt.Errorf("failed to save sender reputation for %s: %w", sender, core.ErrVersionConflict)
}

// ResolveCategory applies the store's resolution policy
func (s *SenderStore) ResolveCategory(pipeline PipelineDecision, lookup LookupResult) Resolution {
	return s.policy.Resolve(pipeline, lookup)
}

// Threshold returns the confidence needed for reputation to decide alone
func (s *SenderStore) Threshold() float64 {
	return s.threshold
}

func applySenderUpdate(rep *core.SenderReputation, category core.Category, isUserFeedback bool, now time.Time) {
	weight := passiveWeight
	if isUserFeedback {
		weight = feedbackWeight
		rep.UserOverrides++
	} else {
		rep.TotalEmails++
	}

	rep.CategoryScores = addScore(rep.CategoryScores, category, weight)
	rep.PrimaryCategory = PrimaryCategory(rep.CategoryScores)
	rep.Confidence = Confidence(rep.TotalEmails, rep.UserOverrides, rep.CategoryScores)
	rep.LastSeen = now
}
