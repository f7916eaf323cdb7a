package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

// ActionKind is one user or delivery event from the action-log feed
type ActionKind string

const (
	ActionReceived       ActionKind = "received"
	ActionOpened         ActionKind = "opened"
	ActionReplied        ActionKind = "replied"
	ActionArchived       ActionKind = "archived"
	ActionDeleted        ActionKind = "deleted"
	ActionSpamReport     ActionKind = "spam_report"
	ActionPhishingReport ActionKind = "phishing_report"
	ActionMarkSafe       ActionKind = "mark_safe"
)

// ErrUnknownAction is returned for events outside the action enum
var ErrUnknownAction = errors.New("unknown domain action")

// scoreDelta is the incremental score change applied once a record exists
var scoreDelta = map[ActionKind]float64{
	ActionReceived:       0,
	ActionOpened:         2,
	ActionReplied:        5,
	ActionArchived:       0,
	ActionDeleted:        -2,
	ActionSpamReport:     -15,
	ActionPhishingReport: -30,
	ActionMarkSafe:       10,
}

// ActionEvent is a passive event delivered at least once by the message store layer
type ActionEvent struct {
	UserID   string        `json:"user_id"`
	Sender   string        `json:"sender,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Kind     ActionKind    `json:"action"`
	Category core.Category `json:"category,omitempty"`
	At       time.Time     `json:"at,omitempty"`
}

func (e ActionEvent) domain() string {
	if e.Domain != "" {
		return core.NormalizeAddress(e.Domain)
	}
	return core.DomainOf(core.NormalizeAddress(e.Sender))
}

// DomainTracker maintains per (user, domain) behavioral reputation
type DomainTracker struct {
	repo       core.DomainReputationRepository
	logger     *zap.Logger
	maxRetries int
	locks      *keyLocker
	now        func() time.Time
}

// NewDomainTracker creates a new domain reputation tracker
func NewDomainTracker(repo core.DomainReputationRepository, logger *zap.Logger, maxRetries int) *DomainTracker {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &DomainTracker{
		repo:       repo,
		logger:     logger,
		maxRetries: maxRetries,
		locks:      newKeyLocker(),
		now:        time.Now,
	}
}

// Get returns the stored domain reputation
func (t *DomainTracker) Get(ctx context.Context, userID, domain string) (*core.DomainReputation, error) {
	return t.repo.GetDomainReputation(ctx, userID, core.NormalizeAddress(domain))
}

// List returns every domain reputation for a user
func (t *DomainTracker) List(ctx context.Context, userID string) ([]*core.DomainReputation, error) {
	return t.repo.ListDomainReputations(ctx, userID)
}

// RecordAction applies one action-log event
func (t *DomainTracker) RecordAction(ctx context.Context, event ActionEvent) (*core.DomainReputation, error) {
	delta, ok := scoreDelta[event.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, event.Kind)
	}
	domain := event.domain()
	if domain == "" {
		return nil, fmt.Errorf("%w: no domain in event", ErrInvalidSender)
	}
	at := event.At
	if at.IsZero() {
		at = t.now()
	}

	return t.mutate(ctx, event.UserID, domain, at, func(rep *core.DomainReputation, created bool) {
		countAction(rep, event.Kind, event.Category)
		if created {
			rep.Score = baselineScore(rep)
		} else {
			rep.Score = clampScore(rep.Score + delta)
		}
		if event.Kind == ActionMarkSafe {
			rep.IsLegitimate = true
		}
	})
}

// SetWhitelisted pins or unpins a domain as fully trusted. Whitelisting clears a blacklist pin.
func (t *DomainTracker) SetWhitelisted(ctx context.Context, userID, domain string, on bool) (*core.DomainReputation, error) {
	return t.mutate(ctx, userID, core.NormalizeAddress(domain), t.now(), func(rep *core.DomainReputation, _ bool) {
		if on {
			rep.IsBlacklisted = false
		} else if rep.IsWhitelisted {
			rep.Score = baselineScore(rep)
		}
		rep.IsWhitelisted = on
	})
}

// SetBlacklisted pins or unpins a domain as untrusted. Blacklisting clears a whitelist pin.
func (t *DomainTracker) SetBlacklisted(ctx context.Context, userID, domain string, on bool) (*core.DomainReputation, error) {
	return t.mutate(ctx, userID, core.NormalizeAddress(domain), t.now(), func(rep *core.DomainReputation, _ bool) {
		if on {
			rep.IsWhitelisted = false
		} else if rep.IsBlacklisted {
			rep.Score = baselineScore(rep)
		}
		rep.IsBlacklisted = on
	})
}

// Rebuild recomputes a domain's score from its counters with the baseline formula
func (t *DomainTracker) Rebuild(ctx context.Context, userID, domain string) (*core.DomainReputation, error) {
	return t.mutate(ctx, userID, core.NormalizeAddress(domain), t.now(), func(rep *core.DomainReputation, _ bool) {
		rep.Score = baselineScore(rep)
	})
}

func (t *DomainTracker) mutate(ctx context.Context, userID, domain string, at time.Time, apply func(rep *core.DomainReputation, created bool)) (*core.DomainReputation, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrInvalidSender)
	}

	unlock := t.locks.Lock(userID + "\x00" + domain)
	defer unlock()

	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		rep, err := t.repo.GetDomainReputation(ctx, userID, domain)
		var expected int64
		created := false
		switch {
		case errors.Is(err, core.ErrNotFound):
			created = true
			rep = &core.DomainReputation{
				UserID:    userID,
				Domain:    domain,
				Score:     50,
				FirstSeen: at,
			}
		case err != nil:
			return nil, fmt.Errorf("failed to load domain reputation: %w", err)
		default:
			expected = rep.Version
		}

		apply(rep, created)
		recomputeDomain(rep)
		if at.After(rep.LastSeen) {
			rep.LastSeen = at
		}

		err = t.repo.SaveDomainReputation(ctx, rep, expected)
		if err == nil {
			return rep, nil
		}
		if !errors.Is(err, core.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to save domain reputation: %w", err)
		}
		t.logger.Debug("Domain reputation version conflict, retrying",
			zap.String("domain", domain),
			zap.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("failed to save domain reputation for %s: %w", domain, core.ErrVersionConflict)
}

func countAction(rep *core.DomainReputation, kind ActionKind, category core.Category) {
	switch kind {
	case ActionReceived:
		rep.TotalEmails++
		if _, ok := core.ParseCategory(string(category)); ok {
			rep.CategoryDistribution = addScore(rep.CategoryDistribution, category, 1)
		}
	case ActionOpened:
		rep.Opened++
	case ActionReplied:
		rep.Replied++
	case ActionArchived:
		rep.Archived++
	case ActionDeleted:
		rep.Deleted++
	case ActionSpamReport:
		rep.SpamReported++
	case ActionPhishingReport:
		rep.PhishingReported++
	}
}

// recomputeDomain refreshes every derived field. Pins override the behavioral score.
func recomputeDomain(rep *core.DomainReputation) {
	rep.OpenRate = rate(rep.Opened, rep.TotalEmails)
	rep.ReplyRate = rate(rep.Replied, rep.TotalEmails)
	rep.DeleteRate = rate(rep.Deleted, rep.TotalEmails)
	rep.PrimaryCategory = PrimaryCategory(rep.CategoryDistribution)

	switch {
	case rep.IsWhitelisted:
		rep.Score = 100
	case rep.IsBlacklisted:
		rep.Score = 0
	}
	rep.Score = clampScore(rep.Score)
	rep.TrustLevel = core.TrustLevelFor(rep.Score)
}

func baselineScore(rep *core.DomainReputation) float64 {
	return clampScore(50 + 2*float64(rep.Opened) - 2*float64(rep.Deleted))
}

func rate(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	r := float64(n) / float64(total)
	if r > 1 {
		return 1
	}
	return r
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	default:
		return s
	}
}
