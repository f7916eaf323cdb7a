package core

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by repositories when a keyed record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a compare-and-swap upsert lost a race
	ErrVersionConflict = errors.New("record version conflict")
)

// Oracle is the external language-model classifier
type Oracle interface {
	// Classify returns the oracle's JSON contract for an email. Results are
	// non-deterministic and calls are never assumed idempotent.
	Classify(ctx context.Context, email *Email) (*OracleResult, error)
}

// SenderReputationRepository persists per (user, sender) reputation
type SenderReputationRepository interface {
	GetSenderReputation(ctx context.Context, userID, senderEmail string) (*SenderReputation, error)

	// SaveSenderReputation inserts when expectedVersion is 0, otherwise updates only if the
	// stored version still equals expectedVersion. The stored version is bumped on success.
	SaveSenderReputation(ctx context.Context, rep *SenderReputation, expectedVersion int64) error
}

// DomainReputationRepository persists per (user, domain) reputation
type DomainReputationRepository interface {
	GetDomainReputation(ctx context.Context, userID, domain string) (*DomainReputation, error)
	SaveDomainReputation(ctx context.Context, rep *DomainReputation, expectedVersion int64) error
	ListDomainReputations(ctx context.Context, userID string) ([]*DomainReputation, error)
}

// PatternRepository holds phishing heuristic patterns and global domain lists
type PatternRepository interface {
	ListPhishingPatterns(ctx context.Context) ([]PhishingPattern, error)
	ListDomainEntries(ctx context.Context) ([]DomainListEntry, error)
	SavePhishingPattern(ctx context.Context, pattern *PhishingPattern) error
	SaveDomainEntry(ctx context.Context, entry *DomainListEntry) error
}

// RuleRepository persists automation rules and their run logs
type RuleRepository interface {
	CreateRule(ctx context.Context, rule *AutomationRule) error
	UpdateRule(ctx context.Context, rule *AutomationRule) error
	GetRule(ctx context.Context, ruleID string) (*AutomationRule, error)
	ListRules(ctx context.Context, userID string) ([]*AutomationRule, error)

	// ListActiveRuleOwners returns every user owning at least one active rule
	ListActiveRuleOwners(ctx context.Context) ([]string, error)

	// RecordRuleRun atomically bumps the run and affected counters
	RecordRuleRun(ctx context.Context, ruleID string, affected int, at time.Time) error

	// RecordRuleAffected adds to the affected counter only, leaving run count and last run untouched
	RecordRuleAffected(ctx context.Context, ruleID string, affected int) error

	AppendRunLog(ctx context.Context, log *RunLog) error
	ListRunLogs(ctx context.Context, ruleID string, limit int) ([]*RunLog, error)
}

// LabelRepository persists user labels
type LabelRepository interface {
	// UpsertLabel returns the owner's label with that name, creating it if absent
	UpsertLabel(ctx context.Context, ownerID, name string) (*Label, error)

	// AttachLabel associates a label with an email; attaching twice is a no-op
	AttachLabel(ctx context.Context, emailID, labelID string) error
}

// MessageRepository persists messages and their mailbox state
type MessageRepository interface {
	SaveEmail(ctx context.Context, email *Email) error
	GetEmail(ctx context.Context, emailID string) (*Email, error)

	// ListRecentEmails returns the user's non-deleted emails, newest first
	ListRecentEmails(ctx context.Context, userID string, limit int) ([]*Email, error)

	PatchEmail(ctx context.Context, emailID string, patch EmailPatch) error
}

// ClassificationLogRepository persists classification decisions and rollups
type ClassificationLogRepository interface {
	AppendClassificationLog(ctx context.Context, entry *ClassificationLogEntry) error

	// UpdateClassificationFeedback mutates only the feedback fields of the latest
	// entry for the message, returning ErrNotFound when there is none
	UpdateClassificationFeedback(ctx context.Context, userID, messageID string, corrected *Category, isCorrect bool, at time.Time) error

	// ListClassificationLogs returns entries created in [from, to); an empty userID means all users
	ListClassificationLogs(ctx context.Context, userID string, from, to time.Time) ([]*ClassificationLogEntry, error)

	// UpsertDailySummary replaces the summary stored for (user, day)
	UpsertDailySummary(ctx context.Context, summary *DailySummary) error
	GetDailySummary(ctx context.Context, userID string, day time.Time) (*DailySummary, error)
}

// Store is the structured datastore the engine runs against
type Store interface {
	SenderReputationRepository
	DomainReputationRepository
	PatternRepository
	RuleRepository
	LabelRepository
	MessageRepository
	ClassificationLogRepository

	Close() error
}
