package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of core.Store
type MemoryStore struct {
	mu sync.RWMutex

	senders     map[string]*core.SenderReputation
	domains     map[string]*core.DomainReputation
	patterns    map[string]core.PhishingPattern
	entries     map[string]core.DomainListEntry
	rules       map[string]*core.AutomationRule
	runLogs     []*core.RunLog
	labels      map[string]*core.Label
	labelsByID  map[string]*core.Label
	attachments map[string]map[string]struct{}
	emails      map[string]*core.Email
	classLogs   []*core.ClassificationLogEntry
	summaries   map[string]*core.DailySummary

	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store. When retention is positive, run logs and
// classification logs older than it are pruned every cleanupFreq.
func NewMemoryStore(logger *zap.Logger, retention, cleanupFreq time.Duration) *MemoryStore {
	s := &MemoryStore{
		senders:     make(map[string]*core.SenderReputation),
		domains:     make(map[string]*core.DomainReputation),
		patterns:    make(map[string]core.PhishingPattern),
		entries:     make(map[string]core.DomainListEntry),
		rules:       make(map[string]*core.AutomationRule),
		labels:      make(map[string]*core.Label),
		labelsByID:  make(map[string]*core.Label),
		attachments: make(map[string]map[string]struct{}),
		emails:      make(map[string]*core.Email),
		summaries:   make(map[string]*core.DailySummary),
		logger:      logger,
		retention:   retention,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	if retention > 0 && cleanupFreq > 0 {
		go s.startCleanupTask()
	}

	return s
}

func key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// GetSenderReputation retrieves the reputation of a sender
func (s *MemoryStore) GetSenderReputation(ctx context.Context, userID, senderEmail string) (*core.SenderReputation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rep, ok := s.senders[key(userID, senderEmail)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneSender(rep), nil
}

// SaveSenderReputation inserts or compare-and-swaps a sender reputation
func (s *MemoryStore) SaveSenderReputation(ctx context.Context, rep *core.SenderReputation, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(rep.UserID, rep.SenderEmail)
	current, ok := s.senders[k]
	switch {
	case expectedVersion == 0 && ok:
		return core.ErrVersionConflict
	case expectedVersion != 0 && (!ok || current.Version != expectedVersion):
		return core.ErrVersionConflict
	}

	rep.Version = expectedVersion + 1
	s.senders[k] = cloneSender(rep)
	return nil
}

// GetDomainReputation retrieves the reputation of a domain
func (s *MemoryStore) GetDomainReputation(ctx context.Context, userID, domain string) (*core.DomainReputation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rep, ok := s.domains[key(userID, domain)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneDomain(rep), nil
}

// SaveDomainReputation inserts or compare-and-swaps a domain reputation
func (s *MemoryStore) SaveDomainReputation(ctx context.Context, rep *core.DomainReputation, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(rep.UserID, rep.Domain)
	current, ok := s.domains[k]
	switch {
	case expectedVersion == 0 && ok:
		return core.ErrVersionConflict
	case expectedVersion != 0 && (!ok || current.Version != expectedVersion):
		return core.ErrVersionConflict
	}

	rep.Version = expectedVersion + 1
	s.domains[k] = cloneDomain(rep)
	return nil
}

// ListDomainReputations returns a user's domain reputations ordered by domain
func (s *MemoryStore) ListDomainReputations(ctx context.Context, userID string) ([]*core.DomainReputation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.DomainReputation
	for _, rep := range s.domains {
		if rep.UserID == userID {
			out = append(out, cloneDomain(rep))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// ListPhishingPatterns returns every stored pattern
func (s *MemoryStore) ListPhishingPatterns(ctx context.Context) ([]core.PhishingPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.PhishingPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SavePhishingPattern inserts or replaces a pattern by id
func (s *MemoryStore) SavePhishingPattern(ctx context.Context, pattern *core.PhishingPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pattern.ID == "" {
		pattern.ID = uuid.NewString()
	}
	s.patterns[pattern.ID] = *pattern
	return nil
}

// ListDomainEntries returns the global whitelist and blacklist
func (s *MemoryStore) ListDomainEntries(ctx context.Context) ([]core.DomainListEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.DomainListEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].List != out[j].List {
			return out[i].List < out[j].List
		}
		return out[i].Domain < out[j].Domain
	})
	return out, nil
}

// SaveDomainEntry inserts or replaces a domain list entry
func (s *MemoryStore) SaveDomainEntry(ctx context.Context, entry *core.DomainListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key(string(entry.List), entry.Domain)] = *entry
	return nil
}

// CreateRule stores a new rule
func (s *MemoryStore) CreateRule(ctx context.Context, rule *core.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, ok := s.rules[rule.ID]; ok {
		return fmt.Errorf("rule %s already exists", rule.ID)
	}
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

// UpdateRule replaces a rule's definition, leaving its run statistics untouched
func (s *MemoryStore) UpdateRule(ctx context.Context, rule *core.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rules[rule.ID]
	if !ok {
		return core.ErrNotFound
	}
	updated := cloneRule(rule)
	updated.RunCount = current.RunCount
	updated.EmailsAffected = current.EmailsAffected
	updated.LastRunAt = cloneTime(current.LastRunAt)
	s.rules[rule.ID] = updated
	return nil
}

// GetRule retrieves a rule by id
func (s *MemoryStore) GetRule(ctx context.Context, ruleID string) (*core.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneRule(rule), nil
}

// ListRules returns a user's rules in creation order
func (s *MemoryStore) ListRules(ctx context.Context, userID string) ([]*core.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.AutomationRule
	for _, r := range s.rules {
		if r.UserID == userID {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListActiveRuleOwners returns the sorted set of users with an active rule
func (s *MemoryStore) ListActiveRuleOwners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, r := range s.rules {
		if r.Active {
			seen[r.UserID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

// RecordRuleRun bumps a rule's cumulative counters
func (s *MemoryStore) RecordRuleRun(ctx context.Context, ruleID string, affected int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return core.ErrNotFound
	}
	rule.RunCount++
	rule.EmailsAffected += affected
	rule.LastRunAt = &at
	return nil
}

// RecordRuleAffected adds to a rule's affected counter without counting a run
func (s *MemoryStore) RecordRuleAffected(ctx context.Context, ruleID string, affected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return core.ErrNotFound
	}
	rule.EmailsAffected += affected
	return nil
}

// AppendRunLog stores an immutable run log
func (s *MemoryStore) AppendRunLog(ctx context.Context, log *core.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	s.runLogs = append(s.runLogs, cloneRunLog(log))
	return nil
}

// ListRunLogs returns a rule's most recent run logs, newest first
func (s *MemoryStore) ListRunLogs(ctx context.Context, ruleID string, limit int) ([]*core.RunLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.RunLog
	for i := len(s.runLogs) - 1; i >= 0; i-- {
		if s.runLogs[i].RuleID != ruleID {
			continue
		}
		out = append(out, cloneRunLog(s.runLogs[i]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpsertLabel returns the owner's label with the given name, creating it atomically if absent
func (s *MemoryStore) UpsertLabel(ctx context.Context, ownerID, name string) (*core.Label, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("label name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(ownerID, strings.ToLower(name))
	if l, ok := s.labels[k]; ok {
		c := *l
		return &c, nil
	}
	l := &core.Label{ID: uuid.NewString(), OwnerID: ownerID, Name: name, CreatedAt: time.Now()}
	s.labels[k] = l
	s.labelsByID[l.ID] = l
	c := *l
	return &c, nil
}

// AttachLabel associates a label with an email
func (s *MemoryStore) AttachLabel(ctx context.Context, emailID, labelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.emails[emailID]
	if !ok {
		return core.ErrNotFound
	}
	label, ok := s.labelsByID[labelID]
	if !ok {
		return core.ErrNotFound
	}

	attached, ok := s.attachments[emailID]
	if !ok {
		attached = make(map[string]struct{})
		s.attachments[emailID] = attached
	}
	if _, ok := attached[labelID]; ok {
		return nil
	}
	attached[labelID] = struct{}{}
	email.Labels = append(email.Labels, label.Name)
	return nil
}

// SaveEmail inserts or replaces an email
func (s *MemoryStore) SaveEmail(ctx context.Context, email *core.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	s.emails[email.ID] = cloneEmail(email)
	return nil
}

// GetEmail retrieves an email by id
func (s *MemoryStore) GetEmail(ctx context.Context, emailID string) (*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.emails[emailID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneEmail(email), nil
}

// ListRecentEmails returns the user's non-deleted emails, newest first
func (s *MemoryStore) ListRecentEmails(ctx context.Context, userID string, limit int) ([]*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Email
	for _, e := range s.emails {
		if e.UserID == userID && !e.IsDeleted {
			out = append(out, cloneEmail(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PatchEmail applies a partial update to an email atomically
func (s *MemoryStore) PatchEmail(ctx context.Context, emailID string, patch core.EmailPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.emails[emailID]
	if !ok {
		return core.ErrNotFound
	}
	if patch.IsArchived != nil {
		email.IsArchived = *patch.IsArchived
	}
	if patch.IsDeleted != nil {
		email.IsDeleted = *patch.IsDeleted
	}
	if patch.IsRead != nil {
		email.IsRead = *patch.IsRead
	}
	if patch.Priority != nil {
		email.Priority = *patch.Priority
	}
	if patch.Category != nil {
		email.Category = *patch.Category
	}
	if patch.Phishing != nil {
		email.Phishing = cloneAssessment(patch.Phishing)
	}
	return nil
}

// AppendClassificationLog stores a classification log entry
func (s *MemoryStore) AppendClassificationLog(ctx context.Context, entry *core.ClassificationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.classLogs = append(s.classLogs, cloneLogEntry(entry))
	return nil
}

// UpdateClassificationFeedback fills the feedback fields of the latest entry for a message
func (s *MemoryStore) UpdateClassificationFeedback(ctx context.Context, userID, messageID string, corrected *core.Category, isCorrect bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.classLogs) - 1; i >= 0; i-- {
		e := s.classLogs[i]
		if e.UserID != userID || e.MessageID != messageID {
			continue
		}
		if corrected != nil {
			c := *corrected
			e.CorrectedCategory = &c
		} else {
			e.CorrectedCategory = nil
		}
		e.IsCorrect = &isCorrect
		e.FeedbackAt = &at
		return nil
	}
	return core.ErrNotFound
}

// ListClassificationLogs returns entries created in [from, to) ordered by creation time
func (s *MemoryStore) ListClassificationLogs(ctx context.Context, userID string, from, to time.Time) ([]*core.ClassificationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.ClassificationLogEntry
	for _, e := range s.classLogs {
		if userID != "" && e.UserID != userID {
			continue
		}
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, cloneLogEntry(e))
	}
	slices.SortStableFunc(out, func(a, b *core.ClassificationLogEntry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// UpsertDailySummary replaces the summary for (user, day)
func (s *MemoryStore) UpsertDailySummary(ctx context.Context, summary *core.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[key(summary.UserID, dayKey(summary.Day))] = cloneSummary(summary)
	return nil
}

// GetDailySummary retrieves the summary for (user, day)
func (s *MemoryStore) GetDailySummary(ctx context.Context, userID string, day time.Time) (*core.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[key(userID, dayKey(day))]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneSummary(summary), nil
}

// Cleanup prunes run logs and classification logs older than the retention window
func (s *MemoryStore) Cleanup(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.runLogs) + len(s.classLogs)
	s.runLogs = slices.DeleteFunc(s.runLogs, func(l *core.RunLog) bool {
		return l.StartedAt.Before(cutoff)
	})
	s.classLogs = slices.DeleteFunc(s.classLogs, func(e *core.ClassificationLogEntry) bool {
		return e.CreatedAt.Before(cutoff)
	})

	s.logger.Debug("Pruned expired log entries",
		zap.Int("pruned_count", before-len(s.runLogs)-len(s.classLogs)))
	return nil
}

func (s *MemoryStore) startCleanupTask() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Cleanup(context.Background()); err != nil {
				s.logger.Error("Failed to prune store", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the background cleanup task
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}
