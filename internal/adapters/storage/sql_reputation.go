package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-trust/internal/core"
)

type senderRow struct {
	UserID          string    `db:"user_id"`
	SenderEmail     string    `db:"sender_email"`
	Domain          string    `db:"domain"`
	PrimaryCategory string    `db:"primary_category"`
	CategoryScores  string    `db:"category_scores"`
	TotalEmails     int       `db:"total_emails"`
	UserOverrides   int       `db:"user_overrides"`
	Confidence      float64   `db:"confidence"`
	LastSeen        time.Time `db:"last_seen"`
	Version         int64     `db:"version"`
}

func (r senderRow) toModel() (*core.SenderReputation, error) {
	rep := &core.SenderReputation{
		UserID:          r.UserID,
		SenderEmail:     r.SenderEmail,
		Domain:          r.Domain,
		PrimaryCategory: core.Category(r.PrimaryCategory),
		TotalEmails:     r.TotalEmails,
		UserOverrides:   r.UserOverrides,
		Confidence:      r.Confidence,
		LastSeen:        r.LastSeen,
		Version:         r.Version,
	}
	if err := fromJSON(r.CategoryScores, &rep.CategoryScores); err != nil {
		return nil, err
	}
	return rep, nil
}

// GetSenderReputation retrieves the reputation of a sender
func (s *SQLStore) GetSenderReputation(ctx context.Context, userID, senderEmail string) (*core.SenderReputation, error) {
	var row senderRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT user_id, sender_email, domain, primary_category, category_scores,
			total_emails, user_overrides, confidence, last_seen, version
		FROM sender_reputations
		WHERE user_id = ? AND sender_email = ?
	`), userID, senderEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query sender reputation: %w", err)
	}
	return row.toModel()
}

// SaveSenderReputation inserts or compare-and-swaps a sender reputation
func (s *SQLStore) SaveSenderReputation(ctx context.Context, rep *core.SenderReputation, expectedVersion int64) error {
	scores, err := toJSON(rep.CategoryScores)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		_, err = s.db.ExecContext(ctx, s.q(`
			INSERT INTO sender_reputations (user_id, sender_email, domain, primary_category, category_scores,
				total_emails, user_overrides, confidence, last_seen, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`), rep.UserID, rep.SenderEmail, rep.Domain, string(rep.PrimaryCategory), scores,
			rep.TotalEmails, rep.UserOverrides, rep.Confidence, rep.LastSeen.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return core.ErrVersionConflict
			}
			return fmt.Errorf("failed to insert sender reputation: %w", err)
		}
		rep.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sender_reputations
		SET domain = ?, primary_category = ?, category_scores = ?, total_emails = ?,
			user_overrides = ?, confidence = ?, last_seen = ?, version = version + 1
		WHERE user_id = ? AND sender_email = ? AND version = ?
	`), rep.Domain, string(rep.PrimaryCategory), scores, rep.TotalEmails,
		rep.UserOverrides, rep.Confidence, rep.LastSeen.UTC(),
		rep.UserID, rep.SenderEmail, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update sender reputation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return core.ErrVersionConflict
	}
	rep.Version = expectedVersion + 1
	return nil
}

type domainRow struct {
	UserID               string    `db:"user_id"`
	Domain               string    `db:"domain"`
	Score                float64   `db:"score"`
	TrustLevel           string    `db:"trust_level"`
	TotalEmails          int       `db:"total_emails"`
	Opened               int       `db:"opened"`
	Replied              int       `db:"replied"`
	Archived             int       `db:"archived"`
	Deleted              int       `db:"deleted"`
	SpamReported         int       `db:"spam_reported"`
	PhishingReported     int       `db:"phishing_reported"`
	OpenRate             float64   `db:"open_rate"`
	ReplyRate            float64   `db:"reply_rate"`
	DeleteRate           float64   `db:"delete_rate"`
	CategoryDistribution string    `db:"category_distribution"`
	PrimaryCategory      string    `db:"primary_category"`
	IsWhitelisted        bool      `db:"is_whitelisted"`
	IsBlacklisted        bool      `db:"is_blacklisted"`
	IsLegitimate         bool      `db:"is_legitimate"`
	FirstSeen            time.Time `db:"first_seen"`
	LastSeen             time.Time `db:"last_seen"`
	Version              int64     `db:"version"`
}

const domainColumns = `user_id, domain, score, trust_level, total_emails, opened, replied, archived,
	deleted, spam_reported, phishing_reported, open_rate, reply_rate, delete_rate,
	category_distribution, primary_category, is_whitelisted, is_blacklisted, is_legitimate,
	first_seen, last_seen, version`

func (r domainRow) toModel() (*core.DomainReputation, error) {
	rep := &core.DomainReputation{
		UserID:           r.UserID,
		Domain:           r.Domain,
		Score:            r.Score,
		TrustLevel:       core.TrustLevel(r.TrustLevel),
		TotalEmails:      r.TotalEmails,
		Opened:           r.Opened,
		Replied:          r.Replied,
		Archived:         r.Archived,
		Deleted:          r.Deleted,
		SpamReported:     r.SpamReported,
		PhishingReported: r.PhishingReported,
		OpenRate:         r.OpenRate,
		ReplyRate:        r.ReplyRate,
		DeleteRate:       r.DeleteRate,
		PrimaryCategory:  core.Category(r.PrimaryCategory),
		IsWhitelisted:    r.IsWhitelisted,
		IsBlacklisted:    r.IsBlacklisted,
		IsLegitimate:     r.IsLegitimate,
		FirstSeen:        r.FirstSeen,
		LastSeen:         r.LastSeen,
		Version:          r.Version,
	}
	if err := fromJSON(r.CategoryDistribution, &rep.CategoryDistribution); err != nil {
		return nil, err
	}
	return rep, nil
}

// GetDomainReputation retrieves the reputation of a domain
func (s *SQLStore) GetDomainReputation(ctx context.Context, userID, domain string) (*core.DomainReputation, error) {
	var row domainRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT `+domainColumns+`
		FROM domain_reputations
		WHERE user_id = ? AND domain = ?
	`), userID, domain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query domain reputation: %w", err)
	}
	return row.toModel()
}

// SaveDomainReputation inserts or compare-and-swaps a domain reputation
func (s *SQLStore) SaveDomainReputation(ctx context.Context, rep *core.DomainReputation, expectedVersion int64) error {
	dist, err := toJSON(rep.CategoryDistribution)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		_, err = s.db.ExecContext(ctx, s.q(`
			INSERT INTO domain_reputations (`+domainColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`), rep.UserID, rep.Domain, rep.Score, string(rep.TrustLevel), rep.TotalEmails,
			rep.Opened, rep.Replied, rep.Archived, rep.Deleted, rep.SpamReported, rep.PhishingReported,
			rep.OpenRate, rep.ReplyRate, rep.DeleteRate, dist, string(rep.PrimaryCategory),
			rep.IsWhitelisted, rep.IsBlacklisted, rep.IsLegitimate,
			rep.FirstSeen.UTC(), rep.LastSeen.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return core.ErrVersionConflict
			}
			return fmt.Errorf("failed to insert domain reputation: %w", err)
		}
		rep.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE domain_reputations
		SET score = ?, trust_level = ?, total_emails = ?, opened = ?, replied = ?, archived = ?,
			deleted = ?, spam_reported = ?, phishing_reported = ?, open_rate = ?, reply_rate = ?,
			delete_rate = ?, category_distribution = ?, primary_category = ?, is_whitelisted = ?,
			is_blacklisted = ?, is_legitimate = ?, first_seen = ?, last_seen = ?, version = version + 1
		WHERE user_id = ? AND domain = ? AND version = ?
	`), rep.Score, string(rep.TrustLevel), rep.TotalEmails, rep.Opened, rep.Replied, rep.Archived,
		rep.Deleted, rep.SpamReported, rep.PhishingReported, rep.OpenRate, rep.ReplyRate,
		rep.DeleteRate, dist, string(rep.PrimaryCategory), rep.IsWhitelisted,
		rep.IsBlacklisted, rep.IsLegitimate, rep.FirstSeen.UTC(), rep.LastSeen.UTC(),
		rep.UserID, rep.Domain, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update domain reputation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return core.ErrVersionConflict
	}
	rep.Version = expectedVersion + 1
	return nil
}

// ListDomainReputations returns a user's domain reputations ordered by domain
func (s *SQLStore) ListDomainReputations(ctx context.Context, userID string) ([]*core.DomainReputation, error) {
	var rows []domainRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+domainColumns+`
		FROM domain_reputations
		WHERE user_id = ?
		ORDER BY domain
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain reputations: %w", err)
	}

	out := make([]*core.DomainReputation, 0, len(rows))
	for _, r := range rows {
		rep, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

type patternRow struct {
	ID       string `db:"id"`
	Type     string `db:"pattern_type"`
	Pattern  string `db:"pattern"`
	Severity int    `db:"severity"`
	IsRegex  bool   `db:"is_regex"`
	Active   bool   `db:"active"`
}

// ListPhishingPatterns returns every stored pattern
func (s *SQLStore) ListPhishingPatterns(ctx context.Context) ([]core.PhishingPattern, error) {
	var rows []patternRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, pattern_type, pattern, severity, is_regex, active
		FROM phishing_patterns
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list phishing patterns: %w", err)
	}

	out := make([]core.PhishingPattern, len(rows))
	for i, r := range rows {
		out[i] = core.PhishingPattern{
			ID:       r.ID,
			Type:     core.FindingType(r.Type),
			Pattern:  r.Pattern,
			Severity: r.Severity,
			IsRegex:  r.IsRegex,
			Active:   r.Active,
		}
	}
	return out, nil
}

// SavePhishingPattern inserts or replaces a pattern by id
func (s *SQLStore) SavePhishingPattern(ctx context.Context, pattern *core.PhishingPattern) error {
	if pattern.ID == "" {
		pattern.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO phishing_patterns (id, pattern_type, pattern, severity, is_regex, active)
		VALUES (?, ?, ?, ?, ?, ?)
		`+s.upsert([]string{"id"}, []string{"pattern_type", "pattern", "severity", "is_regex", "active"})),
		pattern.ID, string(pattern.Type), pattern.Pattern, pattern.Severity, pattern.IsRegex, pattern.Active)
	if err != nil {
		return fmt.Errorf("failed to save phishing pattern: %w", err)
	}
	return nil
}

// ListDomainEntries returns the global whitelist and blacklist
func (s *SQLStore) ListDomainEntries(ctx context.Context) ([]core.DomainListEntry, error) {
	var rows []struct {
		List   string `db:"list_name"`
		Domain string `db:"domain"`
		Reason string `db:"reason"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT list_name, domain, reason
		FROM domain_lists
		ORDER BY list_name, domain
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain entries: %w", err)
	}

	out := make([]core.DomainListEntry, len(rows))
	for i, r := range rows {
		out[i] = core.DomainListEntry{Domain: r.Domain, List: core.DomainList(r.List), Reason: r.Reason}
	}
	return out, nil
}

// SaveDomainEntry inserts or replaces a domain list entry
func (s *SQLStore) SaveDomainEntry(ctx context.Context, entry *core.DomainListEntry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO domain_lists (list_name, domain, reason)
		VALUES (?, ?, ?)
		`+s.upsert([]string{"list_name", "domain"}, []string{"reason"})),
		string(entry.List), entry.Domain, entry.Reason)
	if err != nil {
		return fmt.Errorf("failed to save domain entry: %w", err)
	}
	return nil
}
