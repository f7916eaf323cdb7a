package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-trust/internal/core"
)

type emailRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	From       string         `db:"from_addr"`
	FromName   string         `db:"from_name"`
	To         string         `db:"to_addrs"`
	Subject    string         `db:"subject"`
	Body       string         `db:"body"`
	HTMLBody   string         `db:"html_body"`
	Headers    string         `db:"headers"`
	ReceivedAt time.Time      `db:"received_at"`
	Category   string         `db:"category"`
	Priority   int            `db:"priority"`
	IsRead     bool           `db:"is_read"`
	IsStarred  bool           `db:"is_starred"`
	IsArchived bool           `db:"is_archived"`
	IsDeleted  bool           `db:"is_deleted"`
	Phishing   sql.NullString `db:"phishing"`
}

const emailColumns = `id, user_id, from_addr, from_name, to_addrs, subject, body, html_body, headers,
	received_at, category, priority, is_read, is_starred, is_archived, is_deleted, phishing`

func (r emailRow) toModel() (*core.Email, error) {
	email := &core.Email{
		ID:         r.ID,
		UserID:     r.UserID,
		From:       r.From,
		FromName:   r.FromName,
		Subject:    r.Subject,
		Body:       r.Body,
		HTMLBody:   r.HTMLBody,
		ReceivedAt: r.ReceivedAt,
		Category:   core.Category(r.Category),
		Priority:   r.Priority,
		IsRead:     r.IsRead,
		IsStarred:  r.IsStarred,
		IsArchived: r.IsArchived,
		IsDeleted:  r.IsDeleted,
	}
	if err := fromJSON(r.To, &email.To); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Headers, &email.Headers); err != nil {
		return nil, err
	}
	if r.Phishing.Valid && r.Phishing.String != "" {
		email.Phishing = &core.PhishingAssessment{}
		if err := fromJSON(r.Phishing.String, email.Phishing); err != nil {
			return nil, err
		}
	}
	return email, nil
}

func phishingColumn(a *core.PhishingAssessment) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	s, err := toJSON(a)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// SaveEmail inserts or replaces an email
func (s *SQLStore) SaveEmail(ctx context.Context, email *core.Email) error {
	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	to, err := toJSON(email.To)
	if err != nil {
		return err
	}
	headers, err := toJSON(email.Headers)
	if err != nil {
		return err
	}
	phishing, err := phishingColumn(email.Phishing)
	if err != nil {
		return err
	}

	onConflict := s.upsert([]string{"id"}, []string{
		"user_id", "from_addr", "from_name", "to_addrs", "subject", "body", "html_body", "headers",
		"received_at", "category", "priority", "is_read", "is_starred", "is_archived", "is_deleted", "phishing",
	})
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`+onConflict), email.ID, email.UserID, email.From, email.FromName, to, email.Subject, email.Body,
		email.HTMLBody, headers, email.ReceivedAt.UTC(), string(email.Category), email.Priority,
		email.IsRead, email.IsStarred, email.IsArchived, email.IsDeleted, phishing)
	if err != nil {
		return fmt.Errorf("failed to save email: %w", err)
	}
	return nil
}

// GetEmail retrieves an email by id together with its label names
func (s *SQLStore) GetEmail(ctx context.Context, emailID string) (*core.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+emailColumns+` FROM emails WHERE id = ?`), emailID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query email: %w", err)
	}
	email, err := row.toModel()
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &email.Labels, s.q(`
		SELECT l.name
		FROM email_labels el
		JOIN labels l ON l.id = el.label_id
		WHERE el.email_id = ?
		ORDER BY l.name
	`), emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query email labels: %w", err)
	}
	return email, nil
}

// ListRecentEmails returns the user's non-deleted emails, newest first
func (s *SQLStore) ListRecentEmails(ctx context.Context, userID string, limit int) ([]*core.Email, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []emailRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+emailColumns+`
		FROM emails
		WHERE user_id = ? AND is_deleted = ?
		ORDER BY received_at DESC, id
		LIMIT ?
	`), userID, false, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	out := make([]*core.Email, 0, len(rows))
	for _, r := range rows {
		email, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, nil
}

// PatchEmail applies a partial update to an email in a single statement
func (s *SQLStore) PatchEmail(ctx context.Context, emailID string, patch core.EmailPatch) error {
	var sets []string
	var args []any
	if patch.IsArchived != nil {
		sets, args = append(sets, "is_archived = ?"), append(args, *patch.IsArchived)
	}
	if patch.IsDeleted != nil {
		sets, args = append(sets, "is_deleted = ?"), append(args, *patch.IsDeleted)
	}
	if patch.IsRead != nil {
		sets, args = append(sets, "is_read = ?"), append(args, *patch.IsRead)
	}
	if patch.Priority != nil {
		sets, args = append(sets, "priority = ?"), append(args, *patch.Priority)
	}
	if patch.Category != nil {
		sets, args = append(sets, "category = ?"), append(args, string(*patch.Category))
	}
	if patch.Phishing != nil {
		phishing, err := phishingColumn(patch.Phishing)
		if err != nil {
			return err
		}
		sets, args = append(sets, "phishing = ?"), append(args, phishing)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, emailID)
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE emails SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("failed to patch email: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := s.GetEmail(ctx, emailID); err != nil {
			return err
		}
	}
	return nil
}

type classLogRow struct {
	ID                string         `db:"id"`
	UserID            string         `db:"user_id"`
	MessageID         string         `db:"message_id"`
	SenderEmail       string         `db:"sender_email"`
	SenderDomain      string         `db:"sender_domain"`
	Subject           string         `db:"subject"`
	Category          string         `db:"category"`
	Confidence        float64        `db:"confidence"`
	PhishingScore     int            `db:"phishing_score"`
	Source            string         `db:"source"`
	ReputationUsed    bool           `db:"reputation_used"`
	ReputationScore   float64        `db:"reputation_score"`
	ProcessingTimeMs  int64          `db:"processing_time_ms"`
	CorrectedCategory sql.NullString `db:"corrected_category"`
	IsCorrect         sql.NullBool   `db:"is_correct"`
	FeedbackAt        sql.NullTime   `db:"feedback_at"`
	CreatedAt         time.Time      `db:"created_at"`
}

const classLogColumns = `id, user_id, message_id, sender_email, sender_domain, subject, category,
	confidence, phishing_score, source, reputation_used, reputation_score, processing_time_ms,
	corrected_category, is_correct, feedback_at, created_at`

func (r classLogRow) toModel() *core.ClassificationLogEntry {
	e := &core.ClassificationLogEntry{
		ID:               r.ID,
		UserID:           r.UserID,
		MessageID:        r.MessageID,
		SenderEmail:      r.SenderEmail,
		SenderDomain:     r.SenderDomain,
		Subject:          r.Subject,
		Category:         core.Category(r.Category),
		Confidence:       r.Confidence,
		PhishingScore:    r.PhishingScore,
		Source:           core.ClassificationSource(r.Source),
		ReputationUsed:   r.ReputationUsed,
		ReputationScore:  r.ReputationScore,
		ProcessingTimeMs: r.ProcessingTimeMs,
		CreatedAt:        r.CreatedAt,
	}
	if r.CorrectedCategory.Valid {
		c := core.Category(r.CorrectedCategory.String)
		e.CorrectedCategory = &c
	}
	if r.IsCorrect.Valid {
		ok := r.IsCorrect.Bool
		e.IsCorrect = &ok
	}
	if r.FeedbackAt.Valid {
		t := r.FeedbackAt.Time
		e.FeedbackAt = &t
	}
	return e
}

// AppendClassificationLog stores a classification log entry
func (s *SQLStore) AppendClassificationLog(ctx context.Context, entry *core.ClassificationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO classification_logs (`+classLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?)
	`), entry.ID, entry.UserID, entry.MessageID, entry.SenderEmail, entry.SenderDomain, entry.Subject,
		string(entry.Category), entry.Confidence, entry.PhishingScore, string(entry.Source),
		entry.ReputationUsed, entry.ReputationScore, entry.ProcessingTimeMs, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert classification log: %w", err)
	}
	return nil
}

// UpdateClassificationFeedback fills the feedback fields of the latest entry for a message
func (s *SQLStore) UpdateClassificationFeedback(ctx context.Context, userID, messageID string, corrected *core.Category, isCorrect bool, at time.Time) error {
	var id string
	err := s.db.GetContext(ctx, &id, s.q(`
		SELECT id FROM classification_logs
		WHERE user_id = ? AND message_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`), userID, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		return fmt.Errorf("failed to query classification log: %w", err)
	}

	var correctedCol sql.NullString
	if corrected != nil {
		correctedCol = sql.NullString{String: string(*corrected), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		UPDATE classification_logs
		SET corrected_category = ?, is_correct = ?, feedback_at = ?
		WHERE id = ?
	`), correctedCol, isCorrect, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update classification feedback: %w", err)
	}
	return nil
}

// ListClassificationLogs returns entries created in [from, to) ordered by creation time
func (s *SQLStore) ListClassificationLogs(ctx context.Context, userID string, from, to time.Time) ([]*core.ClassificationLogEntry, error) {
	query := `SELECT ` + classLogColumns + ` FROM classification_logs WHERE created_at >= ? AND created_at < ?`
	args := []any{from.UTC(), to.UTC()}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at, id`

	var rows []classLogRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list classification logs: %w", err)
	}

	out := make([]*core.ClassificationLogEntry, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

type summaryRow struct {
	UserID            string    `db:"user_id"`
	DayKey            string    `db:"day_key"`
	Total             int       `db:"total"`
	FeedbackCount     int       `db:"feedback_count"`
	Correct           int       `db:"correct"`
	Incorrect         int       `db:"incorrect"`
	AccuracyRate      float64   `db:"accuracy_rate"`
	ReputationHits    int       `db:"reputation_hits"`
	AvgConfidence     float64   `db:"avg_confidence"`
	PhishingFlagged   int       `db:"phishing_flagged"`
	AvgProcessingMs   float64   `db:"avg_processing_ms"`
	CategoryBreakdown string    `db:"category_breakdown"`
	SourceBreakdown   string    `db:"source_breakdown"`
	AggregatedAt      time.Time `db:"aggregated_at"`
}

// UpsertDailySummary replaces the summary for (user, day)
func (s *SQLStore) UpsertDailySummary(ctx context.Context, summary *core.DailySummary) error {
	categories, err := toJSON(summary.CategoryBreakdown)
	if err != nil {
		return err
	}
	sources, err := toJSON(summary.SourceBreakdown)
	if err != nil {
		return err
	}

	onConflict := s.upsert([]string{"user_id", "day_key"}, []string{
		"total", "feedback_count", "correct", "incorrect", "accuracy_rate", "reputation_hits",
		"avg_confidence", "phishing_flagged", "avg_processing_ms", "category_breakdown",
		"source_breakdown", "aggregated_at",
	})
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO daily_summaries (user_id, day_key, total, feedback_count, correct, incorrect,
			accuracy_rate, reputation_hits, avg_confidence, phishing_flagged, avg_processing_ms,
			category_breakdown, source_breakdown, aggregated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`+onConflict), summary.UserID, dayKey(summary.Day), summary.Total, summary.FeedbackCount, summary.Correct,
		summary.Incorrect, summary.AccuracyRate, summary.ReputationHits, summary.AvgConfidence,
		summary.PhishingFlagged, summary.AvgProcessingMs, categories, sources, summary.AggregatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert daily summary: %w", err)
	}
	return nil
}

// GetDailySummary retrieves the summary for (user, day)
func (s *SQLStore) GetDailySummary(ctx context.Context, userID string, day time.Time) (*core.DailySummary, error) {
	var row summaryRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT user_id, day_key, total, feedback_count, correct, incorrect, accuracy_rate,
			reputation_hits, avg_confidence, phishing_flagged, avg_processing_ms,
			category_breakdown, source_breakdown, aggregated_at
		FROM daily_summaries
		WHERE user_id = ? AND day_key = ?
	`), userID, dayKey(day))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query daily summary: %w", err)
	}

	d, err := time.Parse("2006-01-02", row.DayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse summary day: %w", err)
	}
	summary := &core.DailySummary{
		UserID:          row.UserID,
		Day:             d,
		Total:           row.Total,
		FeedbackCount:   row.FeedbackCount,
		Correct:         row.Correct,
		Incorrect:       row.Incorrect,
		AccuracyRate:    row.AccuracyRate,
		ReputationHits:  row.ReputationHits,
		AvgConfidence:   row.AvgConfidence,
		PhishingFlagged: row.PhishingFlagged,
		AvgProcessingMs: row.AvgProcessingMs,
		AggregatedAt:    row.AggregatedAt,
	}
	if err := fromJSON(row.CategoryBreakdown, &summary.CategoryBreakdown); err != nil {
		return nil, err
	}
	if err := fromJSON(row.SourceBreakdown, &summary.SourceBreakdown); err != nil {
		return nil, err
	}
	return summary, nil
}
