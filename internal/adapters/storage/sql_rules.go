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

type ruleRow struct {
	ID             string       `db:"id"`
	UserID         string       `db:"user_id"`
	Name           string       `db:"name"`
	Description    string       `db:"description"`
	Active         bool         `db:"active"`
	System         bool         `db:"is_system"`
	Conditions     string       `db:"conditions"`
	Actions        string       `db:"actions"`
	Frequency      string       `db:"frequency"`
	RunCount       int          `db:"run_count"`
	EmailsAffected int          `db:"emails_affected"`
	LastRunAt      sql.NullTime `db:"last_run_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

const ruleColumns = `id, user_id, name, description, active, is_system, conditions, actions,
	frequency, run_count, emails_affected, last_run_at, created_at, updated_at`

func (r ruleRow) toModel() (*core.AutomationRule, error) {
	rule := &core.AutomationRule{
		ID:             r.ID,
		UserID:         r.UserID,
		Name:           r.Name,
		Description:    r.Description,
		Active:         r.Active,
		System:         r.System,
		Frequency:      core.RunFrequency(r.Frequency),
		RunCount:       r.RunCount,
		EmailsAffected: r.EmailsAffected,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastRunAt.Valid {
		t := r.LastRunAt.Time
		rule.LastRunAt = &t
	}
	if err := fromJSON(r.Conditions, &rule.Conditions); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Actions, &rule.Actions); err != nil {
		return nil, err
	}
	return rule, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// CreateRule stores a new rule
func (s *SQLStore) CreateRule(ctx context.Context, rule *core.AutomationRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	conditions, err := toJSON(rule.Conditions)
	if err != nil {
		return err
	}
	actions, err := toJSON(rule.Actions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO automation_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rule.ID, rule.UserID, rule.Name, rule.Description, rule.Active, rule.System,
		conditions, actions, string(rule.Frequency), rule.RunCount, rule.EmailsAffected,
		nullTime(rule.LastRunAt), rule.CreatedAt.UTC(), rule.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// UpdateRule replaces a rule's definition, leaving its run statistics untouched
func (s *SQLStore) UpdateRule(ctx context.Context, rule *core.AutomationRule) error {
	conditions, err := toJSON(rule.Conditions)
	if err != nil {
		return err
	}
	actions, err := toJSON(rule.Actions)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE automation_rules
		SET name = ?, description = ?, active = ?, is_system = ?, conditions = ?, actions = ?,
			frequency = ?, updated_at = ?
		WHERE id = ?
	`), rule.Name, rule.Description, rule.Active, rule.System, conditions, actions,
		string(rule.Frequency), rule.UpdatedAt.UTC(), rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports zero affected rows for an unchanged row, so confirm it exists
		if _, err := s.GetRule(ctx, rule.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetRule retrieves a rule by id
func (s *SQLStore) GetRule(ctx context.Context, ruleID string) (*core.AutomationRule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+ruleColumns+` FROM automation_rules WHERE id = ?`), ruleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	return row.toModel()
}

// ListRules returns a user's rules in creation order
func (s *SQLStore) ListRules(ctx context.Context, userID string) ([]*core.AutomationRule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE user_id = ?
		ORDER BY created_at, id
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	out := make([]*core.AutomationRule, 0, len(rows))
	for _, r := range rows {
		rule, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// ListActiveRuleOwners returns the sorted set of users with an active rule
func (s *SQLStore) ListActiveRuleOwners(ctx context.Context) ([]string, error) {
	var owners []string
	err := s.db.SelectContext(ctx, &owners, s.q(`
		SELECT DISTINCT user_id FROM automation_rules WHERE active = ? ORDER BY user_id
	`), true)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule owners: %w", err)
	}
	return owners, nil
}

// RecordRuleRun bumps a rule's cumulative counters in a single statement
func (s *SQLStore) RecordRuleRun(ctx context.Context, ruleID string, affected int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE automation_rules
		SET run_count = run_count + 1, emails_affected = emails_affected + ?, last_run_at = ?
		WHERE id = ?
	`), affected, at.UTC(), ruleID)
	if err != nil {
		return fmt.Errorf("failed to record rule run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// RecordRuleAffected adds to a rule's affected counter without counting a run
func (s *SQLStore) RecordRuleAffected(ctx context.Context, ruleID string, affected int) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE automation_rules SET emails_affected = emails_affected + ? WHERE id = ?
	`), affected, ruleID)
	if err != nil {
		return fmt.Errorf("failed to record rule effect: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

type runLogRow struct {
	ID             string       `db:"id"`
	RuleID         string       `db:"rule_id"`
	UserID         string       `db:"user_id"`
	Status         string       `db:"status"`
	StartedAt      time.Time    `db:"started_at"`
	FinishedAt     sql.NullTime `db:"finished_at"`
	EmailsScanned  int          `db:"emails_scanned"`
	EmailsAffected int          `db:"emails_affected"`
	Outcomes       string       `db:"outcomes"`
	Error          string       `db:"error_message"`
}

// AppendRunLog stores an immutable run log
func (s *SQLStore) AppendRunLog(ctx context.Context, log *core.RunLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	outcomes, err := toJSON(log.Outcomes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO rule_run_logs (id, rule_id, user_id, status, started_at, finished_at,
			emails_scanned, emails_affected, outcomes, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), log.ID, log.RuleID, log.UserID, string(log.Status), log.StartedAt.UTC(), nullTime(log.FinishedAt),
		log.EmailsScanned, log.EmailsAffected, outcomes, log.Error)
	if err != nil {
		return fmt.Errorf("failed to insert run log: %w", err)
	}
	return nil
}

// ListRunLogs returns a rule's most recent run logs, newest first
func (s *SQLStore) ListRunLogs(ctx context.Context, ruleID string, limit int) ([]*core.RunLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []runLogRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT id, rule_id, user_id, status, started_at, finished_at, emails_scanned,
			emails_affected, outcomes, error_message
		FROM rule_run_logs
		WHERE rule_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`), ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs: %w", err)
	}

	out := make([]*core.RunLog, 0, len(rows))
	for _, r := range rows {
		log := &core.RunLog{
			ID:             r.ID,
			RuleID:         r.RuleID,
			UserID:         r.UserID,
			Status:         core.RunStatus(r.Status),
			StartedAt:      r.StartedAt,
			EmailsScanned:  r.EmailsScanned,
			EmailsAffected: r.EmailsAffected,
			Error:          r.Error,
		}
		if r.FinishedAt.Valid {
			t := r.FinishedAt.Time
			log.FinishedAt = &t
		}
		if err := fromJSON(r.Outcomes, &log.Outcomes); err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, nil
}

// UpsertLabel returns the owner's label with the given name. Concurrent creators race on the
// (owner, name) unique key and the loser reads the winner's row.
func (s *SQLStore) UpsertLabel(ctx context.Context, ownerID, name string) (*core.Label, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("label name is empty")
	}
	nameKey := strings.ToLower(name)

	label := &core.Label{ID: uuid.NewString(), OwnerID: ownerID, Name: name, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO labels (id, owner_id, name, name_key, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), label.ID, label.OwnerID, label.Name, nameKey, label.CreatedAt)
	if err == nil {
		return label, nil
	}
	if !isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to insert label: %w", err)
	}

	var existing struct {
		ID        string    `db:"id"`
		OwnerID   string    `db:"owner_id"`
		Name      string    `db:"name"`
		CreatedAt time.Time `db:"created_at"`
	}
	err = s.db.GetContext(ctx, &existing, s.q(`
		SELECT id, owner_id, name, created_at FROM labels WHERE owner_id = ? AND name_key = ?
	`), ownerID, nameKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query label: %w", err)
	}
	return &core.Label{ID: existing.ID, OwnerID: existing.OwnerID, Name: existing.Name, CreatedAt: existing.CreatedAt}, nil
}

// AttachLabel associates a label with an email
func (s *SQLStore) AttachLabel(ctx context.Context, emailID, labelID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO email_labels (email_id, label_id) VALUES (?, ?)`), emailID, labelID)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("failed to attach label: %w", err)
	}
	return nil
}
