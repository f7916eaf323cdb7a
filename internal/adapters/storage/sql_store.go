package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// dialect holds the column types that differ between drivers
type dialect struct {
	key     string
	text    string
	ts      string
	float   string
	boolean string
	bigint  string
}

var dialects = map[string]dialect{
	DriverSQLite:   {key: "TEXT", text: "TEXT", ts: "TIMESTAMP", float: "REAL", boolean: "BOOLEAN", bigint: "INTEGER"},
	DriverMySQL:    {key: "VARCHAR(255)", text: "LONGTEXT", ts: "DATETIME(6)", float: "DOUBLE", boolean: "BOOLEAN", bigint: "BIGINT"},
	DriverPostgres: {key: "VARCHAR(255)", text: "TEXT", ts: "TIMESTAMPTZ", float: "DOUBLE PRECISION", boolean: "BOOLEAN", bigint: "BIGINT"},
}

// SQLStore is a relational implementation of core.Store backed by sqlx
type SQLStore struct {
	db          *sqlx.DB
	driver      string
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewSQLStore opens the database, creates the schema and starts log pruning when retention is set
func NewSQLStore(driver, dsn string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	// sqlite allows a single writer; a shared connection also keeps :memory: databases coherent
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	s := &SQLStore{
		db:          db,
		driver:      driver,
		logger:      logger,
		retention:   retention,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	if err := s.createSchema(d); err != nil {
		db.Close()
		return nil, err
	}

	if retention > 0 && cleanupFreq > 0 {
		go s.startCleanupTask()
	}

	return s, nil
}

func (s *SQLStore) createSchema(d dialect) error {
	r := strings.NewReplacer(
		"{key}", d.key,
		"{text}", d.text,
		"{ts}", d.ts,
		"{float}", d.float,
		"{bool}", d.boolean,
		"{bigint}", d.bigint,
	)

	for _, stmt := range schema {
		if _, err := s.db.Exec(r.Replace(stmt)); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, idx := range indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s", idx.name, idx.on)
		if s.driver == DriverMySQL {
			stmt = fmt.Sprintf("CREATE INDEX %s ON %s", idx.name, idx.on)
		}
		if _, err := s.db.Exec(stmt); err != nil && !isDuplicateIndex(err) {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sender_reputations (
		user_id {key} NOT NULL,
		sender_email {key} NOT NULL,
		domain {key} NOT NULL,
		primary_category {key} NOT NULL,
		category_scores {text} NOT NULL,
		total_emails INTEGER NOT NULL,
		user_overrides INTEGER NOT NULL,
		confidence {float} NOT NULL,
		last_seen {ts} NOT NULL,
		version {bigint} NOT NULL,
		PRIMARY KEY (user_id, sender_email)
	)`,
	`CREATE TABLE IF NOT EXISTS domain_reputations (
		user_id {key} NOT NULL,
		domain {key} NOT NULL,
		score {float} NOT NULL,
		trust_level {key} NOT NULL,
		total_emails INTEGER NOT NULL,
		opened INTEGER NOT NULL,
		replied INTEGER NOT NULL,
		archived INTEGER NOT NULL,
		deleted INTEGER NOT NULL,
		spam_reported INTEGER NOT NULL,
		phishing_reported INTEGER NOT NULL,
		open_rate {float} NOT NULL,
		reply_rate {float} NOT NULL,
		delete_rate {float} NOT NULL,
		category_distribution {text} NOT NULL,
		primary_category {key} NOT NULL,
		is_whitelisted {bool} NOT NULL,
		is_blacklisted {bool} NOT NULL,
		is_legitimate {bool} NOT NULL,
		first_seen {ts} NOT NULL,
		last_seen {ts} NOT NULL,
		version {bigint} NOT NULL,
		PRIMARY KEY (user_id, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS phishing_patterns (
		id {key} PRIMARY KEY,
		pattern_type {key} NOT NULL,
		pattern {text} NOT NULL,
		severity INTEGER NOT NULL,
		is_regex {bool} NOT NULL,
		active {bool} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS domain_lists (
		list_name {key} NOT NULL,
		domain {key} NOT NULL,
		reason {text} NOT NULL,
		PRIMARY KEY (list_name, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS automation_rules (
		id {key} PRIMARY KEY,
		user_id {key} NOT NULL,
		name {text} NOT NULL,
		description {text} NOT NULL,
		active {bool} NOT NULL,
		is_system {bool} NOT NULL,
		conditions {text} NOT NULL,
		actions {text} NOT NULL,
		frequency {key} NOT NULL,
		run_count INTEGER NOT NULL,
		emails_affected INTEGER NOT NULL,
		last_run_at {ts} NULL,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rule_run_logs (
		id {key} PRIMARY KEY,
		rule_id {key} NOT NULL,
		user_id {key} NOT NULL,
		status {key} NOT NULL,
		started_at {ts} NOT NULL,
		finished_at {ts} NULL,
		emails_scanned INTEGER NOT NULL,
		emails_affected INTEGER NOT NULL,
		outcomes {text} NOT NULL,
		error_message {text} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS labels (
		id {key} PRIMARY KEY,
		owner_id {key} NOT NULL,
		name {text} NOT NULL,
		name_key {key} NOT NULL,
		created_at {ts} NOT NULL,
		UNIQUE (owner_id, name_key)
	)`,
	`CREATE TABLE IF NOT EXISTS email_labels (
		email_id {key} NOT NULL,
		label_id {key} NOT NULL,
		PRIMARY KEY (email_id, label_id)
	)`,
	`CREATE TABLE IF NOT EXISTS emails (
		id {key} PRIMARY KEY,
		user_id {key} NOT NULL,
		from_addr {key} NOT NULL,
		from_name {text} NOT NULL,
		to_addrs {text} NOT NULL,
		subject {text} NOT NULL,
		body {text} NOT NULL,
		html_body {text} NOT NULL,
		headers {text} NOT NULL,
		received_at {ts} NOT NULL,
		category {key} NOT NULL,
		priority INTEGER NOT NULL,
		is_read {bool} NOT NULL,
		is_starred {bool} NOT NULL,
		is_archived {bool} NOT NULL,
		is_deleted {bool} NOT NULL,
		phishing {text} NULL
	)`,
	`CREATE TABLE IF NOT EXISTS classification_logs (
		id {key} PRIMARY KEY,
		user_id {key} NOT NULL,
		message_id {key} NOT NULL,
		sender_email {key} NOT NULL,
		sender_domain {key} NOT NULL,
		subject {text} NOT NULL,
		category {key} NOT NULL,
		confidence {float} NOT NULL,
		phishing_score INTEGER NOT NULL,
		source {key} NOT NULL,
		reputation_used {bool} NOT NULL,
		reputation_score {float} NOT NULL,
		processing_time_ms {bigint} NOT NULL,
		corrected_category {key} NULL,
		is_correct {bool} NULL,
		feedback_at {ts} NULL,
		created_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daily_summaries (
		user_id {key} NOT NULL,
		day_key {key} NOT NULL,
		total INTEGER NOT NULL,
		feedback_count INTEGER NOT NULL,
		correct INTEGER NOT NULL,
		incorrect INTEGER NOT NULL,
		accuracy_rate {float} NOT NULL,
		reputation_hits INTEGER NOT NULL,
		avg_confidence {float} NOT NULL,
		phishing_flagged INTEGER NOT NULL,
		avg_processing_ms {float} NOT NULL,
		category_breakdown {text} NOT NULL,
		source_breakdown {text} NOT NULL,
		aggregated_at {ts} NOT NULL,
		PRIMARY KEY (user_id, day_key)
	)`,
}

var indexes = []struct{ name, on string }{
	{"idx_emails_user_received", "emails(user_id, received_at)"},
	{"idx_rules_user", "automation_rules(user_id)"},
	{"idx_run_logs_rule", "rule_run_logs(rule_id, started_at)"},
	{"idx_class_logs_created", "classification_logs(created_at)"},
	{"idx_class_logs_message", "classification_logs(user_id, message_id)"},
}

// q rewrites ? placeholders into the driver's bindvar style
func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

// upsert returns the driver's clause for replacing the listed columns on a key conflict
func (s *SQLStore) upsert(conflict []string, update []string) string {
	sets := make([]string, len(update))
	if s.driver == DriverMySQL {
		for i, c := range update {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	for i, c := range update {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", "))
}

// isUniqueViolation reports whether err is a duplicate key error from any supported driver
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1061
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(b), nil
}

func fromJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

// Cleanup prunes run logs and classification logs older than the retention window
func (s *SQLStore) Cleanup(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.retention).UTC()

	runs, err := s.db.ExecContext(ctx, s.q(`DELETE FROM rule_run_logs WHERE started_at < ?`), cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune run logs: %w", err)
	}
	logs, err := s.db.ExecContext(ctx, s.q(`DELETE FROM classification_logs WHERE created_at < ?`), cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune classification logs: %w", err)
	}

	runCount, _ := runs.RowsAffected()
	logCount, _ := logs.RowsAffected()
	s.logger.Debug("Pruned expired log entries",
		zap.Int64("run_logs", runCount),
		zap.Int64("classification_logs", logCount))
	return nil
}

func (s *SQLStore) startCleanupTask() {
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

// Close stops the cleanup task and closes the database connection
func (s *SQLStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s database: %w", s.driver, err)
	}
	return nil
}
