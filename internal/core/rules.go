package core

import "time"

// MatchMode combines the predicates of a condition group
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// Field is one extractable message attribute a condition can test
type Field string

const (
	FieldSender     Field = "sender"
	FieldSenderName Field = "sender_name"
	FieldSubject    Field = "subject"
	FieldCategory   Field = "category"
	FieldPriority   Field = "priority"
	FieldIsRead     Field = "is_read"
	FieldIsStarred  Field = "is_starred"
	FieldAgeDays    Field = "age_days"
)

// Operator compares a field value with a condition value
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Condition is a single field-operator-value predicate.
// Value carries whatever JSON decoded into it: string, float64 or bool.
type Condition struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// ConditionGroup is the boolean tree evaluated against a message
type ConditionGroup struct {
	Match MatchMode   `json:"match"`
	Rules []Condition `json:"rules"`
}

// ActionType names a message mutation
type ActionType string

const (
	ActionArchive     ActionType = "archive"
	ActionDelete      ActionType = "delete"
	ActionMarkRead    ActionType = "mark_read"
	ActionMarkUnread  ActionType = "mark_unread"
	ActionSetPriority ActionType = "set_priority"
	ActionSetCategory ActionType = "set_category"
	ActionAddLabel    ActionType = "add_label"
)

// Action is one mutation with its type-specific parameters
type Action struct {
	Type     ActionType `json:"type"`
	Label    string     `json:"label,omitempty"`
	Category Category   `json:"category,omitempty"`
	Priority int        `json:"priority,omitempty"`
}

// RunFrequency is how often the scheduler sweeps a rule
type RunFrequency string

const (
	FrequencyManual RunFrequency = "manual"
	FrequencyHourly RunFrequency = "hourly"
	FrequencyDaily  RunFrequency = "daily"
)

// Interval returns the minimum gap between scheduled runs; zero means never scheduled
func (f RunFrequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// AutomationRule is a user or system defined condition/action rule
type AutomationRule struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Active         bool           `json:"active"`
	System         bool           `json:"system"`
	Conditions     ConditionGroup `json:"conditions"`
	Actions        []Action       `json:"actions"`
	Frequency      RunFrequency   `json:"frequency"`
	RunCount       int            `json:"run_count"`
	EmailsAffected int            `json:"emails_affected"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// RunStatus is the state of one rule execution
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ActionOutcome is the result of applying one action to one message
type ActionOutcome struct {
	Action  ActionType `json:"action"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}

// MessageOutcome lists the actions applied to one matched message
type MessageOutcome struct {
	MessageID string          `json:"message_id"`
	Actions   []ActionOutcome `json:"actions"`
}

// Affected reports whether at least one action succeeded
func (m MessageOutcome) Affected() bool {
	for _, a := range m.Actions {
		if a.Success {
			return true
		}
	}
	return false
}

// RunLog is the immutable record of one rule execution
type RunLog struct {
	ID             string           `json:"id"`
	RuleID         string           `json:"rule_id"`
	UserID         string           `json:"user_id"`
	Status         RunStatus        `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	EmailsScanned  int              `json:"emails_scanned"`
	EmailsAffected int              `json:"emails_affected"`
	Outcomes       []MessageOutcome `json:"outcomes"`
	Error          string           `json:"error,omitempty"`
}
