package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

// ErrInvalidRule is returned when a rule definition cannot be executed
var ErrInvalidRule = errors.New("invalid rule")

// DefaultRules returns the system rules offered to every new user. They start inactive.
func DefaultRules(userID string) []*core.AutomationRule {
	return []*core.AutomationRule{
		{
			UserID:      userID,
			Name:        "Archive read newsletters",
			Description: "Archive newsletters that were read more than a week ago",
			System:      true,
			Conditions: core.ConditionGroup{Match: core.MatchAll, Rules: []core.Condition{
				{Field: core.FieldCategory, Operator: core.OpEquals, Value: string(core.CategoryNewsletter)},
				{Field: core.FieldIsRead, Operator: core.OpEquals, Value: true},
				{Field: core.FieldAgeDays, Operator: core.OpGreaterThan, Value: float64(7)},
			}},
			Actions:   []core.Action{{Type: core.ActionArchive}},
			Frequency: core.FrequencyDaily,
		},
		{
			UserID:      userID,
			Name:        "Delete old promotions",
			Description: "Delete promotions older than a month",
			System:      true,
			Conditions: core.ConditionGroup{Match: core.MatchAll, Rules: []core.Condition{
				{Field: core.FieldCategory, Operator: core.OpEquals, Value: string(core.CategoryPromotion)},
				{Field: core.FieldAgeDays, Operator: core.OpGreaterThan, Value: float64(30)},
			}},
			Actions:   []core.Action{{Type: core.ActionDelete}},
			Frequency: core.FrequencyDaily,
		},
		{
			UserID:      userID,
			Name:        "Label receipts",
			Description: "Label transactional mail as receipts",
			System:      true,
			Conditions: core.ConditionGroup{Match: core.MatchAny, Rules: []core.Condition{
				{Field: core.FieldCategory, Operator: core.OpEquals, Value: string(core.CategoryTransaction)},
				{Field: core.FieldSubject, Operator: core.OpContains, Value: "receipt"},
			}},
			Actions:   []core.Action{{Type: core.ActionAddLabel, Label: "Receipts"}},
			Frequency: core.FrequencyHourly,
		},
		{
			UserID:      userID,
			Name:        "Prioritize unread work",
			Description: "Raise the priority of unread work mail",
			System:      true,
			Conditions: core.ConditionGroup{Match: core.MatchAll, Rules: []core.Condition{
				{Field: core.FieldCategory, Operator: core.OpEquals, Value: string(core.CategoryWork)},
				{Field: core.FieldIsRead, Operator: core.OpEquals, Value: false},
			}},
			Actions:   []core.Action{{Type: core.ActionSetPriority, Priority: 1}},
			Frequency: core.FrequencyManual,
		},
	}
}

// EnsureDefaults creates the system rules for a user who has none yet
func (e *Engine) EnsureDefaults(ctx context.Context, userID string) error {
	existing, err := e.rules.ListRules(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	for _, r := range existing {
		if r.System {
			return nil
		}
	}

	for _, rule := range DefaultRules(userID) {
		if _, err := e.CreateRule(ctx, rule); err != nil {
			return err
		}
	}
	e.logger.Info("Created default rules", zap.String("user_id", userID))
	return nil
}

// CreateRule validates and stores a new rule
func (e *Engine) CreateRule(ctx context.Context, rule *core.AutomationRule) (*core.AutomationRule, error) {
	if err := Validate(rule); err != nil {
		return nil, err
	}
	if rule.Frequency == "" {
		rule.Frequency = core.FrequencyManual
	}
	now := e.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.RunCount = 0
	rule.EmailsAffected = 0
	rule.LastRunAt = nil

	if err := e.rules.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

// Toggle activates or deactivates a rule
func (e *Engine) Toggle(ctx context.Context, ruleID string, active bool) (*core.AutomationRule, error) {
	rule, err := e.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	if rule.Active == active {
		return rule, nil
	}
	rule.Active = active
	rule.UpdatedAt = e.now()
	if err := e.rules.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule, nil
}

// GetRule retrieves a rule by id
func (e *Engine) GetRule(ctx context.Context, ruleID string) (*core.AutomationRule, error) {
	return e.rules.GetRule(ctx, ruleID)
}

// ListRules returns every rule the user owns
func (e *Engine) ListRules(ctx context.Context, userID string) ([]*core.AutomationRule, error) {
	return e.rules.ListRules(ctx, userID)
}

// RunLogs returns the most recent run logs of a rule, newest first
func (e *Engine) RunLogs(ctx context.Context, ruleID string, limit int) ([]*core.RunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.rules.ListRunLogs(ctx, ruleID, limit)
}

// Validate checks that a rule only uses known fields, operators and actions
func Validate(rule *core.AutomationRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if strings.TrimSpace(rule.UserID) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidRule)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if rule.Conditions.Match != core.MatchAll && rule.Conditions.Match != core.MatchAny {
		return fmt.Errorf("%w: unknown match mode %q", ErrInvalidRule, rule.Conditions.Match)
	}
	if len(rule.Conditions.Rules) == 0 {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidRule)
	}
	for _, c := range rule.Conditions.Rules {
		switch c.Field {
		case core.FieldSender, core.FieldSenderName, core.FieldSubject, core.FieldCategory,
			core.FieldPriority, core.FieldIsRead, core.FieldIsStarred, core.FieldAgeDays:
		default:
			return fmt.Errorf("%w: unknown field %q", ErrInvalidRule, c.Field)
		}
		switch c.Operator {
		case core.OpEquals, core.OpNotEquals, core.OpContains, core.OpNotContains, core.OpGreaterThan, core.OpLessThan:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, c.Operator)
		}
	}

	if len(rule.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRule)
	}
	for _, a := range rule.Actions {
		switch a.Type {
		case core.ActionArchive, core.ActionDelete, core.ActionMarkRead, core.ActionMarkUnread, core.ActionSetPriority:
		case core.ActionSetCategory:
			if _, ok := core.ParseCategory(string(a.Category)); !ok {
				return fmt.Errorf("%w: unknown category %q", ErrInvalidRule, a.Category)
			}
		case core.ActionAddLabel:
			if strings.TrimSpace(a.Label) == "" {
				return fmt.Errorf("%w: add_label needs a label", ErrInvalidRule)
			}
		default:
			return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, a.Type)
		}
	}

	switch rule.Frequency {
	case "", core.FrequencyManual, core.FrequencyHourly, core.FrequencyDaily:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, rule.Frequency)
	}
	return nil
}
