package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

// applyActions runs every action of the rule against one email in declared order.
// Each action's outcome is recorded on its own and a failure never stops the next action.
func (e *Engine) applyActions(ctx context.Context, rule *core.AutomationRule, email *core.Email) core.MessageOutcome {
	outcome := core.MessageOutcome{MessageID: email.ID, Actions: make([]core.ActionOutcome, 0, len(rule.Actions))}

	for _, action := range rule.Actions {
		result := core.ActionOutcome{Action: action.Type, Success: true}
		if err := e.applyAction(ctx, rule.UserID, email, action); err != nil {
			result.Success = false
			result.Error = err.Error()
			e.logger.Warn("Rule action failed",
				zap.String("rule_id", rule.ID),
				zap.String("email_id", email.ID),
				zap.String("action", string(action.Type)),
				zap.Error(err))
		}
		actionsApplied.WithLabelValues(string(action.Type), outcomeLabel(result.Success)).Inc()
		outcome.Actions = append(outcome.Actions, result)
	}
	return outcome
}

func (e *Engine) applyAction(ctx context.Context, ownerID string, email *core.Email, action core.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var patch core.EmailPatch
	switch action.Type {
	case core.ActionArchive:
		patch.IsArchived = boolPtr(true)
	case core.ActionDelete:
		patch.IsDeleted = boolPtr(true)
	case core.ActionMarkRead:
		patch.IsRead = boolPtr(true)
	case core.ActionMarkUnread:
		patch.IsRead = boolPtr(false)
	case core.ActionSetPriority:
		p := action.Priority
		patch.Priority = &p
	case core.ActionSetCategory:
		c, ok := core.ParseCategory(string(action.Category))
		if !ok {
			return fmt.Errorf("unknown category %q", action.Category)
		}
		patch.Category = &c
	case core.ActionAddLabel:
		return e.addLabel(ctx, ownerID, email, action.Label)
	default:
		return fmt.Errorf("unknown action %q", action.Type)
	}

	if err := e.messages.PatchEmail(ctx, email.ID, patch); err != nil {
		return fmt.Errorf("failed to update email: %w", err)
	}
	applyPatch(email, patch)
	return nil
}

// addLabel gets or creates the owner's label by name, then associates it with the email
func (e *Engine) addLabel(ctx context.Context, ownerID string, email *core.Email, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("label name is empty")
	}
	label, err := e.labels.UpsertLabel(ctx, ownerID, name)
	if err != nil {
		return fmt.Errorf("failed to upsert label: %w", err)
	}
	if err := e.labels.AttachLabel(ctx, email.ID, label.ID); err != nil {
		return fmt.Errorf("failed to attach label: %w", err)
	}
	for _, l := range email.Labels {
		if strings.EqualFold(l, label.Name) {
			return nil
		}
	}
	email.Labels = append(email.Labels, label.Name)
	return nil
}

// applyPatch mirrors a persisted patch onto the in-memory email so later rules see it
func applyPatch(email *core.Email, patch core.EmailPatch) {
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
}

func boolPtr(b bool) *bool {
	return &b
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
