package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mikey/mail-trust/internal/core"
)

// fieldValue is the typed accessor for the closed set of rule fields. It returns a string,
// float64 or bool, and false for fields it does not know.
func fieldValue(email *core.Email, field core.Field, now time.Time) (any, bool) {
	switch field {
	case core.FieldSender:
		return core.NormalizeAddress(email.From), true
	case core.FieldSenderName:
		return email.FromName, true
	case core.FieldSubject:
		return email.Subject, true
	case core.FieldCategory:
		return string(email.Category), true
	case core.FieldPriority:
		return float64(email.Priority), true
	case core.FieldIsRead:
		return email.IsRead, true
	case core.FieldIsStarred:
		return email.IsStarred, true
	case core.FieldAgeDays:
		if email.ReceivedAt.IsZero() {
			return nil, false
		}
		return math.Floor(now.Sub(email.ReceivedAt).Hours() / 24), true
	default:
		return nil, false
	}
}

// Evaluate reports whether the email satisfies the condition group at the given time.
// An empty group never matches; unknown match modes, fields and operators evaluate to false.
func Evaluate(group core.ConditionGroup, email *core.Email, now time.Time) bool {
	if email == nil || len(group.Rules) == 0 {
		return false
	}

	switch group.Match {
	case core.MatchAll:
		for _, c := range group.Rules {
			if !evaluateCondition(c, email, now) {
				return false
			}
		}
		return true
	case core.MatchAny:
		for _, c := range group.Rules {
			if evaluateCondition(c, email, now) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evaluateCondition(c core.Condition, email *core.Email, now time.Time) bool {
	actual, ok := fieldValue(email, c.Field, now)
	if !ok {
		return false
	}

	switch c.Operator {
	case core.OpEquals:
		eq, ok := equal(actual, c.Value)
		return ok && eq
	case core.OpNotEquals:
		eq, ok := equal(actual, c.Value)
		return ok && !eq
	case core.OpContains:
		in, ok := contains(actual, c.Value)
		return ok && in
	case core.OpNotContains:
		in, ok := contains(actual, c.Value)
		return ok && !in
	case core.OpGreaterThan:
		a, b, ok := numbers(actual, c.Value)
		return ok && a > b
	case core.OpLessThan:
		a, b, ok := numbers(actual, c.Value)
		return ok && a < b
	default:
		return false
	}
}

// equal compares a field value with a condition value of possibly different type.
// The second result is false when the two cannot be compared.
func equal(actual, expected any) (bool, bool) {
	switch a := actual.(type) {
	case string:
		s, ok := toString(expected)
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(s)), ok
	case float64:
		f, ok := toFloat(expected)
		return a == f, ok
	case bool:
		b, ok := toBool(expected)
		return a == b, ok
	}
	return false, false
}

func contains(actual, expected any) (bool, bool) {
	a, ok := actual.(string)
	if !ok {
		return false, false
	}
	s, ok := toString(expected)
	if !ok {
		return false, false
	}
	return strings.Contains(strings.ToLower(a), strings.ToLower(s)), true
}

func numbers(actual, expected any) (float64, float64, bool) {
	a, ok := toFloat(actual)
	if !ok {
		return 0, 0, false
	}
	b, ok := toFloat(expected)
	if !ok {
		return 0, 0, false
	}
	return a, b, true
}

func toString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64, int, int64, bool:
		return fmt.Sprint(x), true
	case nil:
		return "", false
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	case float64:
		return x != 0, x == 0 || x == 1
	}
	return false, false
}
