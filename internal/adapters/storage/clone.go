package storage

import (
	"maps"
	"slices"
	"time"

	"github.com/mikey/mail-trust/internal/core"
)

func cloneSender(r *core.SenderReputation) *core.SenderReputation {
	c := *r
	c.CategoryScores = slices.Clone(r.CategoryScores)
	return &c
}

func cloneDomain(r *core.DomainReputation) *core.DomainReputation {
	c := *r
	c.CategoryDistribution = slices.Clone(r.CategoryDistribution)
	return &c
}

func cloneAssessment(a *core.PhishingAssessment) *core.PhishingAssessment {
	if a == nil {
		return nil
	}
	c := *a
	c.Reasons = slices.Clone(a.Reasons)
	return &c
}

func cloneEmail(e *core.Email) *core.Email {
	c := *e
	c.To = slices.Clone(e.To)
	c.Labels = slices.Clone(e.Labels)
	c.Phishing = cloneAssessment(e.Phishing)
	if e.Headers != nil {
		c.Headers = make(map[string][]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = slices.Clone(v)
		}
	}
	return &c
}

func cloneRule(r *core.AutomationRule) *core.AutomationRule {
	c := *r
	c.Conditions.Rules = slices.Clone(r.Conditions.Rules)
	c.Actions = slices.Clone(r.Actions)
	c.LastRunAt = cloneTime(r.LastRunAt)
	return &c
}

func cloneRunLog(l *core.RunLog) *core.RunLog {
	c := *l
	c.FinishedAt = cloneTime(l.FinishedAt)
	c.Outcomes = make([]core.MessageOutcome, len(l.Outcomes))
	for i, o := range l.Outcomes {
		c.Outcomes[i] = core.MessageOutcome{MessageID: o.MessageID, Actions: slices.Clone(o.Actions)}
	}
	return &c
}

func cloneLogEntry(e *core.ClassificationLogEntry) *core.ClassificationLogEntry {
	c := *e
	if e.CorrectedCategory != nil {
		cat := *e.CorrectedCategory
		c.CorrectedCategory = &cat
	}
	if e.IsCorrect != nil {
		ok := *e.IsCorrect
		c.IsCorrect = &ok
	}
	c.FeedbackAt = cloneTime(e.FeedbackAt)
	return &c
}

func cloneSummary(s *core.DailySummary) *core.DailySummary {
	c := *s
	c.CategoryBreakdown = maps.Clone(s.CategoryBreakdown)
	c.SourceBreakdown = maps.Clone(s.SourceBreakdown)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// dayKey truncates a timestamp to its UTC calendar day
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
