package classifier

import (
	"strings"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/phishing"
	"github.com/mikey/mail-trust/internal/reputation"
)

const (
	keywordConfidence = 0.6
	defaultConfidence = 0.3
	bodyScanLimit     = 2000
)

type keywordRule struct {
	category core.Category
	domains  []string
	headers  []string
	keywords []string
}

// keywordRules are checked in order; the first hit wins
var keywordRules = []keywordRule{
	{
		category: core.CategorySocial,
		domains:  []string{"facebookmail.com", "linkedin.com", "twitter.com", "x.com", "instagram.com", "pinterest.com", "reddit.com"},
		keywords: []string{"friend request", "mentioned you", "tagged you", "commented on", "new follower", "invitation to connect"},
	},
	{
		category: core.CategoryTransaction,
		keywords: []string{"receipt", "your order", "order confirmation", "invoice", "payment received", "has shipped", "delivery", "statement is ready", "booking confirmation"},
	},
	{
		category: core.CategoryPromotion,
		keywords: []string{"% off", "sale ends", "discount", "coupon", "limited time", "free shipping", "exclusive offer", "deal of the day"},
	},
	{
		category: core.CategoryNewsletter,
		headers:  []string{"List-Unsubscribe", "List-Id"},
		keywords: []string{"newsletter", "weekly digest", "daily digest", "unsubscribe"},
	},
	{
		category: core.CategoryWork,
		keywords: []string{"meeting", "agenda", "standup", "project update", "quarterly", "deadline", "pull request", "code review"},
	},
}

// heuristicDecision classifies without the oracle. Order: phishing threat, learned sender
// history, header and keyword hints, then the personal default.
func heuristicDecision(email *core.Email, assessment *core.PhishingAssessment, lookup reputation.LookupResult) reputation.PipelineDecision {
	if phishing.IsThreat(assessment) {
		return reputation.PipelineDecision{
			Category:   core.CategorySpam,
			Source:     core.SourceRuleBased,
			Confidence: float64(assessment.Score) / 100,
		}
	}

	if lookup.Found && lookup.SuggestedCategory != "" {
		return reputation.PipelineDecision{
			Category:   lookup.SuggestedCategory,
			Source:     core.SourceLearned,
			Confidence: lookup.Reputation.Confidence,
		}
	}

	if category, ok := keywordCategory(email); ok {
		return reputation.PipelineDecision{
			Category:   category,
			Source:     core.SourceKeyword,
			Confidence: keywordConfidence,
		}
	}

	return reputation.PipelineDecision{
		Category:   core.CategoryPersonal,
		Source:     core.SourceKeyword,
		Confidence: defaultConfidence,
	}
}

func keywordCategory(email *core.Email) (core.Category, bool) {
	domain := core.DomainOf(core.NormalizeAddress(email.From))
	body := email.Body
	if len(body) > bodyScanLimit {
		body = body[:bodyScanLimit]
	}
	text := strings.ToLower(email.Subject + " " + body)

	for _, rule := range keywordRules {
		for _, d := range rule.domains {
			if domain == d || strings.HasSuffix(domain, "."+d) {
				return rule.category, true
			}
		}
		for _, h := range rule.headers {
			if email.Header(h) != "" {
				return rule.category, true
			}
		}
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.category, true
			}
		}
	}
	return "", false
}
