package phishing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/domainset"
	"github.com/mikey/mail-trust/internal/utils"
	"go.uber.org/zap"
)

const (
	blacklistSeverity     = 50
	suspiciousTLDSeverity = 20
	displayNameSeverity   = 35
	comboSeverity         = 20

	maxScore          = 100
	whitelistScoreCap = 30
	maxReasons        = 10

	phishingThreshold = 70
	reviewThreshold   = 50
)

var suspiciousTLDs = map[string]struct{}{
	"tk": {}, "ml": {}, "ga": {}, "cf": {}, "gq": {}, "xyz": {}, "top": {}, "work": {}, "click": {},
	"link": {}, "zip": {}, "review": {}, "country": {}, "kim": {}, "loan": {}, "racing": {}, "men": {},
	"date": {}, "party": {}, "buzz": {}, "rest": {}, "fit": {}, "support": {},
}

// brands are display-name keywords that must be backed by a matching sender domain
var brands = []string{
	"paypal", "apple", "microsoft", "amazon", "google", "netflix", "facebook", "instagram",
	"linkedin", "chase", "wells fargo", "bank of america", "irs", "dhl", "fedex", "docusign", "dropbox",
	"bank",
}

// Detector scores messages for phishing with domain and content heuristics
type Detector struct {
	cache  *PatternCache
	text   *utils.TextProcessor
	logger *zap.Logger
	now    func() time.Time
}

// NewDetector creates a new phishing detector over an owned pattern cache
func NewDetector(cache *PatternCache, text *utils.TextProcessor, logger *zap.Logger) *Detector {
	return &Detector{
		cache:  cache,
		text:   text,
		logger: logger,
		now:    time.Now,
	}
}

// Assess computes a fresh phishing assessment. It makes no external calls beyond the
// pattern cache and never fails.
func (d *Detector) Assess(ctx context.Context, email *core.Email) *core.PhishingAssessment {
	snap := d.cache.Snapshot(ctx)

	domain := core.DomainOf(core.NormalizeAddress(email.From))
	findings, whitelisted := analyzeDomain(domain, email.FromName, snap)

	body := d.text.BodyText(email.Body, email.HTMLBody)
	findings = append(findings, analyzeContent(strings.ToLower(email.Subject+" "+body), snap)...)
	findings = append(findings, analyzeURLs(extractURLs(email.Body+" "+email.HTMLBody), snap)...)

	if hasCombo(findings) {
		findings = append(findings, core.Finding{
			Type:        core.FindingComboAttack,
			Pattern:     "urgency+threat+request",
			Severity:    comboSeverity,
			Description: "Urgency, threat and sensitive request appear together",
		})
	}

	assessment := aggregate(findings, whitelisted, d.now())
	assessments.WithLabelValues(string(assessment.Risk)).Inc()

	if assessment.Score > 0 {
		d.logger.Debug("Phishing assessment",
			zap.String("email_id", email.ID),
			zap.String("domain", domain),
			zap.Int("score", assessment.Score),
			zap.String("risk", string(assessment.Risk)))
	}
	return assessment
}

// Rescan recomputes the assessment unless the previous one was marked safe, which is terminal
func (d *Detector) Rescan(ctx context.Context, email *core.Email) *core.PhishingAssessment {
	if email.Phishing != nil && email.Phishing.MarkedSafe {
		return email.Phishing
	}
	return d.Assess(ctx, email)
}

// MarkSafe returns a copy of the assessment carrying the user's terminal override.
// The score and reasons are preserved.
func MarkSafe(a *core.PhishingAssessment, at time.Time) *core.PhishingAssessment {
	out := &core.PhishingAssessment{Risk: core.RiskSafe, ScannedAt: at}
	if a != nil {
		*out = *a
		out.Reasons = append([]core.Finding(nil), a.Reasons...)
	}
	out.MarkedSafe = true
	return out
}

// IsThreat reports whether an assessment should be treated as phishing
func IsThreat(a *core.PhishingAssessment) bool {
	return a != nil && a.IsPhishing && !a.MarkedSafe
}

func analyzeDomain(domain, displayName string, snap *Snapshot) ([]core.Finding, bool) {
	if domain == "" {
		return nil, false
	}

	var findings []core.Finding
	if entry, ok := snap.Blacklist.Match(domain); ok {
		findings = append(findings, core.Finding{
			Type:        core.FindingBlacklistedDomain,
			Pattern:     entry,
			Severity:    blacklistSeverity,
			Description: fmt.Sprintf("Sender domain %s is blacklisted", domain),
		})
	}

	if snap.Whitelist.Contains(domain) {
		return findings, true
	}

	if tld := topLevel(domain); isSuspiciousTLD(tld) {
		findings = append(findings, core.Finding{
			Type:        core.FindingSuspiciousTLD,
			Pattern:     "." + tld,
			Severity:    suspiciousTLDSeverity,
			Description: fmt.Sprintf("Sender domain uses the high-risk .%s top-level domain", tld),
		})
	}

	findings = append(findings, spoofFindings(domain, snap.Whitelist)...)

	if f := displayNameMismatch(displayName, domain); f != nil {
		findings = append(findings, *f)
	}

	return findings, false
}

func displayNameMismatch(displayName, domain string) *core.Finding {
	name := strings.ToLower(displayName)
	if name == "" {
		return nil
	}
	compact := strings.ReplaceAll(domain, "-", "")
	for _, brand := range brands {
		if !containsWord(name, brand) {
			continue
		}
		if strings.Contains(compact, strings.ReplaceAll(brand, " ", "")) {
			return nil
		}
		return &core.Finding{
			Type:        core.FindingDisplayNameMismatch,
			Pattern:     brand,
			Severity:    displayNameSeverity,
			Description: fmt.Sprintf("Display name mentions %q but the sender domain is %s", brand, domain),
		}
	}
	return nil
}

// containsWord reports whether word appears in s on letter boundaries
func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

func topLevel(domain string) string {
	if dot := strings.LastIndexByte(domain, '.'); dot >= 0 {
		return domain[dot+1:]
	}
	return domain
}

func isSuspiciousTLD(tld string) bool {
	_, ok := suspiciousTLDs[domainset.Normalize(tld)]
	return ok
}

func analyzeContent(text string, snap *Snapshot) []core.Finding {
	var findings []core.Finding
	for _, p := range snap.patterns {
		if !p.matches(text) {
			continue
		}
		findings = append(findings, core.Finding{
			Type:        p.Type,
			Pattern:     p.Pattern,
			Severity:    p.Severity,
			Description: fmt.Sprintf("Content matches %s pattern %q", p.Type, p.Pattern),
		})
	}
	return findings
}

func hasCombo(findings []core.Finding) bool {
	var urgency, threat, request bool
	for _, f := range findings {
		switch f.Type {
		case core.FindingUrgency:
			urgency = true
		case core.FindingThreat:
			threat = true
		case core.FindingSensitiveRequest:
			request = true
		}
	}
	return urgency && threat && request
}

// aggregate deduplicates findings, sums and caps the score and keeps the strongest reasons
func aggregate(findings []core.Finding, whitelisted bool, at time.Time) *core.PhishingAssessment {
	type findingKey struct {
		typ     core.FindingType
		pattern string
	}
	seen := make(map[findingKey]struct{}, len(findings))
	unique := make([]core.Finding, 0, len(findings))
	score := 0
	for _, f := range findings {
		k := findingKey{f.Type, f.Pattern}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, f)
		score += f.Severity
	}

	score = min(max(score, 0), maxScore)
	if whitelisted {
		score = min(score, whitelistScoreCap)
	}

	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Severity > unique[j].Severity })
	if len(unique) > maxReasons {
		unique = unique[:maxReasons]
	}

	return &core.PhishingAssessment{
		Score:          score,
		Risk:           core.RiskBandFor(score),
		Reasons:        unique,
		IsPhishing:     score >= phishingThreshold,
		RequiresReview: score >= reviewThreshold,
		ScannedAt:      at,
	}
}
