package core

import (
	"strings"
	"time"
)

// Category is the mailbox category assigned to a message
type Category string

const (
	CategoryWork        Category = "work"
	CategoryPersonal    Category = "personal"
	CategoryTransaction Category = "transaction"
	CategoryNewsletter  Category = "newsletter"
	CategoryPromotion   Category = "promotion"
	CategorySocial      Category = "social"
	CategorySpam        Category = "spam"
)

// Categories lists every known category in declaration order
var Categories = []Category{
	CategoryWork,
	CategoryPersonal,
	CategoryTransaction,
	CategoryNewsletter,
	CategoryPromotion,
	CategorySocial,
	CategorySpam,
}

// ParseCategory converts a free-form string into a known category
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// ClassificationSource records which path produced a category
type ClassificationSource string

const (
	SourceSenderReputation ClassificationSource = "sender-reputation"
	SourceLearned          ClassificationSource = "learned"
	SourceRuleBased        ClassificationSource = "rule-based"
	SourceKeyword          ClassificationSource = "keyword"
	SourceOracle           ClassificationSource = "oracle"
	SourceHybrid           ClassificationSource = "hybrid"
)

// Email represents a stored message together with its mutable mailbox state
type Email struct {
	ID         string              `json:"id"`
	UserID     string              `json:"user_id"`
	From       string              `json:"from"`
	FromName   string              `json:"from_name,omitempty"`
	To         []string            `json:"to,omitempty"`
	Subject    string              `json:"subject"`
	Body       string              `json:"body"`
	HTMLBody   string              `json:"html_body,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	ReceivedAt time.Time           `json:"received_at"`

	Category   Category            `json:"category,omitempty"`
	Priority   int                 `json:"priority"`
	IsRead     bool                `json:"is_read"`
	IsStarred  bool                `json:"is_starred"`
	IsArchived bool                `json:"is_archived"`
	IsDeleted  bool                `json:"is_deleted"`
	Labels     []string            `json:"labels,omitempty"`
	Phishing   *PhishingAssessment `json:"phishing,omitempty"`
}

// Header returns the first value of a header, matched case-insensitively
func (e *Email) Header(name string) string {
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// EmailPatch is a partial, atomic update of an email's mailbox state.
// Nil fields are left untouched.
type EmailPatch struct {
	IsArchived *bool
	IsDeleted  *bool
	IsRead     *bool
	Priority   *int
	Category   *Category
	Phishing   *PhishingAssessment
}

// CategoryScore is one accumulated weight in an ordered score list.
// Order is insertion order and decides argmax ties.
type CategoryScore struct {
	Category Category `json:"category"`
	Score    float64  `json:"score"`
}

// SenderReputation is the per (user, sender) behavioral aggregate
type SenderReputation struct {
	UserID          string          `json:"user_id"`
	SenderEmail     string          `json:"sender_email"`
	Domain          string          `json:"domain"`
	PrimaryCategory Category        `json:"primary_category"`
	CategoryScores  []CategoryScore `json:"category_scores"`
	TotalEmails     int             `json:"total_emails"`
	UserOverrides   int             `json:"user_overrides"`
	Confidence      float64         `json:"confidence"`
	LastSeen        time.Time       `json:"last_seen"`
	Version         int64           `json:"version"`
}

// TrustLevel is the discretized band of a domain reputation score
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "untrusted"
	TrustLow       TrustLevel = "low"
	TrustNeutral   TrustLevel = "neutral"
	TrustTrusted   TrustLevel = "trusted"
	TrustVerified  TrustLevel = "verified"
)

// TrustLevelFor maps a 0-100 score onto its band
func TrustLevelFor(score float64) TrustLevel {
	switch {
	case score < 20:
		return TrustUntrusted
	case score < 40:
		return TrustLow
	case score < 70:
		return TrustNeutral
	case score < 90:
		return TrustTrusted
	default:
		return TrustVerified
	}
}

// DomainReputation is the per (user, domain) behavioral aggregate
type DomainReputation struct {
	UserID               string          `json:"user_id"`
	Domain               string          `json:"domain"`
	Score                float64         `json:"score"`
	TrustLevel           TrustLevel      `json:"trust_level"`
	TotalEmails          int             `json:"total_emails"`
	Opened               int             `json:"opened"`
	Replied              int             `json:"replied"`
	Archived             int             `json:"archived"`
	Deleted              int             `json:"deleted"`
	SpamReported         int             `json:"spam_reported"`
	PhishingReported     int             `json:"phishing_reported"`
	OpenRate             float64         `json:"open_rate"`
	ReplyRate            float64         `json:"reply_rate"`
	DeleteRate           float64         `json:"delete_rate"`
	CategoryDistribution []CategoryScore `json:"category_distribution"`
	PrimaryCategory      Category        `json:"primary_category,omitempty"`
	IsWhitelisted        bool            `json:"is_whitelisted"`
	IsBlacklisted        bool            `json:"is_blacklisted"`
	IsLegitimate         bool            `json:"is_legitimate"`
	FirstSeen            time.Time       `json:"first_seen"`
	LastSeen             time.Time       `json:"last_seen"`
	Version              int64           `json:"version"`
}

// RiskBand is the discretized phishing severity
type RiskBand string

const (
	RiskSafe     RiskBand = "safe"
	RiskLow      RiskBand = "low"
	RiskMedium   RiskBand = "medium"
	RiskHigh     RiskBand = "high"
	RiskCritical RiskBand = "critical"
)

// RiskBandFor maps a 0-100 phishing score onto its band
func RiskBandFor(score int) RiskBand {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	case score >= 20:
		return RiskLow
	default:
		return RiskSafe
	}
}

// FindingType names the signal a phishing finding came from
type FindingType string

const (
	FindingBlacklistedDomain   FindingType = "blacklisted_domain"
	FindingSuspiciousTLD       FindingType = "suspicious_tld"
	FindingDomainSpoofing      FindingType = "domain_spoofing"
	FindingDisplayNameMismatch FindingType = "display_name_mismatch"
	FindingUrgency             FindingType = "urgency"
	FindingThreat              FindingType = "threat"
	FindingSensitiveRequest    FindingType = "request"
	FindingPrize               FindingType = "prize"
	FindingFinancial           FindingType = "financial"
	FindingSuspiciousURL       FindingType = "suspicious_url"
	FindingComboAttack         FindingType = "combo_attack"
)

// Finding is one phishing detector signal
type Finding struct {
	Type        FindingType `json:"type"`
	Pattern     string      `json:"pattern"`
	Severity    int         `json:"severity"`
	Description string      `json:"description"`
}

// PhishingAssessment is the denormalized phishing snapshot attached to a message
type PhishingAssessment struct {
	Score          int       `json:"score"`
	Risk           RiskBand  `json:"risk"`
	Reasons        []Finding `json:"reasons"`
	IsPhishing     bool      `json:"is_phishing"`
	RequiresReview bool      `json:"requires_review"`
	MarkedSafe     bool      `json:"marked_safe"`
	ScannedAt      time.Time `json:"scanned_at"`
}

// PhishingPattern is one row of the content pattern table
type PhishingPattern struct {
	ID       string      `json:"id"`
	Type     FindingType `json:"type"`
	Pattern  string      `json:"pattern"`
	Severity int         `json:"severity"`
	IsRegex  bool        `json:"is_regex"`
	Active   bool        `json:"active"`
}

// DomainList identifies the global list a domain entry belongs to
type DomainList string

const (
	ListWhitelist DomainList = "whitelist"
	ListBlacklist DomainList = "blacklist"
)

// DomainListEntry is a globally whitelisted or blacklisted domain
type DomainListEntry struct {
	Domain string     `json:"domain"`
	List   DomainList `json:"list"`
	Reason string     `json:"reason,omitempty"`
}

// Label is a user-owned mailbox label
type Label struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// OracleResult is the classification oracle's JSON contract
type OracleResult struct {
	Category        Category `json:"category"`
	Confidence      float64  `json:"confidence"`
	Summary         string   `json:"summary"`
	Deadline        string   `json:"deadline,omitempty"`
	NeedsReply      bool     `json:"needs_reply"`
	SuggestedLabels []string `json:"suggested_labels,omitempty"`
	SuggestedAction string   `json:"suggested_action,omitempty"`
	KeyEntities     []string `json:"key_entities,omitempty"`
	ModelUsed       string   `json:"model_used,omitempty"`
	ProcessingID    string   `json:"processing_id,omitempty"`
}

// ClassificationLogEntry records one classification decision
type ClassificationLogEntry struct {
	ID                string               `json:"id"`
	UserID            string               `json:"user_id"`
	MessageID         string               `json:"message_id"`
	SenderEmail       string               `json:"sender_email"`
	SenderDomain      string               `json:"sender_domain"`
	Subject           string               `json:"subject,omitempty"`
	Category          Category             `json:"category"`
	Confidence        float64              `json:"confidence"`
	PhishingScore     int                  `json:"phishing_score"`
	Source            ClassificationSource `json:"source"`
	ReputationUsed    bool                 `json:"reputation_used"`
	ReputationScore   float64              `json:"reputation_score"`
	ProcessingTimeMs  int64                `json:"processing_time_ms"`
	CorrectedCategory *Category            `json:"corrected_category,omitempty"`
	IsCorrect         *bool                `json:"is_correct,omitempty"`
	FeedbackAt        *time.Time           `json:"feedback_at,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

// DailySummary is the per (user, day) rollup of classification logs
type DailySummary struct {
	UserID            string                       `json:"user_id"`
	Day               time.Time                    `json:"day"`
	Total             int                          `json:"total"`
	FeedbackCount     int                          `json:"feedback_count"`
	Correct           int                          `json:"correct"`
	Incorrect         int                          `json:"incorrect"`
	AccuracyRate      float64                      `json:"accuracy_rate"`
	ReputationHits    int                          `json:"reputation_hits"`
	AvgConfidence     float64                      `json:"avg_confidence"`
	PhishingFlagged   int                          `json:"phishing_flagged"`
	AvgProcessingMs   float64                      `json:"avg_processing_ms"`
	CategoryBreakdown map[Category]int             `json:"category_breakdown"`
	SourceBreakdown   map[ClassificationSource]int `json:"source_breakdown"`
	AggregatedAt      time.Time                    `json:"aggregated_at"`
}

// DomainOf extracts the lower-cased domain from an email address
func DomainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(address[at+1:]))
}

// NormalizeAddress lower-cases and trims an address, dropping any display name wrapper
func NormalizeAddress(address string) string {
	s := strings.TrimSpace(address)
	start := strings.LastIndex(s, "<")
	end := strings.LastIndex(s, ">")
	if start >= 0 && end > start {
		s = s[start+1 : end]
	}
	return strings.ToLower(strings.TrimSpace(s))
}
