package phishing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/domainset"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a loaded pattern snapshot is served before a refresh
const DefaultCacheTTL = 5 * time.Minute

// refreshRetryInterval spaces out background refresh attempts while the store keeps failing
const refreshRetryInterval = 30 * time.Second

// DefaultWhitelist is the built-in set of brand domains that spoofing checks protect
var DefaultWhitelist = []string{
	"paypal.com", "apple.com", "microsoft.com", "amazon.com", "google.com", "netflix.com",
	"facebook.com", "instagram.com", "linkedin.com", "chase.com", "wellsfargo.com",
	"bankofamerica.com", "irs.gov", "dhl.com", "fedex.com", "ups.com", "dropbox.com", "docusign.com",
	"amazonaws.com", "googleusercontent.com", "microsoftonline.com",
}

// DefaultPatterns returns the built-in content pattern table
func DefaultPatterns() []core.PhishingPattern {
	table := []struct {
		typ      core.FindingType
		severity int
		patterns []string
	}{
		{core.FindingUrgency, 15, []string{
			"urgent action required", "immediate action required", "act now", "within 24 hours",
			"expires today", "final notice", "respond immediately",
		}},
		{core.FindingThreat, 25, []string{
			"your account will be suspended", "account has been suspended", "unauthorized access",
			"suspicious activity", "legal action", "your account has been locked", "will be terminated",
		}},
		{core.FindingSensitiveRequest, 30, []string{
			"confirm your password", "verify your account", "update your payment", "enter your credentials",
			"social security number", "verify your identity", "confirm your banking details",
		}},
		{core.FindingPrize, 20, []string{
			"you have won", "you've won", "claim your prize", "lottery", "selected as a winner",
			"free gift card",
		}},
		{core.FindingFinancial, 20, []string{
			"wire transfer", "bitcoin", "western union", "outstanding invoice", "send payment",
		}},
	}

	var out []core.PhishingPattern
	for _, group := range table {
		for i, p := range group.patterns {
			out = append(out, core.PhishingPattern{
				ID:       fmt.Sprintf("default-%s-%02d", group.typ, i+1),
				Type:     group.typ,
				Pattern:  p,
				Severity: group.severity,
				Active:   true,
			})
		}
	}
	return out
}

// SeedDefaults stores the built-in patterns when the repository has none
func SeedDefaults(ctx context.Context, repo core.PatternRepository) error {
	existing, err := repo.ListPhishingPatterns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list phishing patterns: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, p := range DefaultPatterns() {
		if err := repo.SavePhishingPattern(ctx, &p); err != nil {
			return fmt.Errorf("failed to seed phishing pattern: %w", err)
		}
	}
	return nil
}

type compiledPattern struct {
	core.PhishingPattern
	re     *regexp.Regexp
	needle string
}

func (p compiledPattern) matches(text string) bool {
	if p.re != nil {
		return p.re.MatchString(text)
	}
	return strings.Contains(text, p.needle)
}

// Snapshot is one fully built, immutable view of the pattern table and domain lists
type Snapshot struct {
	patterns  []compiledPattern
	Whitelist *domainset.Set
	Blacklist *domainset.Set
	LoadedAt  time.Time
}

// Patterns returns the active patterns in the snapshot
func (s *Snapshot) Patterns() []core.PhishingPattern {
	out := make([]core.PhishingPattern, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = p.PhishingPattern
	}
	return out
}

// PatternCache owns the pattern snapshot shared by every detector call. Readers always see a
// complete snapshot; refreshes build a new one and swap it in.
type PatternCache struct {
	repo      core.PatternRepository
	logger    *zap.Logger
	ttl       time.Duration
	whitelist []string
	blacklist []string

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
	now     func() time.Time

	refreshing  atomic.Bool
	lastAttempt atomic.Int64
	retryAfter  time.Duration
}

// NewPatternCache creates a cache over the repository. The configured domains are merged
// with the built-in whitelist and the repository's lists on every load.
func NewPatternCache(repo core.PatternRepository, logger *zap.Logger, ttl time.Duration, whitelist, blacklist []string) *PatternCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &PatternCache{
		repo:       repo,
		logger:     logger,
		ttl:        ttl,
		whitelist:  whitelist,
		blacklist:  blacklist,
		now:        time.Now,
		retryAfter: min(ttl, refreshRetryInterval),
	}
}

// Snapshot returns the current snapshot. A cold cache blocks on a single shared load; a stale
// one is served while a background refresh runs. Load failures never reach the caller.
func (c *PatternCache) Snapshot(ctx context.Context) *Snapshot {
	snap := c.current.Load()
	if snap == nil {
		v, err, _ := c.group.Do("load", func() (any, error) {
			if s := c.current.Load(); s != nil {
				return s, nil
			}
			return c.load(ctx)
		})
		if err != nil {
			c.logger.Warn("Pattern cache load failed, using built-in defaults", zap.Error(err))
			recordCacheLoad(false)
			return c.build(DefaultPatterns(), nil)
		}
		return v.(*Snapshot)
	}

	if now := c.now(); now.Sub(snap.LoadedAt) >= c.ttl {
		c.refreshInBackground(now)
	}
	return snap
}

// refreshInBackground starts at most one refresh at a time, and no more than one per
// retryAfter while refreshes keep failing.
func (c *PatternCache) refreshInBackground(now time.Time) {
	if last := c.lastAttempt.Load(); last != 0 && now.Sub(time.Unix(0, last)) < c.retryAfter {
		return
	}
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	c.lastAttempt.Store(now.UnixNano())

	go func() {
		defer c.refreshing.Store(false)
		refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Refresh(refreshCtx); err != nil {
			c.logger.Warn("Pattern cache refresh failed, serving stale snapshot", zap.Error(err))
		}
	}()
}

// Refresh reloads the snapshot now. Concurrent refreshes share one load.
func (c *PatternCache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("load", func() (any, error) {
		return c.load(ctx)
	})
	if err != nil {
		recordCacheLoad(false)
	}
	return err
}

func (c *PatternCache) load(ctx context.Context) (*Snapshot, error) {
	patterns, err := c.repo.ListPhishingPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load phishing patterns: %w", err)
	}
	entries, err := c.repo.ListDomainEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load domain lists: %w", err)
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}

	snap := c.build(patterns, entries)
	c.current.Store(snap)
	recordCacheLoad(true)

	c.logger.Debug("Pattern cache loaded",
		zap.Int("patterns", len(snap.patterns)),
		zap.Int("whitelisted", snap.Whitelist.Len()),
		zap.Int("blacklisted", snap.Blacklist.Len()))
	return snap, nil
}

func (c *PatternCache) build(patterns []core.PhishingPattern, entries []core.DomainListEntry) *Snapshot {
	white := append([]string{}, DefaultWhitelist...)
	white = append(white, c.whitelist...)
	black := append([]string{}, c.blacklist...)
	for _, e := range entries {
		switch e.List {
		case core.ListWhitelist:
			white = append(white, e.Domain)
		case core.ListBlacklist:
			black = append(black, e.Domain)
		}
	}

	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		if !p.Active || strings.TrimSpace(p.Pattern) == "" {
			continue
		}
		cp := compiledPattern{PhishingPattern: p, needle: strings.ToLower(p.Pattern)}
		if p.IsRegex {
			re, err := regexp.Compile("(?i)" + p.Pattern)
			if err != nil {
				c.logger.Warn("Skipping malformed phishing pattern",
					zap.String("id", p.ID),
					zap.String("pattern", p.Pattern),
					zap.Error(err))
				continue
			}
			cp.re = re
		}
		compiled = append(compiled, cp)
	}

	return &Snapshot{
		patterns:  compiled,
		Whitelist: domainset.New(white, nil),
		Blacklist: domainset.New(black, nil),
		LoadedAt:  c.now(),
	}
}
