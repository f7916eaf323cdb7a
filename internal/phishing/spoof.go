package phishing

import (
	"fmt"
	"strings"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/domainset"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

const (
	spoofSeverity    = 45
	maxTyposquatEdit = 2
)

// confusables folds look-alike characters onto the ASCII letter they imitate
var confusables = map[rune]rune{
	'0': 'o', '1': 'l', 'i': 'l', '3': 'e', '4': 'a', '5': 's',
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y', 'і': 'l', 'ӏ': 'l', 'ԁ': 'd',
	// Greek
	'ο': 'o', 'α': 'a', 'ν': 'v',
}

// skeleton maps a domain onto its look-alike normal form
func skeleton(domain string) string {
	d := norm.NFKC.String(domainset.Normalize(domain))
	return strings.Map(func(r rune) rune {
		if c, ok := confusables[r]; ok {
			return c
		}
		return r
	}, d)
}

// baseName returns the registrable label of a domain, e.g. "paypal" for "www.paypal.co.uk"
func baseName(domain string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		etld1 = domain
	}
	suffix, _ := publicsuffix.PublicSuffix(etld1)
	return strings.TrimSuffix(strings.TrimSuffix(etld1, suffix), ".")
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// two rolling rows of the DP table
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,
				curr[j-1]+1,
				prev[j-1]+cost,
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// spoofFindings checks a non-whitelisted domain against every whitelisted domain and returns
// at most one finding per whitelisted domain
func spoofFindings(domain string, whitelist *domainset.Set) []core.Finding {
	candidate := domainset.Normalize(domain)
	if candidate == "" {
		return nil
	}
	candidateSkeleton := skeleton(candidate)

	var findings []core.Finding
	for _, trusted := range whitelist.Domains() {
		if candidate == trusted || strings.HasSuffix(candidate, "."+trusted) {
			continue
		}

		var description string
		switch {
		case candidateSkeleton == skeleton(trusted):
			description = fmt.Sprintf("Domain %s imitates %s with look-alike characters", candidate, trusted)
		case levenshteinDistance(candidate, trusted) <= maxTyposquatEdit:
			description = fmt.Sprintf("Domain %s is a typo variant of %s", candidate, trusted)
		default:
			if base := baseName(trusted); base != "" && strings.Contains(candidate, base) {
				description = fmt.Sprintf("Domain %s impersonates %s", candidate, trusted)
			}
		}

		if description != "" {
			findings = append(findings, core.Finding{
				Type:        core.FindingDomainSpoofing,
				Pattern:     trusted,
				Severity:    spoofSeverity,
				Description: description,
			})
		}
	}
	return findings
}
