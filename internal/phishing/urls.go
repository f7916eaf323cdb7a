package phishing

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/domainset"
)

const (
	urlSeverity = 25
	maxURLs     = 50
)

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>()\[\]{}]+`)

var shorteners = map[string]struct{}{
	"bit.ly": {}, "tinyurl.com": {}, "goo.gl": {}, "t.co": {}, "ow.ly": {}, "is.gd": {},
	"buff.ly": {}, "rebrand.ly": {}, "cutt.ly": {},
}

var sensitiveKeywords = []string{
	"login", "signin", "verify", "account", "secure", "update", "password", "banking", "confirm",
}

// extractURLs returns the distinct URLs found in text, bounded to keep scanning cheap
func extractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?")
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
		if len(out) == maxURLs {
			break
		}
	}
	return out
}

// analyzeURLs returns at most one finding per URL host
func analyzeURLs(urls []string, snap *Snapshot) []core.Finding {
	checked := make(map[string]struct{})
	var findings []core.Finding

	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := domainset.Normalize(u.Hostname())
		if _, ok := checked[host]; ok {
			continue
		}
		checked[host] = struct{}{}

		if reason := urlReason(host, strings.ToLower(u.Path), snap); reason != "" {
			findings = append(findings, core.Finding{
				Type:        core.FindingSuspiciousURL,
				Pattern:     host,
				Severity:    urlSeverity,
				Description: reason,
			})
		}
	}
	return findings
}

func urlReason(host, path string, snap *Snapshot) string {
	if net.ParseIP(host) != nil {
		return fmt.Sprintf("Link points at a raw IP address %s", host)
	}
	if _, ok := shorteners[host]; ok {
		return fmt.Sprintf("Link uses the URL shortener %s", host)
	}
	if isSuspiciousTLD(topLevel(host)) {
		return fmt.Sprintf("Link host %s uses a high-risk top-level domain", host)
	}
	if snap.Whitelist.Contains(host) {
		return ""
	}
	if spoofs := spoofFindings(host, snap.Whitelist); len(spoofs) > 0 {
		return fmt.Sprintf("Link host %s imitates %s", host, spoofs[0].Pattern)
	}
	for _, kw := range sensitiveKeywords {
		if strings.Contains(host, kw) || strings.Contains(path, kw) {
			return fmt.Sprintf("Link to untrusted host %s asks for %q", host, kw)
		}
	}
	return ""
}
