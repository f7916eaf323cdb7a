package domainset

import (
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// Set is an immutable set of domains matched together with their subdomains
type Set struct {
	domains map[string]struct{}
	sorted  []string
}

// New creates a set from raw domain names, normalizing each one
func New(domains []string, logger *zap.Logger) *Set {
	s := &Set{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		n := Normalize(d)
		if n == "" {
			continue
		}
		if _, ok := s.domains[n]; ok {
			continue
		}
		s.domains[n] = struct{}{}
		s.sorted = append(s.sorted, n)
	}
	sort.Strings(s.sorted)

	if len(s.sorted) > 0 && logger != nil {
		logger.Debug("Initialized domain set", zap.Int("domains", len(s.sorted)))
	}

	return s
}

// Normalize converts a domain into its canonical lookup form: Unicode labels, NFC, lower case,
// no trailing dot. Malformed A-labels are only lower-cased.
func Normalize(domain string) string {
	d := strings.TrimSpace(domain)
	d = strings.TrimPrefix(d, "@")
	if u, err := idna.ToUnicode(d); err == nil {
		d = u
	}
	d = norm.NFC.String(d)
	d = strings.ToLower(d)
	return strings.TrimSuffix(d, ".")
}

// Match returns the set entry covering the domain, either exactly or as a parent domain
func (s *Set) Match(domain string) (string, bool) {
	if s == nil || len(s.domains) == 0 {
		return "", false
	}
	d := Normalize(domain)
	for d != "" {
		if _, ok := s.domains[d]; ok {
			return d, true
		}
		dot := strings.IndexByte(d, '.')
		if dot < 0 {
			break
		}
		d = d[dot+1:]
	}
	return "", false
}

// Contains reports whether the domain or one of its parents is in the set
func (s *Set) Contains(domain string) bool {
	_, ok := s.Match(domain)
	return ok
}

// ContainsAddress reports whether the domain of an email address is in the set
func (s *Set) ContainsAddress(address string) bool {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return false
	}
	return s.Contains(strings.Trim(address[at+1:], "> "))
}

// Domains returns the set's entries in sorted order
func (s *Set) Domains() []string {
	if s == nil {
		return nil
	}
	return s.sorted
}

// Len returns the number of entries
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.sorted)
}
