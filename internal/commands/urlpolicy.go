package commands

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DomainPolicy implements URLPolicy with allow/block glob-style patterns
// (spec §4.4 "URL policy"): "*" matches anything, a leading "*." matches the
// named domain and any subdomain, a "*" elsewhere splits the pattern into a
// URL prefix and suffix, and anything else matches the exact host, a host
// with the same registrable domain, or any substring of the URL.
type DomainPolicy struct {
	Allowed []string
	Blocked []string
}

// Allowed reports whether url passes the policy: blocked patterns win over
// allowed ones, and an empty allow-list means "allow everything not blocked".
func (p DomainPolicy) Allowed(url string) bool {
	for _, pat := range p.Blocked {
		if matchURLPattern(pat, url) {
			return false
		}
	}
	if len(p.Allowed) == 0 {
		return true
	}
	for _, pat := range p.Allowed {
		if matchURLPattern(pat, url) {
			return true
		}
	}
	return false
}

func matchURLPattern(pattern, url string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	url = strings.ToLower(strings.TrimSpace(url))
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	host := hostOf(url)
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return host == pattern[2:] || strings.HasSuffix(host, suffix)
	}
	if strings.Contains(pattern, "*") {
		prefix, suffix, _ := strings.Cut(pattern, "*")
		return strings.HasPrefix(url, prefix) && strings.HasSuffix(url, suffix)
	}
	if host == pattern || sameRegistrableDomain(host, pattern) {
		return true
	}
	return strings.Contains(url, pattern)
}

// sameRegistrableDomain reports whether host and pattern share the same
// effective TLD+1 (e.g. a bare "example.com" allow/block entry also covers
// "www.example.com" and "checkout.example.com" without an explicit "*."
// prefix). Either side failing to parse as a public-suffix domain (bare IP,
// localhost, malformed host) falls back to no match here, leaving the exact
// and glob comparisons above as the only way to match it.
func sameRegistrableDomain(host, pattern string) bool {
	if host == "" || pattern == "" {
		return false
	}
	a, errA := publicsuffix.EffectiveTLDPlusOne(host)
	b, errB := publicsuffix.EffectiveTLDPlusOne(pattern)
	return errA == nil && errB == nil && a == b
}

func hostOf(rawURL string) string {
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if _, ok := isPort(s[i+1:]); ok {
			s = s[:i]
		}
	}
	return s
}

func isPort(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
