// Package scope decides which URLs belong to a crawl.
package scope

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Config lists host patterns. Patterns follow crawler.DomainPatterns:
// "example.com" is exact, "*.example.com" and ".example.com" cover subdomains.
type Config struct {
	AllowedDomains []string
	DenyDomains    []string
}

// Scope implements crawler.Scope.
type Scope struct {
	allow *crawler.DomainPatterns
	deny  *crawler.DomainPatterns
}

// New builds a Scope. When no allowed domain is configured the hosts of seeds
// become the allow-list, so a crawl never leaves the sites it started on.
func New(cfg Config, seeds []string) *Scope {
	allowed := cfg.AllowedDomains
	if len(nonEmpty(allowed)) == 0 {
		allowed = nil
		for _, s := range seeds {
			if host := crawler.Hostname(s); host != "" {
				allowed = append(allowed, host)
			}
		}
	}
	return &Scope{
		allow: crawler.NewDomainPatterns(allowed),
		deny:  crawler.NewDomainPatterns(cfg.DenyDomains),
	}
}

// InScope reports whether rawURL is an http(s) URL on an allowed, non-denied host.
func (s *Scope) InScope(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || s.deny.Matches(host) {
		return false
	}
	return s.allow.Matches(host)
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

var _ crawler.Scope = (*Scope)(nil)
