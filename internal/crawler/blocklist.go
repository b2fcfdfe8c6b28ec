package crawler

import "strings"

// DomainPatterns stores exact hosts and suffix wildcards derived from configuration.
// Patterns of the form "*.example.com" or ".example.com" match the domain and
// every subdomain; anything else matches the host exactly.
type DomainPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainPatterns compiles patterns. It returns nil when no usable pattern is given.
func NewDomainPatterns(patterns []string) *DomainPatterns {
	matcher := &DomainPatterns{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (d *DomainPatterns) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range d.suffixes {
		if existing == suffix {
			return
		}
	}
	d.suffixes = append(d.suffixes, suffix)
}

// Matches reports whether host is covered by any pattern. A nil matcher matches nothing.
func (d *DomainPatterns) Matches(host string) bool {
	if d == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := d.exact[host]; exact {
		return true
	}
	for _, suffix := range d.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
