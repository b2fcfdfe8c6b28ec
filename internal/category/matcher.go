// Package category labels URLs with the categories whose patterns they match.
package category

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

type rule struct {
	name     string
	patterns []*regexp.Regexp
}

// Matcher implements crawler.CategoryMatcher. Patterns are URL prefixes in
// which "*" matches any run of characters; every other character is literal.
type Matcher struct {
	rules []rule
}

// New compiles a mapping of category name to patterns.
func New(mapping map[string][]string) (*Matcher, error) {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	m := &Matcher{}
	for _, name := range names {
		r := rule{name: name}
		for _, p := range mapping[name] {
			if strings.TrimSpace(p) == "" {
				continue
			}
			re, err := Compile(p)
			if err != nil {
				return nil, fmt.Errorf("category %s: %w", name, err)
			}
			r.patterns = append(r.patterns, re)
		}
		if len(r.patterns) > 0 {
			m.rules = append(m.rules, r)
		}
	}
	return m, nil
}

// LoadFile reads a JSON object of {"category": ["pattern", ...]}.
func LoadFile(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category mapping: %w", err)
	}
	var mapping map[string][]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("decode category mapping %s: %w", path, err)
	}
	return mapping, nil
}

// Compile turns a wildcard pattern into an anchored prefix regexp.
func Compile(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*"))
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Match returns the sorted names of every category with a matching pattern.
// A nil Matcher matches nothing.
func (m *Matcher) Match(url string) []string {
	if m == nil {
		return nil
	}
	var out []string
	for _, r := range m.rules {
		for _, re := range r.patterns {
			if re.MatchString(url) {
				out = append(out, r.name)
				break
			}
		}
	}
	return out
}

// Len returns the number of categories with at least one pattern.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

var _ crawler.CategoryMatcher = (*Matcher)(nil)
