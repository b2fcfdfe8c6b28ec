// Package seed supplies the URLs a seed worker enqueues before crawling.
package seed

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Source implements crawler.SeedSource from inline URLs and an optional file.
type Source struct {
	urls []string
	file string
}

// New builds a Source. file holds one URL per line; blank lines and lines
// starting with "#" are ignored.
func New(urls []string, file string) *Source {
	return &Source{urls: urls, file: file}
}

// Seeds returns the inline URLs followed by the file's, without duplicates.
func (s *Source) Seeds(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load seeds: %w", err)
	}
	all := append([]string{}, s.urls...)
	if s.file != "" {
		fromFile, err := readFile(s.file)
		if err != nil {
			return nil, err
		}
		all = append(all, fromFile...)
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, u := range all {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

func readFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	return urls, nil
}

var _ crawler.SeedSource = (*Source)(nil)
