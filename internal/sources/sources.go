// Package sources loads the URL list that ingestion crawls.
package sources

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// List is the parsed sources file: named groups of page URLs. Groups exist
// for operator bookkeeping only; ingestion flattens them.
type List struct {
	Groups []Group `yaml:"groups"`
}

type Group struct {
	Name string   `yaml:"name"`
	URLs []string `yaml:"urls"`
}

// Load reads and validates a sources YAML file. Every URL must be absolute
// http(s); a single bad URL fails the whole load so typos surface before a
// long crawl, not during it.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var list List
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}

	seen := 0
	for _, g := range list.Groups {
		for _, raw := range g.URLs {
			u, err := url.Parse(raw)
			if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
				return nil, fmt.Errorf("group %q: invalid url %q", g.Name, raw)
			}
			seen++
		}
	}
	if seen == 0 {
		return nil, fmt.Errorf("sources file %s contains no urls", path)
	}
	return &list, nil
}

// URLs flattens all groups into one deduplicated list, preserving first-seen
// order.
func (l *List) URLs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range l.Groups {
		for _, u := range g.URLs {
			if seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// WriteExample writes a starter sources file for `campusbot init`.
func WriteExample(path string) error {
	example := List{
		Groups: []Group{
			{
				Name: "general",
				URLs: []string{
					"https://www.example.edu/",
					"https://www.example.edu/academics",
					"https://www.example.edu/admissions",
				},
			},
		},
	}
	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("marshal example sources: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
