// Package search provides pluggable web search backends for the seeker
// tool.
//
// Each backend implements [Provider]. The [Manager] picks one by name
// and exposes a single [Manager.Search] method.
package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nugget/hive-nexus/internal/config"
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Response is what a provider returns for one query. Answer is set only
// by providers that synthesize one (Tavily).
type Response struct {
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// DefaultCount is used when Options.Count is zero.
const DefaultCount = 5

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "tavily", "brave").
	Name() string

	// Search executes a query.
	Search(ctx context.Context, query string, opts Options) (*Response, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// NewManagerFromConfig registers every provider that has credentials.
// When no default is configured the first of tavily, brave, searxng
// that is available becomes primary.
func NewManagerFromConfig(cfg config.SearchConfig) *Manager {
	m := NewManager(cfg.Default)
	if cfg.Tavily.APIKey != "" {
		m.Register(NewTavily(cfg.Tavily.APIKey))
	}
	if cfg.Brave.APIKey != "" {
		m.Register(NewBrave(cfg.Brave.APIKey))
	}
	if cfg.SearXNG.URL != "" {
		m.Register(NewSearXNG(cfg.SearXNG.URL))
	}
	if m.primary == "" {
		for _, name := range []string{"tavily", "brave", "searxng"} {
			if _, ok := m.providers[name]; ok {
				m.primary = name
				break
			}
		}
	}
	return m
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Primary returns the default provider name.
func (m *Manager) Primary() string { return m.primary }

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) (*Response, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	return p.Search(ctx, query, opts)
}

// Providers returns the names of all registered providers, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// FormatResults renders results as a numbered plain-text list.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n   ")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}

func resultCount(opts Options) int {
	if opts.Count <= 0 {
		return DefaultCount
	}
	return opts.Count
}
