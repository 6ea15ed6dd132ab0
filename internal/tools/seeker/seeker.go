// Package seeker is the web search tool. It queries the configured
// search provider and returns a short answer plus the hits behind it.
package seeker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nugget/hive-nexus/internal/llm"
	"github.com/nugget/hive-nexus/internal/prompts"
	"github.com/nugget/hive-nexus/internal/search"
	"github.com/nugget/hive-nexus/internal/tools"
)

// Name is the registered tool name.
const Name = "seeker"

// Args is the seeker argument object.
type Args struct {
	Query    string `json:"query" jsonschema:"minLength=1,description=What to search the web for"`
	Count    int    `json:"count,omitempty" jsonschema:"minimum=1,maximum=20,description=Number of results (default 5)"`
	Language string `json:"language,omitempty" jsonschema:"description=ISO 639-1 language code for results"`
	Provider string `json:"provider,omitempty" jsonschema:"description=Search provider to use instead of the default"`
}

// Successful outputs are reused for identical searches within cacheTTL.
const (
	cacheSize = 128
	cacheTTL  = 10 * time.Minute
)

// Output is the tool result.
type Output struct {
	Answer  string          `json:"answer"`
	Results []search.Result `json:"results,omitempty"`
}

// Seeker searches the web.
type Seeker struct {
	manager *search.Manager
	// synth answers from snippets when the provider has no answer of its
	// own. Optional.
	synth  llm.Client
	cache  *expirable.LRU[string, Output]
	logger *slog.Logger
}

// New returns a Seeker over manager. synth may be nil.
func New(manager *search.Manager, synth llm.Client, logger *slog.Logger) *Seeker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeker{
		manager: manager,
		synth:   synth,
		cache:   expirable.NewLRU[string, Output](cacheSize, nil, cacheTTL),
		logger:  logger,
	}
}

func (s *Seeker) Name() string { return Name }

func (s *Seeker) Description() string {
	return "Search the web for current information and return a concise answer with sources. " +
		"Results can be long; use get to pull structured facts out of them."
}

func (s *Seeker) Parameters() map[string]any { return tools.SchemaFor[Args]() }

// Invoke runs one search.
func (s *Seeker) Invoke(ctx context.Context, raw map[string]any) (any, error) {
	args, err := tools.Decode[Args](raw)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	if s.manager == nil || !s.manager.Configured() {
		return nil, errors.New("no search provider configured")
	}

	key := fmt.Sprintf("%s|%d|%s|%s", args.Provider, args.Count, args.Language, strings.ToLower(query))
	if out, ok := s.cache.Get(key); ok {
		s.logger.Debug("search cache hit", "query", query)
		return out, nil
	}

	opts := search.Options{Count: args.Count, Language: args.Language}
	var resp *search.Response
	if args.Provider != "" {
		resp, err = s.manager.SearchWith(ctx, args.Provider, query, opts)
	} else {
		resp, err = s.manager.Search(ctx, query, opts)
	}
	if err != nil {
		return nil, err
	}

	out := Output{Answer: resp.Answer, Results: resp.Results}
	if out.Answer == "" {
		out.Answer = s.synthesize(ctx, query, resp.Results)
	}
	s.cache.Add(key, out)
	return out, nil
}

// synthesize builds an answer for providers that return only hits. It
// never fails: without a model, or when the model errors, the formatted
// hits stand in for the answer.
func (s *Seeker) synthesize(ctx context.Context, query string, results []search.Result) string {
	formatted := search.FormatResults(results)
	if s.synth == nil || len(results) == 0 {
		return formatted
	}

	resp, err := s.synth.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: prompts.SearchSynthesisPrompt(query, formatted)}},
	})
	if err != nil {
		s.logger.Warn("search answer synthesis failed", "query", query, "error", err)
		return formatted
	}
	answer := strings.TrimSpace(resp.Message.Content)
	if answer == "" {
		return formatted
	}
	return answer
}

