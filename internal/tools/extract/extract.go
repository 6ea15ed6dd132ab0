// Package extract is the "get" tool: it pulls a structured JSON object
// out of free text according to a caller-supplied JSON Schema.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/hive-nexus/internal/llm"
	"github.com/nugget/hive-nexus/internal/prompts"
	"github.com/nugget/hive-nexus/internal/tools"
)

// Name is the registered tool name.
const Name = "get"

// Args is the get argument object.
type Args struct {
	TextToProcess    string         `json:"text_to_process" jsonschema:"minLength=1,description=The unstructured text to extract from"`
	ExtractionSchema map[string]any `json:"extraction_schema" jsonschema:"description=JSON Schema describing the object to extract"`
}

// Extractor asks a lightweight model for schema-shaped JSON.
type Extractor struct {
	client llm.Client
}

// New returns an Extractor backed by client.
func New(client llm.Client) *Extractor {
	return &Extractor{client: client}
}

func (e *Extractor) Name() string { return Name }

func (e *Extractor) Description() string {
	return "Extract structured data from unstructured text. Give the text and a JSON Schema " +
		"for the object you want; fields the text does not mention come back null."
}

func (e *Extractor) Parameters() map[string]any { return tools.SchemaFor[Args]() }

// Invoke runs one extraction. The model's reply must be a JSON object
// that conforms to the supplied schema.
func (e *Extractor) Invoke(ctx context.Context, raw map[string]any) (any, error) {
	args, err := tools.Decode[Args](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.TextToProcess) == "" {
		return nil, errors.New("text_to_process is empty")
	}
	if len(args.ExtractionSchema) == 0 {
		return nil, errors.New("extraction_schema is empty")
	}
	if e.client == nil {
		return nil, errors.New("no extraction model configured")
	}

	schemaJSON, err := json.MarshalIndent(args.ExtractionSchema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	resp, err := e.client.Chat(ctx, llm.ChatRequest{
		System:   prompts.ExtractionSystem,
		Messages: []llm.Message{{Role: "user", Content: prompts.ExtractionPrompt(string(schemaJSON), args.TextToProcess)}},
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction model: %w", err)
	}

	out, err := parseObject(resp.Message.Content)
	if err != nil {
		return nil, err
	}
	if err := tools.ValidateAgainst(args.ExtractionSchema, out); err != nil {
		return nil, fmt.Errorf("extracted object does not match schema: %w", err)
	}
	return out, nil
}

// parseObject decodes a JSON object from a model reply, tolerating a
// markdown code fence or prose around the object.
func parseObject(reply string) (map[string]any, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err == nil && out != nil {
		return out, nil
	}

	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(s[start:end+1]), &out); err == nil && out != nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("model reply is not a JSON object: %.200q", reply)
}
