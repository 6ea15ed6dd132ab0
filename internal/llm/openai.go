package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/hive-nexus/internal/httpkit"
)

// Default base URLs for OpenAI-compatible providers.
const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
)

// OpenAIClient speaks the OpenAI /chat/completions protocol. It serves
// OpenAI itself and compatible providers such as DeepSeek.
type OpenAIClient struct {
	provider   string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// provider is used only for error messages and logs.
func NewOpenAIClient(provider, baseURL, apiKey, model string, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = OpenAIBaseURL
		if provider == "deepseek" {
			baseURL = DeepSeekBaseURL
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
		logger:     logger,
	}
}

type openaiWireMessage struct {
	Role       string               `json:"role"`
	Content    *string              `json:"content"`
	ToolCalls  []openaiWireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
}

type openaiWireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON-encoded object
	} `json:"function"`
}

type openaiWireRequest struct {
	Model          string              `json:"model"`
	Messages       []openaiWireMessage `json:"messages"`
	Tools          []map[string]any    `json:"tools,omitempty"`
	Temperature    *float64            `json:"temperature,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string   `json:"response_format,omitempty"`
}

type openaiWireResponse struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      openaiWireMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func toOpenAIMessages(system string, msgs []Message) ([]openaiWireMessage, error) {
	out := make([]openaiWireMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openaiWireMessage{Role: "system", Content: &system})
	}
	for _, m := range msgs {
		content := m.Content
		wm := openaiWireMessage{Role: m.Role, Content: &content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("marshal arguments for %s: %w", tc.Name, err)
			}
			w := openaiWireToolCall{ID: tc.ID, Type: "function"}
			w.Function.Name = tc.Name
			w.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, w)
		}
		// Assistant turns that only call tools carry null content.
		if m.Role == "assistant" && m.Content == "" && len(m.ToolCalls) > 0 {
			wm.Content = nil
		}
		out = append(out, wm)
	}
	return out, nil
}

func (w openaiWireResponse) toChatResponse() (*ChatResponse, error) {
	if len(w.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	msg := w.Choices[0].Message
	resp := &ChatResponse{
		Model:        w.Model,
		Done:         true,
		InputTokens:  w.Usage.PromptTokens,
		OutputTokens: w.Usage.CompletionTokens,
		Message:      Message{Role: "assistant"},
	}
	if w.Created > 0 {
		resp.CreatedAt = time.Unix(w.Created, 0)
	}
	if msg.Content != nil {
		resp.Message.Content = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if s := strings.TrimSpace(tc.Function.Arguments); s != "" {
			if err := json.Unmarshal([]byte(s), &args); err != nil {
				return nil, fmt.Errorf("tool call %s: malformed arguments: %w", tc.Function.Name, err)
			}
		}
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	msgs, err := toOpenAIMessages(req.System, req.Messages)
	if err != nil {
		return nil, err
	}
	wireReq := openaiWireRequest{
		Model:     model,
		Messages:  msgs,
		Tools:     toolsPayload(req.Tools),
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		wireReq.Temperature = &t
	}
	if req.JSONMode {
		wireReq.ResponseFormat = map[string]string{"type": "json_object"}
	}

	jsonData, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "chat request", "provider", c.provider, "model", model, "body", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: c.provider, StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 2048)}
	}

	var wire openaiWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out, err := wire.toChatResponse()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.provider, err)
	}
	out.TotalDuration = time.Since(start)

	c.logger.Debug("chat response",
		"provider", c.provider,
		"model", out.Model,
		"tool_calls", len(out.Message.ToolCalls),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"elapsed", out.TotalDuration.Round(time.Millisecond),
	)
	return out, nil
}

// Ping checks that the endpoint answers and the key is accepted.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Provider: c.provider, StatusCode: resp.StatusCode}
	}
	return nil
}
