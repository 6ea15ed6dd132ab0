package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/nugget/hive-nexus/internal/config"
)

// scriptedClient returns errs in order, then succeeds.
type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	calls int
	last  ChatRequest
}

func (c *scriptedClient) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = req
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return nil, err
	}
	return &ChatResponse{Message: Message{Role: "assistant", Content: "ok"}}, nil
}

func (c *scriptedClient) Ping(context.Context) error { return nil }

func TestRetryClient(t *testing.T) {
	transport := fmt.Errorf("request failed: %w", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")})

	tests := []struct {
		name      string
		attempts  int
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "success first try", attempts: 2, wantCalls: 1},
		{
			name:      "429 then success",
			attempts:  2,
			errs:      []error{&StatusError{StatusCode: http.StatusTooManyRequests}},
			wantCalls: 2,
		},
		{
			name:      "transport errors exhaust retries",
			attempts:  2,
			errs:      []error{transport, transport, transport},
			wantCalls: 3,
			wantErr:   true,
		},
		{
			name:      "400 not retried",
			attempts:  3,
			errs:      []error{&StatusError{StatusCode: http.StatusBadRequest}},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "decode error not retried",
			attempts:  3,
			errs:      []error{errors.New("decode response: unexpected EOF")},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "zero attempts",
			attempts:  0,
			errs:      []error{&StatusError{StatusCode: http.StatusBadGateway}},
			wantCalls: 1,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scriptedClient{errs: tt.errs}
			c := NewRetryClient(inner, tt.attempts, time.Millisecond, nil)

			resp, err := c.Chat(context.Background(), ChatRequest{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Chat() err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && resp.Message.Content != "ok" {
				t.Errorf("resp = %+v", resp)
			}
			if inner.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", inner.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryClient_CanceledContext(t *testing.T) {
	inner := &scriptedClient{errs: []error{context.Canceled}}
	c := NewRetryClient(inner, 5, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Chat(ctx, ChatRequest{}); err == nil {
		t.Fatal("expected error on canceled context")
	}
	if inner.calls > 1 {
		t.Errorf("calls = %d, want at most 1", inner.calls)
	}
}

func TestNewFromConfig(t *testing.T) {
	models := config.ModelsConfig{RetryAttempts: 1, RetryBackoff: time.Millisecond}

	for _, p := range []string{"openai", "deepseek", "ollama"} {
		if _, err := NewFromConfig(config.ModelConfig{Provider: p, Model: "m"}, models, discardLogger()); err != nil {
			t.Errorf("NewFromConfig(%s) = %v", p, err)
		}
	}
	if _, err := NewFromConfig(config.ModelConfig{Provider: "bard"}, models, discardLogger()); err == nil {
		t.Error("unsupported provider should fail")
	}
}

func TestDefaultsClient(t *testing.T) {
	inner := &scriptedClient{}
	c := &defaultsClient{inner: inner, temperature: 0.3, maxTokens: 512}

	c.Chat(context.Background(), ChatRequest{})
	if inner.last.Temperature != 0.3 || inner.last.MaxTokens != 512 {
		t.Errorf("defaults not applied: %+v", inner.last)
	}

	c.Chat(context.Background(), ChatRequest{Temperature: 0.9, MaxTokens: 10})
	if inner.last.Temperature != 0.9 || inner.last.MaxTokens != 10 {
		t.Errorf("explicit values overridden: %+v", inner.last)
	}
}

func TestNewTiers(t *testing.T) {
	cfg := config.Default()
	cfg.Models.DefaultLightweightTier = config.TierLightweightAPI

	tiers, err := NewTiers(cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewTiers: %v", err)
	}
	if tiers.Heavyweight == nil || tiers.Lightweight == nil {
		t.Fatal("tier client is nil")
	}
	if tiers.LightweightTier != config.TierLightweightAPI {
		t.Errorf("LightweightTier = %q", tiers.LightweightTier)
	}
}
