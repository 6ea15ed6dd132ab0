// Package llm provides reasoning-engine clients.
package llm

import "context"

// Client is the interface every provider implements. Implementations
// must be safe for concurrent use; loop instances share them.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
