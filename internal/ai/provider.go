// Package ai wraps the LLM backends used by the quiz helper.
package ai

import (
	"context"
	"errors"
)

// ErrUpstream marks a failed or timed out LLM call. It is never retried.
var ErrUpstream = errors.New("upstream failure")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider turns a conversation into one assistant reply.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Sampling is shared by every provider.
type Sampling struct {
	Temperature float64
	MaxTokens   int
}

var DefaultSampling = Sampling{Temperature: 0.7, MaxTokens: 512}
