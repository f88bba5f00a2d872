// Package ai talks to the language model providers used for extraction,
// question answering and reply phrasing.
package ai

import (
	"context"
	"errors"
)

// ErrRefused is returned when a provider declines to answer
var ErrRefused = errors.New("model refused to answer")

// Turn is one prior message in a conversation
type Turn struct {
	FromUser bool
	Text     string
}

// Completion is a single provider call
type Completion struct {
	System  string
	History []Turn
	Prompt  string
	// JSON asks the provider for a JSON object only
	JSON        bool
	Temperature float32
	MaxTokens   int
}

// Provider is a chat completion backend
type Provider interface {
	Name() string
	Complete(ctx context.Context, c Completion) (string, error)
}
