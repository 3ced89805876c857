// Package models is the chat-completion contract the agents consume, with
// adapters for the supported providers. The orchestrator never depends on a
// particular provider.
package models

import (
	"context"
	"strings"
)

// Roles used on agent threads.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of an agent conversation.
type Message struct {
	Role    string
	Content string
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Delta    string
	FullText string
	Done     bool
	Err      error
}

// Completer produces chat completions for one agent.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
}

// flatten renders a message list into a single prompt for providers without
// a native multi-turn API.
func flatten(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		switch m.Role {
		case RoleSystem:
			sb.WriteString(m.Content)
		default:
			sb.WriteString(m.Role)
			sb.WriteString(": ")
			sb.WriteString(m.Content)
		}
	}
	return sb.String()
}

// streamOf wraps a full completion in a one-chunk stream, the fallback for
// providers reached through their non-streaming surface.
func streamOf(text string, err error) <-chan StreamChunk {
	ch := make(chan StreamChunk, 1)
	if err != nil {
		ch <- StreamChunk{Err: err, Done: true}
	} else {
		ch <- StreamChunk{Delta: text, FullText: text, Done: true}
	}
	close(ch)
	return ch
}
