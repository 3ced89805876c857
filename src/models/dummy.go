package models

import (
	"context"
	"fmt"
	"strings"
)

// DummyLLM is a lightweight completer useful for local runs without API
// calls. It echoes the last non-empty line of the prompt.
type DummyLLM struct {
	Prefix string
}

func NewDummyLLM(prefix string) *DummyLLM {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &DummyLLM{Prefix: prefix}
}

func (d *DummyLLM) Complete(_ context.Context, messages []Message) (string, error) {
	lines := strings.Split(flatten(messages), "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		if candidate := strings.TrimSpace(lines[i]); candidate != "" {
			last = candidate
			break
		}
	}
	if last == "" {
		last = "<empty prompt>"
	}
	return fmt.Sprintf("%s %s", d.Prefix, last), nil
}

// Stream simulates streaming by splitting the reply into word-level chunks.
func (d *DummyLLM) Stream(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	text, _ := d.Complete(ctx, messages)

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		words := strings.Fields(text)
		var sb strings.Builder
		for i, word := range words {
			if i > 0 {
				word = " " + word
			}
			sb.WriteString(word)
			ch <- StreamChunk{Delta: word}
		}
		ch <- StreamChunk{Done: true, FullText: sb.String()}
	}()
	return ch, nil
}

var _ Completer = (*DummyLLM)(nil)

// ScriptedLLM replays queued replies in order; tests use it to drive the
// agents deterministically.
type ScriptedLLM struct {
	Replies []string
	Calls   int

	// Prompts records what each call saw, newest last.
	Prompts []string
}

func (s *ScriptedLLM) Complete(_ context.Context, messages []Message) (string, error) {
	s.Prompts = append(s.Prompts, flatten(messages))
	if s.Calls >= len(s.Replies) {
		return "", fmt.Errorf("scripted completer exhausted after %d replies", len(s.Replies))
	}
	reply := s.Replies[s.Calls]
	s.Calls++
	return reply, nil
}

func (s *ScriptedLLM) Stream(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	reply, err := s.Complete(ctx, messages)
	if err != nil {
		return nil, err
	}

	// One rune per chunk: the worst case for consumers that must not leak
	// partial routing tokens.
	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		for _, r := range reply {
			ch <- StreamChunk{Delta: string(r)}
		}
		ch <- StreamChunk{Done: true, FullText: reply}
	}()
	return ch, nil
}

var _ Completer = (*ScriptedLLM)(nil)
