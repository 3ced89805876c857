package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/peopleworks/ason/src/models"
)

// Explainer turns the raw script result into user-facing prose.
type Explainer struct {
	Completer    models.Completer
	Instructions string
	Logger       *slog.Logger
}

func (e *Explainer) instructions() string {
	if strings.TrimSpace(e.Instructions) != "" {
		return e.Instructions
	}
	return DefaultExplainerInstructions
}

func (e *Explainer) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Prompt renders the task/result envelope shown to the explainer agent.
func (e *Explainer) Prompt(task, raw string) string {
	return fmt.Sprintf("<task>\n%s\n</task>\n<result>\n%s\n</result>", task, raw)
}

func (e *Explainer) messages(task, raw string) []models.Message {
	return []models.Message{
		{Role: models.RoleSystem, Content: e.instructions()},
		{Role: models.RoleUser, Content: e.Prompt(task, raw)},
	}
}

// Explain asks the agent to render the result. An empty reply falls back to
// the raw result verbatim.
func (e *Explainer) Explain(ctx context.Context, task, raw string) (string, error) {
	reply, err := e.Completer.Complete(ctx, e.messages(task, raw))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		e.logger().Info("explainer returned an empty reply; surfacing the raw result")
		return raw, nil
	}
	return reply, nil
}

// ExplainStream streams the explanation token by token. The caller
// accumulates the full text from the final Done chunk to append the
// assistant turn.
func (e *Explainer) ExplainStream(ctx context.Context, task, raw string) (<-chan models.StreamChunk, error) {
	stream, err := e.Completer.Stream(ctx, e.messages(task, raw))
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamChunk, 16)
	go func() {
		defer close(out)
		var full strings.Builder
		for chunk := range stream {
			if chunk.Err != nil {
				out <- chunk
				return
			}
			if chunk.Delta != "" {
				full.WriteString(chunk.Delta)
				out <- models.StreamChunk{Delta: chunk.Delta}
			}
			if chunk.Done {
				break
			}
		}
		text := full.String()
		if strings.TrimSpace(text) == "" {
			e.logger().Info("explainer returned an empty reply; surfacing the raw result")
			out <- models.StreamChunk{Delta: raw}
			text = raw
		}
		out <- models.StreamChunk{Done: true, FullText: text}
	}()
	return out, nil
}
