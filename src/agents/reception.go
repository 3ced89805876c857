package agents

import (
	"context"
	"regexp"
	"strings"

	"github.com/peopleworks/ason/src/models"
)

// Routes a turn can take.
const (
	RouteAnswer = "answer"
	RouteScript = "script"
)

// Decision is the reception router's verdict for one turn.
type Decision struct {
	Route string

	// Task is the effective task for the script route, possibly rewritten
	// by the router.
	Task string

	// Answer is the full reply for the answer route.
	Answer string
}

// Reception classifies the user message into answer or script.
type Reception struct {
	Completer    models.Completer
	Instructions string
}

const routeToken = "script"

var taskBlockRe = regexp.MustCompile(`(?s)<task>(.*?)</task>`)

func (r *Reception) instructions() string {
	if strings.TrimSpace(r.Instructions) != "" {
		return r.Instructions
	}
	return DefaultReceptionInstructions
}

func (r *Reception) messages(thread *Thread) []models.Message {
	msgs := []models.Message{{Role: models.RoleSystem, Content: r.instructions()}}
	return append(msgs, thread.Messages()...)
}

// interpret applies the routing table to a complete reply.
func interpret(reply, originalTask string) Decision {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return Decision{Route: RouteScript, Task: originalTask}
	}
	if len(trimmed) >= len(routeToken) && strings.EqualFold(trimmed[:len(routeToken)], routeToken) {
		if m := taskBlockRe.FindStringSubmatch(trimmed); m != nil {
			if task := strings.TrimSpace(m[1]); task != "" {
				return Decision{Route: RouteScript, Task: task}
			}
		}
		return Decision{Route: RouteScript, Task: originalTask}
	}
	return Decision{Route: RouteAnswer, Answer: trimmed}
}

// Decide runs the router over the thread and interprets its reply.
func (r *Reception) Decide(ctx context.Context, thread *Thread, originalTask string) (Decision, error) {
	reply, err := r.Completer.Complete(ctx, r.messages(thread))
	if err != nil {
		return Decision{}, err
	}
	return interpret(reply, originalTask), nil
}

// DecideStream runs the router over a token stream. Nothing is emitted
// externally until the route is known, so the user never sees any part of
// the routing token. For the answer route the returned channel carries the
// buffered prefix and every remaining token; for the script route the
// channel is nil and the decision holds the effective task.
func (r *Reception) DecideStream(ctx context.Context, thread *Thread, originalTask string) (Decision, <-chan models.StreamChunk, error) {
	stream, err := r.Completer.Stream(ctx, r.messages(thread))
	if err != nil {
		return Decision{}, nil, err
	}

	var buf strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return Decision{}, nil, chunk.Err
		}
		buf.WriteString(chunk.Delta)

		seen := strings.TrimLeft(buf.String(), " \t\r\n")
		if seen == "" {
			continue
		}
		if len(seen) < len(routeToken) {
			if strings.EqualFold(seen, routeToken[:len(seen)]) {
				// Still ambiguous; keep buffering.
				continue
			}
			decision, out := r.streamAnswer(buf.String(), stream)
			return decision, out, nil
		}
		if strings.EqualFold(seen[:len(routeToken)], routeToken) {
			return r.drainScript(buf.String(), stream, originalTask), nil, nil
		}
		decision, out := r.streamAnswer(buf.String(), stream)
		return decision, out, nil
	}

	// Stream ended while ambiguous: a reply shorter than the routing token.
	return interpret(buf.String(), originalTask), nil, nil
}

// drainScript consumes the rest of a script-routed reply, discarding it from
// the user's view and extracting the rewritten task.
func (r *Reception) drainScript(prefix string, stream <-chan models.StreamChunk, originalTask string) Decision {
	var full strings.Builder
	full.WriteString(prefix)
	for chunk := range stream {
		full.WriteString(chunk.Delta)
	}
	return interpret(full.String(), originalTask)
}

// streamAnswer returns an answer decision whose channel replays the buffered
// prefix and then forwards the live tail.
func (r *Reception) streamAnswer(prefix string, stream <-chan models.StreamChunk) (Decision, <-chan models.StreamChunk) {
	out := make(chan models.StreamChunk, 16)
	go func() {
		defer close(out)
		var full strings.Builder
		full.WriteString(prefix)
		out <- models.StreamChunk{Delta: prefix}
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
		out <- models.StreamChunk{Done: true, FullText: strings.TrimSpace(full.String())}
	}()
	return Decision{Route: RouteAnswer}, out
}
