package ason

import (
	"context"
	"errors"
	"strings"

	"github.com/peopleworks/ason/src/agents"
	"github.com/peopleworks/ason/src/concurrent"
	"github.com/peopleworks/ason/src/models"
)

// Stream runs one turn on a background worker and delivers incremental text
// through an unbounded queue with a single reader. The caller's goroutine is
// never blocked by slow turn stages; cancellation stops delivery after at
// most the in-flight chunk.
func (o *Orchestrator) Stream(ctx context.Context, messages []models.Message) (<-chan models.StreamChunk, error) {
	if len(messages) == 0 {
		return nil, errors.New("ason: no messages")
	}

	queue := concurrent.NewQueue[models.StreamChunk]()
	go o.streamTurn(ctx, messages, queue)
	return queue.Out(), nil
}

func (o *Orchestrator) streamTurn(ctx context.Context, messages []models.Message, queue *concurrent.Queue[models.StreamChunk]) {
	defer queue.Close()

	emitErr := func(err error) {
		queue.Push(models.StreamChunk{Err: err, Done: true})
	}

	if err := o.awaitBuild(ctx); err != nil {
		emitErr(err)
		return
	}

	tc := &turnContext{thread: agents.NewThread(messages...)}
	tc.task = tc.thread.LastUser()
	if tc.task == "" {
		emitErr(errors.New("ason: no user turn in messages"))
		return
	}

	if o.cfg.SkipReception {
		o.log.Info(directRouteMessage)
	} else {
		decision, answerStream, err := o.reception.DecideStream(ctx, tc.thread, tc.task)
		if err != nil {
			emitErr(err)
			return
		}
		if decision.Route == agents.RouteAnswer {
			if answerStream != nil {
				o.forwardStream(ctx, answerStream, queue, tc.thread)
			} else {
				// The reply completed during routing; emit it whole.
				tc.thread.Append(models.RoleAssistant, decision.Answer)
				queue.Push(models.StreamChunk{Delta: decision.Answer})
				queue.Push(models.StreamChunk{Done: true, FullText: decision.Answer})
			}
			return
		}
		if decision.Task != tc.task {
			tc.consolidated = decision.Task
		}
	}

	outcome := o.runRepairLoop(ctx, tc)
	if ctx.Err() != nil {
		emitErr(ctx.Err())
		return
	}

	if !outcome.OK {
		message := outcome.Err
		if strings.TrimSpace(message) == "" {
			message = "Task could not be executed."
		}
		tc.thread.Append(models.RoleAssistant, message)
		queue.Push(models.StreamChunk{Delta: message})
		queue.Push(models.StreamChunk{Done: true, FullText: message})
		return
	}

	rawText := formatRaw(outcome.Raw)
	if strings.TrimSpace(rawText) == "" {
		tc.thread.Append(models.RoleAssistant, completedMessage)
		queue.Push(models.StreamChunk{Delta: completedMessage})
		queue.Push(models.StreamChunk{Done: true, FullText: completedMessage})
		return
	}
	if o.cfg.SkipExplainer {
		tc.thread.Append(models.RoleAssistant, rawText)
		queue.Push(models.StreamChunk{Delta: rawText})
		queue.Push(models.StreamChunk{Done: true, FullText: rawText})
		return
	}

	stream, err := o.explainer.ExplainStream(ctx, tc.effectiveTask(), rawText)
	if err != nil {
		emitErr(err)
		return
	}
	o.forwardStream(ctx, stream, queue, tc.thread)
}

// forwardStream pumps chunks to the consumer, appends the final assistant
// turn after completion, and honours cancellation between chunks.
func (o *Orchestrator) forwardStream(ctx context.Context, in <-chan models.StreamChunk, queue *concurrent.Queue[models.StreamChunk], thread *agents.Thread) {
	for chunk := range in {
		select {
		case <-ctx.Done():
			queue.Push(models.StreamChunk{Err: ctx.Err(), Done: true})
			return
		default:
		}
		if chunk.Err != nil {
			queue.Push(chunk)
			return
		}
		queue.Push(chunk)
		if chunk.Done {
			thread.Append(models.RoleAssistant, chunk.FullText)
			return
		}
	}
}
