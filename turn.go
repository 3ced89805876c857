package ason

import (
	"context"
	"errors"
	"strings"

	"github.com/peopleworks/ason/src/agents"
	"github.com/peopleworks/ason/src/models"
	"github.com/peopleworks/ason/src/script"
)

// directRouteMessage is logged whenever the reception agent is bypassed.
const directRouteMessage = "Skipping ReceptionAgent; routing directly to ScriptAgent."

// completedMessage is emitted when a script succeeds without producing a
// value.
const completedMessage = "Task completed."

// Result is the outcome of one orchestrated turn.
type Result struct {
	Success  bool
	Route    string
	Response string
	Raw      any
	Script   string
	Attempts int
}

// turnContext carries the per-turn state across the pipeline stages.
type turnContext struct {
	thread *agents.Thread

	// task is the original user task; consolidated is the router rewrite
	// when one was produced.
	task         string
	consolidated string
}

func (tc *turnContext) effectiveTask() string {
	if strings.TrimSpace(tc.consolidated) != "" {
		return tc.consolidated
	}
	return tc.task
}

// Send processes a single user message and returns the reply text.
func (o *Orchestrator) Send(ctx context.Context, message string) (string, error) {
	result, err := o.Process(ctx, []models.Message{{Role: models.RoleUser, Content: message}})
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

// SendMessages processes a prior conversation plus the newest user turn.
func (o *Orchestrator) SendMessages(ctx context.Context, messages []models.Message) (string, error) {
	result, err := o.Process(ctx, messages)
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

// Process runs the full turn state machine and returns the structured
// outcome. The thread gains an assistant turn for whatever was emitted.
func (o *Orchestrator) Process(ctx context.Context, messages []models.Message) (*Result, error) {
	if len(messages) == 0 {
		return nil, errors.New("ason: no messages")
	}
	if err := o.awaitBuild(ctx); err != nil {
		return nil, err
	}

	tc := &turnContext{thread: agents.NewThread(messages...)}
	tc.task = tc.thread.LastUser()
	if tc.task == "" {
		return nil, errors.New("ason: no user turn in messages")
	}

	// Reception: answer or script.
	if o.cfg.SkipReception {
		o.log.Info(directRouteMessage)
	} else {
		decision, err := o.reception.Decide(ctx, tc.thread, tc.task)
		if err != nil {
			return nil, err
		}
		if decision.Route == agents.RouteAnswer {
			tc.thread.Append(models.RoleAssistant, decision.Answer)
			return &Result{Success: true, Route: agents.RouteAnswer, Response: decision.Answer}, nil
		}
		if decision.Task != tc.task {
			tc.consolidated = decision.Task
		}
	}

	outcome := o.runRepairLoop(ctx, tc)
	result, err := o.emitScriptOutcome(ctx, tc, outcome)
	if err != nil {
		return nil, err
	}
	tc.thread.Append(models.RoleAssistant, result.Response)
	return result, nil
}

// runRepairLoop drives the script agent against the validator and runner.
func (o *Orchestrator) runRepairLoop(ctx context.Context, tc *turnContext) script.Outcome {
	if task := tc.effectiveTask(); task != tc.thread.LastUser() {
		tc.thread.Append(models.RoleUser, task)
	}

	scriptAgent := &agents.ScriptAgent{
		Completer:    o.scriptLLM,
		Instructions: o.cfg.ScriptInstructions,
		Signatures:   o.bundle.Signatures,
		Logger:       o.log,
	}

	loop := &script.Loop{
		MaxAttempts: o.cfg.MaxFixAttempts,
		Validator:   o.validator,
		Logger:      o.log,
		Generate: func(ctx context.Context) (string, error) {
			return scriptAgent.Propose(ctx, tc.thread)
		},
		Execute: o.executeScript,
		Feedback: func(message string) {
			tc.thread.Append(models.RoleUser, message)
		},
	}
	return loop.Run(ctx, o.proxies())
}

// emitScriptOutcome maps a repair loop outcome onto the user-facing result,
// consulting the explainer when enabled. Explainer failures are not
// recovered; they propagate to the caller.
func (o *Orchestrator) emitScriptOutcome(ctx context.Context, tc *turnContext, outcome script.Outcome) (*Result, error) {
	result := &Result{
		Route:    agents.RouteScript,
		Raw:      outcome.Raw,
		Script:   outcome.Script,
		Attempts: outcome.Attempts,
	}

	if !outcome.OK {
		result.Response = outcome.Err
		if strings.TrimSpace(result.Response) == "" {
			result.Response = "Task could not be executed."
		}
		return result, nil
	}

	result.Success = true
	rawText := formatRaw(outcome.Raw)
	if strings.TrimSpace(rawText) == "" {
		result.Response = completedMessage
		return result, nil
	}
	if o.cfg.SkipExplainer {
		result.Response = rawText
		return result, nil
	}

	explained, err := o.explainer.Explain(ctx, tc.effectiveTask(), rawText)
	if err != nil {
		return nil, err
	}
	result.Response = explained
	return result, nil
}
