package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoProxies is the terminal failure when execution is requested before
// the proxy bundle was built.
var ErrNoProxies = errors.New("Proxies not initialized")

// refusalPrefix marks user-visible policy refusals. Errors carrying it are
// surfaced verbatim and never retried. The English prefix match mirrors the
// upstream contract; it is fragile by nature, so it lives in exactly one
// place.
const refusalPrefix = "Cannot"

// IsRefusal reports whether an error text is a policy refusal.
func IsRefusal(message string) bool {
	return strings.HasPrefix(strings.TrimSpace(message), refusalPrefix)
}

// fallbackError is surfaced when the budget is exhausted without a usable
// error message.
const fallbackError = "Task could not be executed."

// Generator asks the script agent for the next candidate. The corrective
// feedback from the previous attempt, when any, has already been appended to
// the shared thread.
type Generator func(ctx context.Context) (string, error)

// Executor runs a fully assembled script and returns its raw result.
type Executor func(ctx context.Context, code string) (any, error)

// Feedback appends a corrective turn to the shared agent thread.
type Feedback func(message string)

// Outcome is the repair loop's verdict for one task.
type Outcome struct {
	OK       bool
	Raw      any
	Script   string
	Attempts int
	Err      string
}

// Loop drives the script agent through up to MaxAttempts+1 candidates.
type Loop struct {
	// MaxAttempts is the retry budget; the initial attempt is free, so the
	// agent is consulted at most MaxAttempts+1 times.
	MaxAttempts int

	Validator Validator
	Generate  Generator
	Execute   Executor
	Feedback  Feedback
	Logger    *slog.Logger
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Run executes the loop. proxies is the proxy runtime plus the instance
// preamble; it is prepended to every accepted candidate.
func (l *Loop) Run(ctx context.Context, proxies string) Outcome {
	if strings.TrimSpace(proxies) == "" {
		return Outcome{Err: ErrNoProxies.Error()}
	}

	log := l.logger()
	var lastErr, lastScript string

	total := l.MaxAttempts + 1
	for attempt := 1; attempt <= total; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Err: err.Error(), Script: lastScript, Attempts: attempt - 1}
		}

		reply, err := l.Generate(ctx)
		if err != nil {
			return Outcome{Err: err.Error(), Script: lastScript, Attempts: attempt}
		}
		body := Normalize(reply)
		lastScript = body
		log.Debug("script candidate", "attempt", attempt, "script", body)

		// The agent may refuse instead of producing a script; the refusal
		// is the user-visible outcome.
		if IsRefusal(body) {
			return Outcome{Err: body, Script: body, Attempts: attempt}
		}

		if l.Validator != nil {
			if err := l.Validator.Validate(body); err != nil {
				lastErr = err.Error()
				log.Warn("Validation failed", "attempt", attempt, "error", lastErr)
				if IsRefusal(lastErr) {
					return Outcome{Err: lastErr, Script: body, Attempts: attempt}
				}
				l.requestRepair(attempt, total, lastErr)
				continue
			}
		}

		raw, err := l.Execute(ctx, proxies+"\n"+body)
		if err == nil {
			return Outcome{OK: true, Raw: raw, Script: body, Attempts: attempt}
		}
		lastErr = err.Error()
		log.Warn("Execution error", "attempt", attempt, "error", lastErr)
		if IsRefusal(lastErr) {
			return Outcome{Err: lastErr, Script: body, Attempts: attempt}
		}
		if ctx.Err() != nil {
			return Outcome{Err: lastErr, Script: body, Attempts: attempt}
		}
		l.requestRepair(attempt, total, lastErr)
	}

	if lastErr == "" {
		lastErr = fallbackError
	}
	return Outcome{Err: lastErr, Script: lastScript, Attempts: total}
}

func (l *Loop) requestRepair(attempt, total int, message string) {
	if attempt >= total || l.Feedback == nil {
		return
	}
	l.Feedback(fmt.Sprintf(
		"Regenerate the script to accomplish the task, correcting the previous failure: %s", message))
}
