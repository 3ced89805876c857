// Package runner embeds the Starlark evaluator that executes proxied user
// scripts. The same engine backs the in-process execution mode and the
// standalone runner subprocess; they differ only in how host calls travel.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/peopleworks/ason/src/protocol"
)

// resultGlobal is the variable the script assigns its value to.
const resultGlobal = "result"

// Host carries the callbacks a running script reaches the host through.
// Arguments and results cross as wire JSON so both execution modes share one
// marshalling path.
type Host struct {
	// Invoke calls an operator method: (target type, method, handle, args).
	Invoke func(ctx context.Context, target, method, handle string, args []json.RawMessage) (json.RawMessage, error)

	// InvokeTool calls a named tool on an external server.
	InvokeTool func(ctx context.Context, server, tool string, args map[string]json.RawMessage) (json.RawMessage, error)
}

// Engine evaluates scripts against a Host.
type Engine struct {
	Host   Host
	Logger *slog.Logger
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute runs one script and returns the value of its result global in the
// JSON-stable Go representation, or nil when the script assigns none.
func (e *Engine) Execute(ctx context.Context, code string) (any, error) {
	thread := &starlark.Thread{
		Name: "ason-script",
		Print: func(_ *starlark.Thread, msg string) {
			e.logger().Info("script print", "message", msg)
		},
	}

	// Propagate cancellation into the interpreter.
	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				thread.Cancel(context.Cause(ctx).Error())
			case <-stop:
			}
		}()
	}

	predeclared := starlark.StringDict{
		"struct":      starlark.NewBuiltin("struct", starlarkstruct.Make),
		"host_invoke": starlark.NewBuiltin("host_invoke", e.hostInvoke(ctx)),
		"mcp_invoke":  starlark.NewBuiltin("mcp_invoke", e.mcpInvoke(ctx)),
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, "script.star", code, predeclared)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, errors.New(evalErr.Msg)
		}
		return nil, err
	}

	value, ok := globals[resultGlobal]
	if !ok {
		return nil, nil
	}
	return fromStarlark(value)
}

func (e *Engine) hostInvoke(ctx context.Context) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var target, method string
		var argList *starlark.List
		var handle starlark.Value = starlark.None
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &target, &method, &argList, &handle); err != nil {
			return nil, err
		}
		if e.Host.Invoke == nil {
			return nil, errors.New("runner: host invoke is not bound")
		}

		rawArgs := make([]json.RawMessage, 0, argList.Len())
		for i := 0; i < argList.Len(); i++ {
			goVal, err := fromStarlark(argList.Index(i))
			if err != nil {
				return nil, err
			}
			raw, err := protocol.MarshalValue(goVal)
			if err != nil {
				return nil, err
			}
			rawArgs = append(rawArgs, raw)
		}

		handleID := ""
		if s, ok := starlark.AsString(handle); ok {
			handleID = s
		}

		result, err := e.Host.Invoke(ctx, target, method, handleID, rawArgs)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", target, method, err)
		}
		goVal, err := protocol.CloneValue(result)
		if err != nil {
			return nil, err
		}
		return toStarlark(goVal)
	}
}

func (e *Engine) mcpInvoke(ctx context.Context) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(t *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var server, tool string
		var argDict *starlark.Dict
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &server, &tool, &argDict); err != nil {
			return nil, err
		}
		if e.Host.InvokeTool == nil {
			return nil, errors.New("runner: tool invoke is not bound")
		}

		named := map[string]json.RawMessage{}
		if argDict != nil {
			for _, item := range argDict.Items() {
				key, ok := starlark.AsString(item[0])
				if !ok {
					key = item[0].String()
				}
				goVal, err := fromStarlark(item[1])
				if err != nil {
					return nil, err
				}
				raw, err := protocol.MarshalValue(goVal)
				if err != nil {
					return nil, err
				}
				named[key] = raw
			}
		}

		result, err := e.Host.InvokeTool(ctx, server, tool, named)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", server, tool, err)
		}
		goVal, err := protocol.CloneValue(result)
		if err != nil {
			return nil, err
		}
		return toStarlark(goVal)
	}
}
