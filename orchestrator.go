// Package ason is a scripting orchestrator for LLM-driven automation: user
// requests are routed by a reception agent, compiled into short scripts by a
// script agent, executed in a sandboxed runner against reflected host
// operators and external tools, repaired on failure, and rephrased for the
// user by an explainer agent.
package ason

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/peopleworks/ason/src/agents"
	"github.com/peopleworks/ason/src/concurrent"
	"github.com/peopleworks/ason/src/config"
	"github.com/peopleworks/ason/src/dispatch"
	"github.com/peopleworks/ason/src/invoke"
	"github.com/peopleworks/ason/src/models"
	"github.com/peopleworks/ason/src/operator"
	"github.com/peopleworks/ason/src/protocol"
	"github.com/peopleworks/ason/src/proxy"
	"github.com/peopleworks/ason/src/runner"
	"github.com/peopleworks/ason/src/schedule"
	"github.com/peopleworks/ason/src/script"
	"github.com/peopleworks/ason/src/tools"
	"github.com/peopleworks/ason/src/transport"
)

// Options configure a new Orchestrator.
type Options struct {
	Config config.Config

	// Completer serves any agent without a dedicated override.
	Completer models.Completer

	// Per-agent overrides.
	ReceptionCompleter models.Completer
	ScriptCompleter    models.Completer
	ExplainerCompleter models.Completer

	// Operators are the host types exposed to scripts.
	Operators []operator.Registration

	// ToolServers maps server names to their clients.
	ToolServers map[string]tools.Client

	// MethodFilter overlays the method cache as a filter view.
	MethodFilter operator.MethodFilter

	// Scheduler dictates where host invocations run; inline by default.
	Scheduler schedule.Scheduler

	// Validator overrides the keyword validator built from configuration.
	Validator script.Validator

	// TransportFactory overrides the transport selected by configuration.
	// The factory receives the orchestrator's frame callbacks.
	TransportFactory func(transport.Callbacks) (transport.Transport, error)

	Logger *slog.Logger
}

// Orchestrator owns the agents, the runner transport, and the per-turn state
// machine.
type Orchestrator struct {
	cfg config.Config
	log *slog.Logger

	registry  *operator.Registry
	handles   *operator.Handles
	toolReg   *tools.Registry
	pipeline  *invoke.Pipeline
	validator script.Validator
	pool      *concurrent.Gate

	reception *agents.Reception
	scriptLLM models.Completer
	explainer *agents.Explainer

	buildOnce sync.Once
	buildDone chan struct{}
	buildErr  error
	bundle    *proxy.Bundle

	transportMu      sync.Mutex
	transport        transport.Transport
	transportFactory func(transport.Callbacks) (transport.Transport, error)
	dispatcher       *dispatch.Dispatcher
	engine           *runner.Engine
	started          bool
}

// New validates the options, registers the operators, and kicks off the
// asynchronous proxy build. The transport starts lazily before the first
// execution.
func New(opts Options) (*Orchestrator, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Completer == nil &&
		(opts.ReceptionCompleter == nil || opts.ScriptCompleter == nil || opts.ExplainerCompleter == nil) {
		return nil, errors.New("ason: a completer is required")
	}
	if len(opts.Operators) == 0 {
		return nil, errors.New("ason: at least one operator registration is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	registry := operator.NewRegistry()
	handles := operator.NewHandles()
	for _, reg := range opts.Operators {
		desc, err := registry.Register(reg)
		if err != nil {
			return nil, err
		}
		if desc.Kind == operator.Root {
			handles.PutRoot(desc)
		}
	}

	toolReg := tools.NewRegistry()
	for name, client := range opts.ToolServers {
		if err := toolReg.Register(name, client); err != nil {
			return nil, err
		}
	}

	validator := opts.Validator
	if validator == nil {
		validator = script.NewKeywordValidator(opts.Config.ForbiddenScriptKeywords...)
	}

	pick := func(specific models.Completer) models.Completer {
		if specific != nil {
			return specific
		}
		return opts.Completer
	}

	o := &Orchestrator{
		cfg:       opts.Config,
		log:       log,
		registry:  registry,
		handles:   handles,
		toolReg:   toolReg,
		validator: validator,
		pool:      concurrent.NewGate(16),
		buildDone: make(chan struct{}),
		scriptLLM: pick(opts.ScriptCompleter),
		reception: &agents.Reception{
			Completer:    pick(opts.ReceptionCompleter),
			Instructions: opts.Config.ReceptionInstructions,
		},
		explainer: &agents.Explainer{
			Completer:    pick(opts.ExplainerCompleter),
			Instructions: opts.Config.ExplainerInstructions,
			Logger:       log,
		},
		dispatcher:       dispatch.New(),
		transportFactory: opts.TransportFactory,
	}

	o.pipeline = &invoke.Pipeline{
		Registry: registry,
		Handles:  handles,
		Tools:    toolReg,
		Sched:    opts.Scheduler,
		Filter:   opts.MethodFilter,
		Logger:   log,
	}

	builder := &proxy.Builder{Registry: registry, Tools: toolReg, Filter: opts.MethodFilter}
	go o.buildProxies(builder)

	return o, nil
}

// buildProxies runs once in the background; the first turn awaits it.
func (o *Orchestrator) buildProxies(builder *proxy.Builder) {
	o.buildOnce.Do(func() {
		defer close(o.buildDone)
		bundle, err := builder.Build(context.Background())
		if err != nil {
			o.log.Error("proxy build failed", "error", err)
			o.buildErr = err
			return
		}
		o.bundle = bundle
	})
}

// awaitBuild blocks until the proxy bundle is ready or failed.
func (o *Orchestrator) awaitBuild(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.buildDone:
	}
	if o.buildErr != nil {
		return script.ErrNoProxies
	}
	return nil
}

// Signatures returns the documentary proxy surface once built.
func (o *Orchestrator) Signatures(ctx context.Context) (string, error) {
	if err := o.awaitBuild(ctx); err != nil {
		return "", err
	}
	return o.bundle.Signatures, nil
}

// proxies assembles the text prepended to every script: the runtime surface
// plus one declaration per live instance.
func (o *Orchestrator) proxies() string {
	return o.bundle.Runtime + "\n" + proxy.Preamble(o.handles.Snapshot())
}

// ensureTransport builds and starts the configured transport exactly once.
func (o *Orchestrator) ensureTransport() error {
	o.transportMu.Lock()
	defer o.transportMu.Unlock()
	if o.started {
		return nil
	}

	var (
		t   transport.Transport
		err error
	)
	cb := transport.Callbacks{OnLine: o.demux, OnClosed: o.onTransportClosed}

	switch {
	case o.transportFactory != nil:
		t, err = o.transportFactory(cb)
	case o.cfg.UseRemoteRunner:
		t, err = transport.NewWebSocket(transport.WebSocketConfig{BaseURL: o.cfg.RemoteRunnerBaseURL}, cb)
	case o.cfg.ExecutionMode == config.ModeExternalProcess:
		path := o.cfg.RunnerExecutablePath
		if strings.TrimSpace(path) == "" {
			path = "ason-runner"
		}
		t, err = transport.NewStdio(transport.StdioConfig{Command: path}, cb)
	case o.cfg.ExecutionMode == config.ModeContainer:
		t, err = transport.NewContainer(transport.ContainerConfig{Image: o.cfg.ContainerImage}, cb)
	default:
		o.engine = &runner.Engine{
			Logger: o.log,
			Host: runner.Host{
				Invoke:     o.invokeOperatorJSON,
				InvokeTool: o.invokeToolJSON,
			},
		}
		t = transport.InProcess{}
	}
	if err != nil {
		return err
	}
	if err := t.Start(); err != nil {
		return err
	}
	o.transport = t
	o.started = true
	return nil
}

// EnableRemoteRunner re-points the session at a remote runner and restarts
// the transport. In-flight executions fail with a transport-closed error.
func (o *Orchestrator) EnableRemoteRunner(baseURL string) error {
	if strings.TrimSpace(baseURL) == "" {
		return errors.New("ason: remote runner base URL is required")
	}

	o.transportMu.Lock()
	defer o.transportMu.Unlock()

	if o.transport != nil {
		_ = o.transport.Stop()
	}
	o.dispatcher.FailAll(transport.ErrClosed)

	t, err := transport.NewWebSocket(transport.WebSocketConfig{BaseURL: baseURL},
		transport.Callbacks{OnLine: o.demux, OnClosed: o.onTransportClosed})
	if err != nil {
		return err
	}
	if err := t.Start(); err != nil {
		return err
	}
	o.cfg.UseRemoteRunner = true
	o.cfg.RemoteRunnerBaseURL = baseURL
	o.engine = nil
	o.transport = t
	o.started = true
	return nil
}

// Close stops the transport and fails outstanding executions.
func (o *Orchestrator) Close() error {
	o.transportMu.Lock()
	t := o.transport
	o.transport = nil
	o.started = false
	o.transportMu.Unlock()

	if t != nil {
		return t.Stop()
	}
	return nil
}

func (o *Orchestrator) onTransportClosed(reason error) {
	o.log.Warn("runner transport closed", "reason", reason)
	o.dispatcher.FailAll(reason)
}

// demux classifies each incoming frame. Exec results complete dispatcher
// slots; invoke requests run concurrently so a script may issue parallel
// host calls without deadlocking against its own results.
func (o *Orchestrator) demux(line string) {
	env, err := protocol.Decode(line)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownKind) {
			o.log.Warn("ignoring unknown frame kind", "error", err)
		} else {
			o.log.Error("protocol error", "error", err)
		}
		return
	}

	switch env.Type {
	case protocol.KindLog:
		o.logRunnerFrame(env)
	case protocol.KindExecResult:
		o.dispatcher.HandleResult(env)
	case protocol.KindInvokeRequest:
		request := env
		o.pool.Go(context.Background(), func() error {
			result, err := o.invokeOperatorJSON(context.Background(), request.Target, request.Method, request.HandleID, request.Args)
			return o.sendInvokeResult(request.ID, result, err)
		}, o.reportSendFailure)
	case protocol.KindMCPInvoke:
		request := env
		o.pool.Go(context.Background(), func() error {
			result, err := o.invokeToolJSON(context.Background(), request.Server, request.Tool, request.Arguments)
			return o.sendInvokeResult(request.ID, result, err)
		}, o.reportSendFailure)
	default:
		o.log.Warn("unexpected frame on host side", "type", env.Type)
	}
}

func (o *Orchestrator) reportSendFailure(err error) {
	o.log.Error("invoke-result delivery failed", "error", err)
}

func (o *Orchestrator) logRunnerFrame(env protocol.Envelope) {
	attrs := []any{"source", env.Source}
	if env.Exception != "" {
		attrs = append(attrs, "exception", env.Exception)
	}
	switch strings.ToLower(env.Level) {
	case "error":
		o.log.Error(env.Message, attrs...)
	case "warn", "warning":
		o.log.Warn(env.Message, attrs...)
	case "debug":
		o.log.Debug(env.Message, attrs...)
	default:
		o.log.Info(env.Message, attrs...)
	}
}

func (o *Orchestrator) sendInvokeResult(id string, result json.RawMessage, invokeErr error) error {
	frame := &protocol.InvokeResult{ID: id}
	if invokeErr != nil {
		frame.Error = invokeErr.Error()
	} else {
		frame.Result = result
	}
	line, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	o.transportMu.Lock()
	t := o.transport
	o.transportMu.Unlock()
	if t == nil {
		return transport.ErrClosed
	}
	return t.Send(line)
}

// invokeOperatorJSON adapts the invocation pipeline to the wire form shared
// by both execution modes.
func (o *Orchestrator) invokeOperatorJSON(ctx context.Context, target, method, handle string, args []json.RawMessage) (json.RawMessage, error) {
	value, err := o.pipeline.InvokeOperator(ctx, target, method, handle, args)
	if err != nil {
		return nil, err
	}
	return protocol.MarshalValue(value)
}

func (o *Orchestrator) invokeToolJSON(ctx context.Context, server, tool string, args map[string]json.RawMessage) (json.RawMessage, error) {
	value, err := o.pipeline.InvokeTool(ctx, server, tool, args)
	if err != nil {
		return nil, err
	}
	return protocol.MarshalValue(value)
}

// executeScript runs an assembled script through the configured runner.
func (o *Orchestrator) executeScript(ctx context.Context, code string) (any, error) {
	if err := o.ensureTransport(); err != nil {
		return nil, err
	}

	o.transportMu.Lock()
	engine := o.engine
	t := o.transport
	o.transportMu.Unlock()

	if engine != nil {
		return engine.Execute(ctx, code)
	}
	return o.dispatcher.Execute(ctx, code, t.Send)
}

// ExecuteScript bypasses the agents entirely: the script body is validated
// when requested, concatenated with the proxy surface, and dispatched.
func (o *Orchestrator) ExecuteScript(ctx context.Context, body string, validate bool) (string, error) {
	if err := o.awaitBuild(ctx); err != nil {
		return "", err
	}
	body = script.Normalize(body)
	if validate {
		if err := o.validator.Validate(body); err != nil {
			return "", err
		}
	}
	raw, err := o.executeScript(ctx, o.proxies()+"\n"+body)
	if err != nil {
		return "", err
	}
	return formatRaw(raw), nil
}

// formatRaw renders a raw script result for prompts and user output.
func formatRaw(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(encoded)
}
