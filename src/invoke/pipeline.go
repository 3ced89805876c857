// Package invoke is the receive-path pipeline answering invoke-requests from
// a running script: an operator invoker resolving (type, method, arity)
// against the method cache, and a tool invoker forwarding to registered
// external tool clients.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/peopleworks/ason/src/operator"
	"github.com/peopleworks/ason/src/protocol"
	"github.com/peopleworks/ason/src/schedule"
	"github.com/peopleworks/ason/src/tools"
)

// Pipeline routes incoming invocations. Safe for concurrent use; the handle
// table and tool registry carry their own locking.
type Pipeline struct {
	Registry *operator.Registry
	Handles  *operator.Handles
	Tools    *tools.Registry
	Sched    schedule.Scheduler
	Filter   operator.MethodFilter
	Logger   *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) scheduler() schedule.Scheduler {
	if p.Sched != nil {
		return p.Sched
	}
	return schedule.Inline{}
}

// InvokeOperator resolves and calls a host operator method. The returned
// value is the raw host value; serialization happens at the protocol
// boundary. A method returning a registered operator type yields the fresh
// instance handle instead.
func (p *Pipeline) InvokeOperator(ctx context.Context, target, method, handle string, rawArgs []json.RawMessage) (any, error) {
	desc, ok := p.Registry.Descriptor(target)
	if !ok {
		return nil, fmt.Errorf("invoke: unknown operator type %q", target)
	}
	entry, ok := desc.Lookup(method, len(rawArgs))
	if !ok {
		return nil, fmt.Errorf("invoke: method not found: %s.%s/%d", target, method, len(rawArgs))
	}
	if p.Filter != nil && !p.Filter(entry) {
		return nil, fmt.Errorf("invoke: method not found: %s.%s/%d", target, method, len(rawArgs))
	}

	var recv reflect.Value
	if desc.Kind == operator.Static {
		recv = desc.Value()
	} else {
		if handle == "" {
			return nil, fmt.Errorf("invoke: instance method %s.%s requires a handle", target, method)
		}
		inst, err := p.Handles.Get(handle)
		if err != nil {
			return nil, err
		}
		if inst.Descriptor != desc {
			return nil, fmt.Errorf("invoke: handle %q is a %s, not a %s", handle, inst.Descriptor.Name, target)
		}
		recv = inst.Value
	}

	params, err := argPlan(entry, len(rawArgs))
	if err != nil {
		return nil, err
	}
	coerced := make([]reflect.Value, len(rawArgs))
	for i, raw := range rawArgs {
		v, err := coerce(raw, params[i])
		if err != nil {
			return nil, err
		}
		coerced[i] = v
	}

	out, err := p.scheduler().Call(ctx, func(ctx context.Context) (any, error) {
		args := make([]reflect.Value, 0, len(coerced)+2)
		args = append(args, recv)
		if entry.TakesContext() {
			args = append(args, reflect.ValueOf(ctx))
		}
		args = append(args, coerced...)
		return entry.Func().Call(args), nil
	})
	if err != nil {
		return nil, err
	}
	results := out.([]reflect.Value)

	value, err := unwrapResults(ctx, entry, results)
	if err != nil {
		return nil, err
	}
	if !value.IsValid() {
		return nil, nil
	}

	// A returned operator becomes a live instance the script addresses by
	// handle from now on.
	if childDesc, ok := p.Registry.DescriptorOf(value); ok {
		inst := p.Handles.Put(childDesc, value)
		p.logger().Debug("operator instance created", "type", childDesc.Name, "handle", inst.Handle)
		return inst.Handle, nil
	}

	return value.Interface(), nil
}

// unwrapResults separates the trailing error, awaits async channels, and
// picks the value result. Void methods yield an invalid value (null on the
// wire).
func unwrapResults(ctx context.Context, entry *operator.MethodEntry, results []reflect.Value) (reflect.Value, error) {
	if len(results) > 0 {
		last := results[len(results)-1]
		if last.Type().Implements(errorInterface) {
			if !last.IsNil() {
				return reflect.Value{}, last.Interface().(error)
			}
			results = results[:len(results)-1]
		}
	}
	if len(results) == 0 {
		return reflect.Value{}, nil
	}

	value := results[0]
	if entry.Async && value.Kind() == reflect.Chan {
		received, err := awaitChan(ctx, value)
		if err != nil {
			return reflect.Value{}, err
		}
		value = received
	}
	return value, nil
}

func awaitChan(ctx context.Context, ch reflect.Value) (reflect.Value, error) {
	chosen, recv, ok := reflect.Select([]reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: ch},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
	})
	if chosen == 1 {
		return reflect.Value{}, ctx.Err()
	}
	if !ok {
		return reflect.Value{}, nil
	}
	return recv, nil
}

var errorInterface = reflect.TypeOf((*error)(nil)).Elem()

// InvokeTool forwards a tool call to the registered server client. Argument
// names are preserved as the runner supplied them.
func (p *Pipeline) InvokeTool(ctx context.Context, server, tool string, rawArgs map[string]json.RawMessage) (any, error) {
	if p.Tools == nil {
		return nil, fmt.Errorf("invoke: no tool servers registered")
	}
	client, ok := p.Tools.Lookup(server)
	if !ok {
		return nil, fmt.Errorf("invoke: unknown tool server %q", server)
	}

	named := make(map[string]any, len(rawArgs))
	for name, raw := range rawArgs {
		v, err := protocol.CloneValue(raw)
		if err != nil {
			return nil, err
		}
		named[name] = v
	}
	return client.Invoke(ctx, tool, named)
}
