package invoke

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/peopleworks/ason/src/operator"
	"github.com/peopleworks/ason/src/protocol"
)

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// coerce converts one wire argument into the declared parameter type:
// numbers into the target numeric kind, strings into strings, objects into
// DTO structs through the JSON codec, arrays into the declared element type.
func coerce(raw json.RawMessage, target reflect.Type) (reflect.Value, error) {
	if target == anyType {
		v, err := protocol.CloneValue(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if v == nil {
			return reflect.Zero(anyType), nil
		}
		return reflect.ValueOf(v), nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		return reflect.Zero(target), nil
	}

	ptr := reflect.New(target)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("invoke: cannot coerce %s into %v: %w", compactJSON(raw), target, err)
	}
	return ptr.Elem(), nil
}

// argPlan resolves the concrete parameter types for a call of the given
// arity, expanding the variadic tail. Plans are memoized per method entry;
// the memo doubles as the closed-over slot for entries whose declared
// parameters only become concrete once an argument list is seen.
func argPlan(entry *operator.MethodEntry, argc int) ([]reflect.Type, error) {
	cached, err := entry.Memo().GetOrCompute(strconv.Itoa(argc), func() (any, error) {
		params := entry.Params()
		if entry.Variadic {
			fixed := params[:len(params)-1]
			if argc < len(fixed) {
				return nil, fmt.Errorf("invoke: %s.%s expects at least %d arguments, got %d",
					entry.Declaring.Name, entry.Name, len(fixed), argc)
			}
			elem := params[len(params)-1].Elem()
			plan := make([]reflect.Type, 0, argc)
			plan = append(plan, fixed...)
			for len(plan) < argc {
				plan = append(plan, elem)
			}
			return plan, nil
		}
		if argc != len(params) {
			return nil, fmt.Errorf("invoke: %s.%s expects %d arguments, got %d",
				entry.Declaring.Name, entry.Name, len(params), argc)
		}
		return params, nil
	})
	if err != nil {
		return nil, err
	}
	return cached.([]reflect.Type), nil
}

func compactJSON(raw json.RawMessage) string {
	const max = 120
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
