// Package operator models the host surface exposed to scripts: operator
// descriptors discovered by reflection, the method cache keyed by
// (declaring type, name, arity), and the handle table naming live instances
// across the runner boundary.
package operator

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/peopleworks/ason/src/cache"
)

// Kind classifies how an operator is addressed from scripts.
type Kind int

const (
	// Static operators are facades without handles; every method call
	// targets the single registered value.
	Static Kind = iota

	// Root operators are self-handled: one live instance whose handle is the
	// sentinel equal to its type name.
	Root

	// Instance operators are handle-assigned: instances are created when host
	// methods return them and are addressed by opaque handles.
	Instance
)

// MethodFilter hides entries from invocation and from the proxy surface.
// A nil filter admits everything.
type MethodFilter func(*MethodEntry) bool

// Registration declares one operator type to the registry.
type Registration struct {
	// Name is the script-visible type name; defaults to the Go type name.
	Name string

	// Description is shown in the signatures text.
	Description string

	Kind Kind

	// Value is the receiver for Static and Root operators, and a prototype
	// (possibly zero) value for Instance operators.
	Value any

	// MethodDocs maps raw Go method names to human descriptions.
	MethodDocs map[string]string
}

// Descriptor is the reflected form of one registered operator type.
type Descriptor struct {
	Name        string
	Description string
	Kind        Kind

	goType  reflect.Type
	value   reflect.Value
	methods []*MethodEntry
	byKey   map[methodKey]*MethodEntry
}

type methodKey struct {
	name  string
	arity int
}

// MethodEntry is one cached method record.
type MethodEntry struct {
	Declaring *Descriptor

	// Name is the exposed script name; Async-suffixed host methods are
	// exposed with the suffix trimmed.
	Name string

	// RawName is the Go method name.
	RawName string

	// Arity is the number of script-supplied parameters. A context.Context
	// first parameter is host-supplied and not counted.
	Arity int

	// Variadic entries accept Arity or more arguments.
	Variadic bool

	// Async marks methods returning a receive-only channel; the invoker
	// awaits one element and unwraps it.
	Async bool

	Doc string

	fn       reflect.Value
	takesCtx bool
	params   []reflect.Type
	results  []reflect.Type

	// memo holds argument-coercion plans keyed by call arity; a variadic
	// entry gets a different plan for each arity it is called with.
	memo *cache.LRUCache
}

// Params returns the declared script-facing parameter types.
func (m *MethodEntry) Params() []reflect.Type { return m.params }

// Results returns the declared result types after async unwrapping.
func (m *MethodEntry) Results() []reflect.Type { return m.results }

// TakesContext reports whether the host injects a context first argument.
func (m *MethodEntry) TakesContext() bool { return m.takesCtx }

// Func returns the callable backing this entry.
func (m *MethodEntry) Func() reflect.Value { return m.fn }

// Memo exposes the per-entry coercion memo table.
func (m *MethodEntry) Memo() *cache.LRUCache { return m.memo }

// Registry holds every registered operator descriptor. Registration happens
// at build time; lookups afterwards are read-only and safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	byType map[reflect.Type]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Descriptor),
		byType: make(map[reflect.Type]*Descriptor),
	}
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()

// Register reflects over the registration value and adds its descriptor.
// Duplicate type names and duplicate (type, name, arity) method keys fail the
// build, as does an Async trim collision.
func (r *Registry) Register(reg Registration) (*Descriptor, error) {
	if reg.Value == nil {
		return nil, fmt.Errorf("operator: registration requires a value")
	}
	v := reflect.ValueOf(reg.Value)
	t := v.Type()

	name := strings.TrimSpace(reg.Name)
	if name == "" {
		name = baseTypeName(t)
	}
	if name == "" {
		return nil, fmt.Errorf("operator: cannot derive a name for %v", t)
	}

	desc := &Descriptor{
		Name:        name,
		Description: strings.TrimSpace(reg.Description),
		Kind:        reg.Kind,
		goType:      t,
		value:       v,
		byKey:       make(map[methodKey]*MethodEntry),
	}

	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		if !method.IsExported() {
			continue
		}
		entry, err := newMethodEntry(desc, method, reg.MethodDocs[method.Name])
		if err != nil {
			return nil, err
		}
		key := methodKey{name: entry.Name, arity: entry.Arity}
		if prior, dup := desc.byKey[key]; dup {
			return nil, fmt.Errorf("operator: duplicate method %s.%s/%d (%s collides with %s)",
				name, entry.Name, entry.Arity, prior.RawName, entry.RawName)
		}
		desc.byKey[key] = entry
		desc.methods = append(desc.methods, entry)
	}
	sort.Slice(desc.methods, func(i, j int) bool {
		if desc.methods[i].Name != desc.methods[j].Name {
			return desc.methods[i].Name < desc.methods[j].Name
		}
		return desc.methods[i].Arity < desc.methods[j].Arity
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return nil, fmt.Errorf("operator: duplicate operator type %q", name)
	}
	r.byName[name] = desc
	r.byType[t] = desc
	return desc, nil
}

func newMethodEntry(desc *Descriptor, method reflect.Method, doc string) (*MethodEntry, error) {
	mt := method.Type // includes receiver as parameter 0

	entry := &MethodEntry{
		Declaring: desc,
		Name:      method.Name,
		RawName:   method.Name,
		Doc:       strings.TrimSpace(doc),
		fn:        method.Func,
		memo:      cache.NewLRUCache(64),
	}

	start := 1 // skip receiver
	if mt.NumIn() > start && mt.In(start) == ctxType {
		entry.takesCtx = true
		start++
	}
	for i := start; i < mt.NumIn(); i++ {
		entry.params = append(entry.params, mt.In(i))
	}
	entry.Variadic = mt.IsVariadic()
	entry.Arity = len(entry.params)
	if entry.Variadic {
		// The variadic slice parameter is optional; fixed arity excludes it.
		entry.Arity--
	}

	for i := 0; i < mt.NumOut(); i++ {
		entry.results = append(entry.results, mt.Out(i))
	}

	if trimmed, ok := strings.CutSuffix(method.Name, "Async"); ok && trimmed != "" {
		if len(entry.results) > 0 && entry.results[0].Kind() == reflect.Chan &&
			entry.results[0].ChanDir() != reflect.SendDir {
			entry.Async = true
			entry.Name = trimmed
			unwrapped := []reflect.Type{entry.results[0].Elem()}
			unwrapped = append(unwrapped, entry.results[1:]...)
			entry.results = unwrapped
		}
	}

	return entry, nil
}

// Descriptor finds an operator type by script-visible name.
func (r *Registry) Descriptor(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// DescriptorOf finds the descriptor for a Go value's type, unwrapping
// pointers and interfaces. Used to detect operator-typed return values.
func (r *Registry) DescriptorOf(v reflect.Value) (*Descriptor, bool) {
	if !v.IsValid() {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t := v.Type()
	for {
		if d, ok := r.byType[t]; ok {
			return d, true
		}
		if t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface {
			if v.IsNil() {
				return nil, false
			}
			v = v.Elem()
			t = v.Type()
			continue
		}
		return nil, false
	}
}

// All returns the descriptors in deterministic name order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Value returns the registered receiver for static and root operators.
func (d *Descriptor) Value() reflect.Value { return d.value }

// GoType returns the reflected operator type.
func (d *Descriptor) GoType() reflect.Type { return d.goType }

// Methods lists the entries in deterministic order.
func (d *Descriptor) Methods() []*MethodEntry { return d.methods }

// Lookup resolves (name, argc) against the cache: an exact-arity entry wins;
// otherwise a variadic entry accepting argc arguments matches.
func (d *Descriptor) Lookup(name string, argc int) (*MethodEntry, bool) {
	if entry, ok := d.byKey[methodKey{name: name, arity: argc}]; ok {
		return entry, true
	}
	for _, entry := range d.methods {
		if entry.Name == name && entry.Variadic && argc >= entry.Arity {
			return entry, true
		}
	}
	return nil, false
}

func baseTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
