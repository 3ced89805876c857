package operator

import (
	"context"
	"strings"
	"testing"
)

type calcOp struct{}

func (calcOp) Add(a, b int) int { return a + b }
func (calcOp) Join(sep string, parts ...string) string {
	return strings.Join(parts, sep)
}
func (calcOp) Greet(ctx context.Context, name string) (string, error) {
	return "hello " + name, nil
}
func (calcOp) FetchAsync(url string) <-chan string {
	ch := make(chan string, 1)
	ch <- "payload:" + url
	close(ch)
	return ch
}

type collidingOp struct{}

func (collidingOp) Ping() string { return "pong" }
func (collidingOp) PingAsync() <-chan string {
	ch := make(chan string, 1)
	ch <- "pong"
	close(ch)
	return ch
}

func TestRegisterDiscoversMethods(t *testing.T) {
	r := NewRegistry()
	desc, err := r.Register(Registration{
		Value:      calcOp{},
		Kind:       Static,
		MethodDocs: map[string]string{"Add": "Adds two integers."},
	})
	if err != nil {
		t.Fatal(err)
	}
	if desc.Name != "calcOp" {
		t.Fatalf("derived name %q", desc.Name)
	}

	add, ok := desc.Lookup("Add", 2)
	if !ok {
		t.Fatal("Add/2 not found")
	}
	if add.Doc != "Adds two integers." {
		t.Fatalf("doc not captured: %q", add.Doc)
	}
	if add.TakesContext() {
		t.Fatal("Add does not take a context")
	}

	greet, ok := desc.Lookup("Greet", 1)
	if !ok {
		t.Fatal("Greet/1 not found; context parameter must not count toward arity")
	}
	if !greet.TakesContext() {
		t.Fatal("Greet takes a context")
	}
}

func TestVariadicArityMatching(t *testing.T) {
	r := NewRegistry()
	desc, err := r.Register(Registration{Name: "Calc", Value: calcOp{}, Kind: Static})
	if err != nil {
		t.Fatal(err)
	}

	// The same name resolves at two different arities through the variadic
	// entry; the fixed part is one parameter.
	if _, ok := desc.Lookup("Join", 1); !ok {
		t.Fatal("Join/1 should resolve")
	}
	if _, ok := desc.Lookup("Join", 3); !ok {
		t.Fatal("Join/3 should resolve")
	}
	if _, ok := desc.Lookup("Join", 0); ok {
		t.Fatal("Join/0 must not resolve below fixed arity")
	}
}

func TestAsyncSuffixTrimming(t *testing.T) {
	r := NewRegistry()
	desc, err := r.Register(Registration{Name: "Calc", Value: calcOp{}, Kind: Static})
	if err != nil {
		t.Fatal(err)
	}
	fetch, ok := desc.Lookup("Fetch", 1)
	if !ok {
		t.Fatal("FetchAsync should be exposed as Fetch")
	}
	if !fetch.Async || fetch.RawName != "FetchAsync" {
		t.Fatalf("entry not marked async: %+v", fetch)
	}
	if fetch.Results()[0].Kind().String() != "string" {
		t.Fatalf("async result not unwrapped: %v", fetch.Results())
	}
	if _, ok := desc.Lookup("FetchAsync", 1); ok {
		t.Fatal("raw async name must not be exposed")
	}
}

func TestAsyncTrimCollisionFailsBuild(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(Registration{Name: "Bad", Value: collidingOp{}, Kind: Static}); err == nil {
		t.Fatal("Ping + PingAsync must fail the build")
	}
}

func TestDuplicateOperatorName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(Registration{Name: "Calc", Value: calcOp{}, Kind: Static}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(Registration{Name: "Calc", Value: collidingOp{}, Kind: Static}); err == nil {
		t.Fatal("duplicate operator name must fail")
	}
}

func TestHandleTable(t *testing.T) {
	r := NewRegistry()
	desc, err := r.Register(Registration{Name: "Calc", Value: calcOp{}, Kind: Root})
	if err != nil {
		t.Fatal(err)
	}

	h := NewHandles()
	root := h.PutRoot(desc)
	if root.Handle != "Calc" {
		t.Fatalf("root sentinel handle = %q", root.Handle)
	}

	child := h.Put(desc, desc.Value())
	if child.Handle == "" || child.Handle == root.Handle {
		t.Fatalf("child handle %q", child.Handle)
	}

	got, err := h.Get(child.Handle)
	if err != nil || got != child {
		t.Fatalf("get: %v %v", got, err)
	}

	h.Release(child.Handle)
	if _, err := h.Get(child.Handle); err == nil {
		t.Fatal("released handle still resolves")
	}

	snap := h.Snapshot()
	if len(snap) != 1 || snap[0] != root {
		t.Fatalf("snapshot %v", snap)
	}
}
