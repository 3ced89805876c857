package script

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestKeywordValidator(t *testing.T) {
	v := NewKeywordValidator("BAD")
	if err := v.Validate("result = 1"); err != nil {
		t.Fatalf("clean script rejected: %v", err)
	}
	if err := v.Validate("BAD result = 1"); err == nil {
		t.Fatal("extra keyword not denied")
	}
	if err := v.Validate(`load("x", "y")`); err == nil {
		t.Fatal("default keyword not denied")
	}
}

func TestNormalizeStripsFences(t *testing.T) {
	got := Normalize("Here you go:\n```python\nresult = 1 + 1\n```\nThat should work.")
	if got != "result = 1 + 1" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeDropsCommentsAndPrelude(t *testing.T) {
	in := "# compute the sum\n_host_invoke = host_invoke\nx = 1\n\n\n\ny = 2\nresult = x + y"
	got := Normalize(in)
	if strings.Contains(got, "#") || strings.Contains(got, "_host_invoke") {
		t.Fatalf("comment or prelude kept: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Fatalf("blank runs not collapsed: %q", got)
	}
}

func TestNormalizeRewritesTrailingReturn(t *testing.T) {
	got := Normalize("s = simpleop.Concatenate(\"a\", \"b\")\nreturn s")
	if !strings.HasSuffix(got, "result = s") {
		t.Fatalf("trailing return not rewritten: %q", got)
	}

	// Indented returns inside functions stay untouched.
	fn := "def f():\n    return 3\nresult = f()"
	if Normalize(fn) != fn {
		t.Fatalf("indented return mangled: %q", Normalize(fn))
	}
}

type queueGen struct {
	replies []string
	calls   int
}

func (q *queueGen) next(ctx context.Context) (string, error) {
	if q.calls >= len(q.replies) {
		return "", errors.New("generator exhausted")
	}
	reply := q.replies[q.calls]
	q.calls++
	return reply, nil
}

func TestRequiresProxies(t *testing.T) {
	l := &Loop{Generate: (&queueGen{}).next, Execute: nil}
	out := l.Run(context.Background(), "  ")
	if out.OK || out.Err != ErrNoProxies.Error() {
		t.Fatalf("outcome %+v", out)
	}
}

func TestValidatorRejectionThenRepair(t *testing.T) {
	gen := &queueGen{replies: []string{"BAD result = 1", "result = 2"}}
	var feedback []string
	l := &Loop{
		MaxAttempts: 2,
		Validator:   NewKeywordValidator("BAD"),
		Generate:    gen.next,
		Execute: func(ctx context.Context, code string) (any, error) {
			if !strings.HasPrefix(code, "proxies\n") {
				t.Fatalf("proxies not prepended: %q", code)
			}
			return 2, nil
		},
		Feedback: func(m string) { feedback = append(feedback, m) },
	}
	out := l.Run(context.Background(), "proxies")
	if !out.OK || out.Raw != 2 || out.Attempts != 2 {
		t.Fatalf("outcome %+v", out)
	}
	if gen.calls != 2 {
		t.Fatalf("agent consulted %d times", gen.calls)
	}
	if len(feedback) != 1 || !strings.Contains(feedback[0], "forbidden keyword") {
		t.Fatalf("feedback %v", feedback)
	}
}

func TestRuntimeErrorThenSuccess(t *testing.T) {
	gen := &queueGen{replies: []string{"result = boom()", "result = 7"}}
	attempt := 0
	l := &Loop{
		MaxAttempts: 1,
		Generate:    gen.next,
		Execute: func(ctx context.Context, code string) (any, error) {
			attempt++
			if attempt == 1 {
				return nil, errors.New("name boom is not defined")
			}
			return 7, nil
		},
		Feedback: func(string) {},
	}
	out := l.Run(context.Background(), "proxies")
	if !out.OK || out.Raw != 7 || out.Attempts != 2 {
		t.Fatalf("outcome %+v", out)
	}
}

func TestBudgetBoundsAgentCalls(t *testing.T) {
	gen := &queueGen{replies: []string{"a", "b", "c", "d", "e"}}
	l := &Loop{
		MaxAttempts: 2,
		Generate:    gen.next,
		Execute: func(ctx context.Context, code string) (any, error) {
			return nil, errors.New("still broken")
		},
		Feedback: func(string) {},
	}
	out := l.Run(context.Background(), "proxies")
	if out.OK {
		t.Fatal("should have failed")
	}
	if gen.calls != 3 {
		t.Fatalf("budget N=2 allows N+1=3 calls, made %d", gen.calls)
	}
	if out.Err != "still broken" {
		t.Fatalf("err %q", out.Err)
	}
}

func TestRefusalShortCircuits(t *testing.T) {
	gen := &queueGen{replies: []string{"one", "two", "three"}}
	calls := 0
	l := &Loop{
		MaxAttempts: 5,
		Generate:    gen.next,
		Execute: func(ctx context.Context, code string) (any, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("Cannot delete production data.")
			}
			return nil, errors.New("transient")
		},
		Feedback: func(string) {},
	}
	out := l.Run(context.Background(), "proxies")
	if out.OK || out.Attempts != 2 {
		t.Fatalf("outcome %+v", out)
	}
	if out.Err != "Cannot delete production data." {
		t.Fatalf("refusal not surfaced verbatim: %q", out.Err)
	}
	if gen.calls != 2 {
		t.Fatalf("loop continued after refusal: %d calls", gen.calls)
	}
}

func TestFallbackErrorText(t *testing.T) {
	// An execution failure with empty error text records no message, so the
	// final error falls back to the generic text.
	l := &Loop{
		MaxAttempts: 0,
		Generate:    func(ctx context.Context) (string, error) { return "result = 1", nil },
		Execute:     func(ctx context.Context, code string) (any, error) { return nil, errors.New("") },
		Feedback:    func(string) {},
	}
	out := l.Run(context.Background(), "proxies")
	if out.OK || out.Err != fallbackError {
		t.Fatalf("outcome %+v", out)
	}
}
