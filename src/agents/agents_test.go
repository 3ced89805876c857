package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/peopleworks/ason/src/models"
)

func TestInterpretTable(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		route string
		task  string
	}{
		{"script with task block", "script\n<task>\nsome task description\n</task>", RouteScript, "some task description"},
		{"script without block", "script, I will handle it", RouteScript, "original"},
		{"bare script", "  script  ", RouteScript, "original"},
		{"case insensitive", "SCRIPT\n<task>do it</task>", RouteScript, "do it"},
		{"whitespace only", "   \n\t ", RouteScript, "original"},
		{"plain answer", "Plain answer with no script needed.", RouteAnswer, ""},
	}
	for _, tc := range cases {
		d := interpret(tc.reply, "original")
		if d.Route != tc.route {
			t.Fatalf("%s: route %q", tc.name, d.Route)
		}
		if tc.route == RouteScript && d.Task != tc.task {
			t.Fatalf("%s: task %q", tc.name, d.Task)
		}
		if tc.route == RouteAnswer && d.Answer != strings.TrimSpace(tc.reply) {
			t.Fatalf("%s: answer %q", tc.name, d.Answer)
		}
	}
}

func TestDecideUsesThread(t *testing.T) {
	llm := &models.ScriptedLLM{Replies: []string{"script\n<task>consolidated</task>"}}
	r := &Reception{Completer: llm}
	thread := NewThread(models.Message{Role: models.RoleUser, Content: "please do the thing"})

	d, err := r.Decide(context.Background(), thread, "please do the thing")
	if err != nil {
		t.Fatal(err)
	}
	if d.Route != RouteScript || d.Task != "consolidated" {
		t.Fatalf("decision %+v", d)
	}
	if len(llm.Prompts) != 1 || !strings.Contains(llm.Prompts[0], "please do the thing") {
		t.Fatalf("thread not shown to router: %v", llm.Prompts)
	}
}

// collect drains an answer stream, recording every delta.
func collect(t *testing.T, ch <-chan models.StreamChunk) (deltas []string, full string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return deltas, full
			}
			if chunk.Err != nil {
				t.Fatalf("stream error: %v", chunk.Err)
			}
			if chunk.Delta != "" {
				deltas = append(deltas, chunk.Delta)
			}
			if chunk.Done {
				full = chunk.FullText
			}
		case <-deadline:
			t.Fatal("stream never completed")
		}
	}
}

func TestStreamingAnswerDoesNotLeakRoutingToken(t *testing.T) {
	// ScriptedLLM streams one rune at a time. "screen..." shares its first
	// three characters with the routing token; the router must buffer them
	// and release the ambiguous prefix in one piece once it diverges.
	llm := &models.ScriptedLLM{Replies: []string{"screen sharing works fine."}}
	r := &Reception{Completer: llm}
	thread := NewThread(models.Message{Role: models.RoleUser, Content: "hello"})

	d, ch, err := r.DecideStream(context.Background(), thread, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if d.Route != RouteAnswer || ch == nil {
		t.Fatalf("decision %+v", d)
	}

	deltas, full := collect(t, ch)
	if full != "screen sharing works fine." {
		t.Fatalf("full %q", full)
	}
	if len(deltas) == 0 || deltas[0] != "scre" {
		t.Fatalf("ambiguous prefix not withheld: first emission %q", deltas)
	}
	if strings.Join(deltas, "") != full {
		t.Fatalf("deltas do not reassemble: %q", strings.Join(deltas, ""))
	}
}

func TestStreamingScriptRouteEmitsNothing(t *testing.T) {
	llm := &models.ScriptedLLM{Replies: []string{"script\n<task>\nrewritten task\n</task>"}}
	r := &Reception{Completer: llm}
	thread := NewThread(models.Message{Role: models.RoleUser, Content: "x"})

	d, ch, err := r.DecideStream(context.Background(), thread, "x")
	if err != nil {
		t.Fatal(err)
	}
	if d.Route != RouteScript || d.Task != "rewritten task" {
		t.Fatalf("decision %+v", d)
	}
	if ch != nil {
		t.Fatal("script route must not expose a stream")
	}
}

func TestStreamingShortReplyFallsThrough(t *testing.T) {
	// "scr" stays ambiguous until the stream ends, then routes as answer.
	llm := &models.ScriptedLLM{Replies: []string{"scr"}}
	r := &Reception{Completer: llm}
	thread := NewThread(models.Message{Role: models.RoleUser, Content: "x"})

	d, ch, err := r.DecideStream(context.Background(), thread, "x")
	if err != nil {
		t.Fatal(err)
	}
	if d.Route != RouteAnswer || d.Answer != "scr" {
		t.Fatalf("decision %+v", d)
	}
	if ch != nil {
		t.Fatal("completed ambiguous reply needs no stream")
	}
}

func TestExplainerPromptShape(t *testing.T) {
	e := &Explainer{Completer: &models.ScriptedLLM{Replies: []string{"ok"}}}
	got := e.Prompt("some task description", "5")
	want := "<task>\nsome task description\n</task>\n<result>\n5\n</result>"
	if got != want {
		t.Fatalf("prompt %q", got)
	}
}

func TestExplainerEmptyReplyFallsBack(t *testing.T) {
	e := &Explainer{Completer: &models.ScriptedLLM{Replies: []string{"   "}}}
	got, err := e.Explain(context.Background(), "t", "raw value")
	if err != nil {
		t.Fatal(err)
	}
	if got != "raw value" {
		t.Fatalf("fallback missing: %q", got)
	}
}

func TestScriptAgentSeesSignaturesAndFeedback(t *testing.T) {
	llm := &models.ScriptedLLM{Replies: []string{"result = 1"}}
	s := &ScriptAgent{Completer: llm, Signatures: "def Calc(handle): ..."}
	thread := NewThread(models.Message{Role: models.RoleUser, Content: "add the numbers"})
	thread.Append(models.RoleUser, "Regenerate the script to accomplish the task, correcting the previous failure: boom")

	if _, err := s.Propose(context.Background(), thread); err != nil {
		t.Fatal(err)
	}
	prompt := llm.Prompts[0]
	for _, want := range []string{"def Calc(handle)", "add the numbers", "correcting the previous failure: boom"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
