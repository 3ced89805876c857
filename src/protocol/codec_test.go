package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeKinds(t *testing.T) {
	cases := []struct {
		name string
		line string
		kind string
	}{
		{"log", `{"type":"log","level":"info","message":"hello"}`, KindLog},
		{"exec-request", `{"type":"exec-request","id":"1","code":"result = 1"}`, KindExecRequest},
		{"exec-result", `{"type":"exec-result","id":"1","result":5}`, KindExecResult},
		{"invoke-request", `{"type":"invoke-request","id":"2","target":"Op","method":"Do","args":[1,"x"]}`, KindInvokeRequest},
		{"invoke-result", `{"type":"invoke-result","id":"2","error":"boom"}`, KindInvokeResult},
		{"mcp-invoke-request", `{"type":"mcp-invoke-request","id":"3","server":"s","tool":"t","arguments":{"a":1}}`, KindMCPInvoke},
	}
	for _, tc := range cases {
		env, err := Decode(tc.line)
		if err != nil {
			t.Fatalf("%s: decode failed: %v", tc.name, err)
		}
		if env.Type != tc.kind {
			t.Fatalf("%s: got kind %q", tc.name, env.Type)
		}
	}
}

func TestDecodeInvokeRequestFields(t *testing.T) {
	env, err := Decode(`{"type":"invoke-request","id":"9","target":"TestSimpleOperator","method":"AddNumbers","handleId":"h-1","args":[{"A":2,"B":3}]}`)
	if err != nil {
		t.Fatal(err)
	}
	if env.Target != "TestSimpleOperator" || env.Method != "AddNumbers" || env.HandleID != "h-1" {
		t.Fatalf("unexpected fields: %+v", env)
	}
	if len(env.Args) != 1 {
		t.Fatalf("want 1 arg, got %d", len(env.Args))
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(`{"type":"telemetry","id":"1"}`)
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("want ErrUnknownKind, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode(`{"type":`); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestEncodeFillsDiscriminator(t *testing.T) {
	line, err := Encode(&ExecRequest{ID: "abc", Code: "result = 2"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := Decode(line)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != KindExecRequest || env.ID != "abc" || env.Code != "result = 2" {
		t.Fatalf("round trip mismatch: %+v", env)
	}
	if strings.ContainsRune(line, '\n') {
		t.Fatal("encoded frame contains a newline")
	}
}

func TestExecResultNullConventions(t *testing.T) {
	env, err := Decode(`{"type":"exec-result","id":"1"}`)
	if err != nil {
		t.Fatal(err)
	}
	v, err := CloneValue(env.Result)
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatalf("absent result should clone to nil, got %v", v)
	}
}

func TestCloneValueStableForms(t *testing.T) {
	v, err := CloneValue(json.RawMessage(`{"a":[1,2],"b":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("want map, got %T", v)
	}
	if m["b"] != "x" {
		t.Fatalf("unexpected clone: %v", m)
	}
}
