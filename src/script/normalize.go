package script

import (
	"strings"
)

// preludeBindings are declarations the proxy runtime already makes; models
// sometimes repeat them and the duplicates are dropped.
var preludeBindings = []string{
	"_host_invoke = host_invoke",
	"_mcp_invoke = mcp_invoke",
}

// Normalize turns a model reply into an executable script body: code fences
// are stripped, comment lines removed, duplicated prelude bindings dropped,
// blank runs collapsed, and a trailing top-level `return <expr>` rewritten to
// the `result = <expr>` convention the runner reads back.
func Normalize(reply string) string {
	body := stripFences(reply)

	var kept []string
	blank := 0
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			continue
		case isPreludeBinding(trimmed):
			continue
		case trimmed == "":
			blank++
			if blank > 1 {
				continue
			}
			kept = append(kept, "")
			continue
		}
		blank = 0
		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	// A bare top-level return is not valid at the script level; keep the
	// model's intent by binding the expression to result.
	for i := len(kept) - 1; i >= 0; i-- {
		line := kept[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			if expr, ok := strings.CutPrefix(line, "return "); ok {
				kept[i] = "result = " + strings.TrimSpace(expr)
			}
		}
		break
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func stripFences(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}

	var sb strings.Builder
	inFence := false
	sawFence := false
	for _, line := range strings.Split(trimmed, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "```") {
			inFence = !inFence
			sawFence = true
			continue
		}
		if inFence {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	if !sawFence {
		return trimmed
	}
	out := sb.String()
	if strings.TrimSpace(out) == "" {
		// Fences present but empty; fall back to the raw reply with the
		// fence markers removed.
		return strings.ReplaceAll(trimmed, "```", "")
	}
	return out
}

func isPreludeBinding(line string) bool {
	for _, binding := range preludeBindings {
		if line == binding {
			return true
		}
	}
	return false
}
