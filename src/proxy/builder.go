// Package proxy emits the script-time surface: a Starlark runtime text
// prepended to every user script, a parallel signatures text shown to the
// script agent, and the method cache both are derived from.
package proxy

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/peopleworks/ason/src/operator"
	"github.com/peopleworks/ason/src/tools"
)

// Bundle is the immutable pair of texts produced once per session.
type Bundle struct {
	// Runtime is the proxy code injected before user scripts.
	Runtime string

	// Signatures is the documentary form shown to the script agent.
	Signatures string
}

// Builder produces the proxy bundle from host metadata. Tool catalogs are
// fetched from the registered clients during Build, so a session only starts
// answering once the catalogs have been folded in.
type Builder struct {
	Registry *operator.Registry
	Tools    *tools.Registry
	Filter   operator.MethodFilter
}

// Build scans the registered operators and tool servers and renders both
// texts. Build fails when the host surface is empty.
func (b *Builder) Build(ctx context.Context) (*Bundle, error) {
	descs := b.Registry.All()
	if len(descs) == 0 {
		return nil, fmt.Errorf("proxy: no operator types registered")
	}

	var runtime strings.Builder
	var sigs strings.Builder

	// Host-binding stub: user scripts and proxies share these two names.
	runtime.WriteString("# ason proxy runtime\n")
	runtime.WriteString("_host_invoke = host_invoke\n")
	runtime.WriteString("_mcp_invoke = mcp_invoke\n")

	b.writeModels(&runtime, &sigs, descs)

	for _, desc := range descs {
		if err := b.writeOperator(&runtime, &sigs, desc); err != nil {
			return nil, err
		}
	}

	if b.Tools != nil {
		if err := b.writeToolModules(ctx, &runtime, &sigs); err != nil {
			return nil, err
		}
	}

	return &Bundle{Runtime: runtime.String(), Signatures: sigs.String()}, nil
}

// writeModels declares one constructor per DTO model type appearing in the
// exposed method signatures, mirroring its public fields.
func (b *Builder) writeModels(runtime, sigs *strings.Builder, descs []*operator.Descriptor) {
	models := map[string]reflect.Type{}
	for _, desc := range descs {
		for _, entry := range desc.Methods() {
			if b.Filter != nil && !b.Filter(entry) {
				continue
			}
			for _, p := range entry.Params() {
				collectModels(p, b.Registry, models)
			}
			for _, r := range entry.Results() {
				collectModels(r, b.Registry, models)
			}
		}
	}

	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := models[name]
		var fields []string
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.IsExported() {
				fields = append(fields, jsonFieldName(f))
			}
		}
		params := make([]string, len(fields))
		pairs := make([]string, len(fields))
		for i, f := range fields {
			params[i] = f + " = None"
			pairs[i] = fmt.Sprintf("%q: %s", f, f)
		}
		fmt.Fprintf(runtime, "\ndef %s(%s):\n    return {%s}\n",
			name, strings.Join(params, ", "), strings.Join(pairs, ", "))
		fmt.Fprintf(sigs, "def %s(%s): ...\n", name, strings.Join(params, ", "))
	}
}

func collectModels(t reflect.Type, reg *operator.Registry, into map[string]reflect.Type) {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		collectModels(t.Elem(), reg, into)
	case reflect.Map:
		collectModels(t.Elem(), reg, into)
	case reflect.Struct:
		name := t.Name()
		if name == "" {
			return
		}
		if _, isOp := reg.Descriptor(name); isOp {
			return
		}
		if _, seen := into[name]; seen {
			return
		}
		into[name] = t
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				collectModels(t.Field(i).Type, reg, into)
			}
		}
	}
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return f.Name
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		return f.Name
	}
	return name
}

func (b *Builder) writeOperator(runtime, sigs *strings.Builder, desc *operator.Descriptor) error {
	entries := make([]*operator.MethodEntry, 0, len(desc.Methods()))
	for _, entry := range desc.Methods() {
		if b.Filter != nil && !b.Filter(entry) {
			continue
		}
		entries = append(entries, entry)
	}

	kind := "instance"
	if desc.Kind == operator.Static {
		kind = "static"
	} else if desc.Kind == operator.Root {
		kind = "root"
	}

	fmt.Fprintf(runtime, "\ndef %s(handle):\n", desc.Name)
	if desc.Description != "" {
		fmt.Fprintf(sigs, "\n# %s\n", desc.Description)
	} else {
		sigs.WriteString("\n")
	}
	fmt.Fprintf(sigs, "def %s(handle):  # %s operator\n", desc.Name, kind)

	if len(entries) == 0 {
		runtime.WriteString("    return struct()\n")
		sigs.WriteString("    pass\n")
	}

	var names []string
	for _, entry := range entries {
		params := paramNames(entry)
		callArgs := "[" + strings.Join(params, ", ") + "]"
		if entry.Variadic {
			// The list-typed tail is spread into one argument per element.
			last := len(params) - 1
			callArgs = "[" + strings.Join(params[:last], ", ") + "] + list(" + params[last] + ")"
		}

		fmt.Fprintf(runtime, "    def %s(%s):\n", entry.Name, strings.Join(params, ", "))
		call := fmt.Sprintf("_host_invoke(%q, %q, %s, handle)", desc.Name, entry.Name, callArgs)
		if wrap := b.operatorReturn(entry); wrap != "" {
			fmt.Fprintf(runtime, "        return %s(%s)\n", wrap, call)
		} else {
			fmt.Fprintf(runtime, "        return %s\n", call)
		}

		doc := entry.Doc
		if doc != "" {
			doc = "  # " + doc
		}
		fmt.Fprintf(sigs, "    def %s(%s): ...%s\n", entry.Name, strings.Join(params, ", "), doc)
		names = append(names, entry.Name)
	}

	if len(entries) > 0 {
		pairs := make([]string, len(names))
		for i, n := range names {
			pairs[i] = fmt.Sprintf("%s = %s", n, n)
		}
		fmt.Fprintf(runtime, "    return struct(%s)\n", strings.Join(pairs, ", "))
	}

	// Static facades are constructed once, addressed without a handle.
	if desc.Kind == operator.Static {
		fmt.Fprintf(runtime, "%s = %s(None)\n", lowerIdent(desc.Name), desc.Name)
		fmt.Fprintf(sigs, "%s = %s(None)\n", lowerIdent(desc.Name), desc.Name)
	}
	return nil
}

// operatorReturn names the constructor to wrap a returned handle with, or ""
// when the method does not return an operator type.
func (b *Builder) operatorReturn(entry *operator.MethodEntry) string {
	results := entry.Results()
	if len(results) == 0 {
		return ""
	}
	t := results[0]
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return ""
	}
	if _, ok := b.Registry.Descriptor(t.Name()); ok {
		return t.Name()
	}
	return ""
}

func paramNames(entry *operator.MethodEntry) []string {
	n := entry.Arity
	if entry.Variadic {
		// The variadic tail collapses to one list-typed parameter.
		n++
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("arg%d", i+1)
	}
	return names
}

func (b *Builder) writeToolModules(ctx context.Context, runtime, sigs *strings.Builder) error {
	for _, server := range b.Tools.Servers() {
		client, _ := b.Tools.Lookup(server)
		catalog, err := client.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("proxy: list tools for %s: %w", server, err)
		}
		sort.Slice(catalog, func(i, j int) bool { return catalog[i].Name < catalog[j].Name })

		for _, tool := range catalog {
			fn := sanitizeIdent(server) + "_" + sanitizeIdent(tool.Name)
			fmt.Fprintf(runtime, "\ndef %s(**kwargs):\n    return _mcp_invoke(%q, %q, kwargs)\n",
				fn, server, tool.Name)

			doc := strings.TrimSpace(tool.Description)
			if doc != "" {
				doc = "  # " + doc
			}
			fmt.Fprintf(sigs, "def %s(**kwargs): ...%s\n", fn, doc)
			if len(tool.InputSchema) > 0 {
				fmt.Fprintf(sigs, "#   arguments schema: %s\n", string(tool.InputSchema))
			}
		}
	}
	return nil
}

// Preamble declares one variable per live instance, named by the lower-cased
// type name with duplicates suffixed by an index. Appended between the proxy
// runtime and the user script.
func Preamble(instances []*operator.LiveInstance) string {
	var sb strings.Builder
	seen := map[string]int{}
	for _, inst := range instances {
		base := lowerIdent(inst.Descriptor.Name)
		seen[base]++
		name := base
		if n := seen[base]; n > 1 {
			name = fmt.Sprintf("%s%d", base, n)
		}
		fmt.Fprintf(&sb, "%s = %s(%q)\n", name, inst.Descriptor.Name, inst.Handle)
	}
	return sb.String()
}

func lowerIdent(name string) string {
	return sanitizeIdent(strings.ToLower(name))
}

func sanitizeIdent(s string) string {
	var sb strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			sb.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
