package util

import (
	"bytes"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"
)

func funcs() template.FuncMap {
	return template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
		"join": func(sep string, items []string) string {
			return strings.Join(items, sep)
		},
	}
}

// ParseTemplate parses text with the helper funcs. Executing a template that
// references a missing key fails instead of printing "<no value>".
func ParseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(funcs()).Option("missingkey=error").Parse(text)
}

// Execute runs a parsed template against state.
func Execute(tmpl *template.Template, state map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// TemplateFields returns the sorted top-level field names a template
// references on its root data (e.g. "context" for {{.context}}). Fields
// referenced inside range or with blocks are resolved against the rebound
// dot and are not reported.
func TemplateFields(tmpl *template.Template) []string {
	seen := map[string]struct{}{}
	for _, t := range tmpl.Templates() {
		if t.Tree != nil && t.Tree.Root != nil {
			walkNode(t.Tree.Root, seen)
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func walkNode(node parse.Node, seen map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walkNode(child, seen)
		}
	case *parse.ActionNode:
		walkPipe(n.Pipe, seen)
	case *parse.IfNode:
		walkPipe(n.Pipe, seen)
		walkNode(n.List, seen)
		walkNode(n.ElseList, seen)
	case *parse.RangeNode:
		walkPipe(n.Pipe, seen)
		walkNode(n.ElseList, seen)
	case *parse.WithNode:
		walkPipe(n.Pipe, seen)
		walkNode(n.ElseList, seen)
	case *parse.TemplateNode:
		walkPipe(n.Pipe, seen)
	}
}

func walkPipe(pipe *parse.PipeNode, seen map[string]struct{}) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					seen[a.Ident[0]] = struct{}{}
				}
			case *parse.PipeNode:
				walkPipe(a, seen)
			case *parse.ChainNode:
				if p, ok := a.Node.(*parse.PipeNode); ok {
					walkPipe(p, seen)
				}
			}
		}
	}
}
