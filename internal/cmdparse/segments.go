package cmdparse

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Segments returns the argv of every simple command in parsed, with leading
// VAR=value assignments dropped. The token stream is split at unquoted
// control operators (| || && ; & |&). When the raw string also parses as
// bash, the commands the parser finds are added too: operators glued to
// words ("a|sh", "ls&&id") and commands nested in $(...), backticks,
// subshells or loops. Each distinct argv appears once, in discovery order.
func Segments(parsed ParsedCommand) [][]string {
	var out [][]string
	seen := map[string]bool{}
	add := func(argv []string) {
		if len(argv) == 0 {
			return
		}
		key := strings.Join(argv, "\x00")
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, argv)
	}

	for _, seg := range splitSegments(parsed) {
		start := 0
		for start < len(seg) && !seg[start].quoted && envAssignRe.MatchString(seg[start].text) {
			start++
		}
		argv := make([]string, 0, len(seg)-start)
		for _, t := range seg[start:] {
			argv = append(argv, t.text)
		}
		add(argv)
	}

	for _, argv := range callsFromAST(parsed.RawCommand) {
		add(argv)
	}
	return out
}

// callsFromAST lists the arguments of every call expression in raw. It
// returns nil when raw is not valid bash.
func callsFromAST(raw string) [][]string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(raw), "")
	if err != nil {
		return nil
	}

	var calls [][]string
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		argv := make([]string, 0, len(call.Args))
		for _, w := range call.Args {
			argv = append(argv, wordText(w))
		}
		calls = append(calls, argv)
		return true
	})
	return calls
}
