package cmdparse

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ExtractRedirections returns the file targets of output redirections in
// raw (">", ">>", ">|", "&>", "&>>"). File descriptor duplication such as
// 2>&1 is not a target, and a ">" inside quotes is not a redirection.
//
// The command is parsed as bash first; when that fails (PowerShell, broken
// quoting) a quote-aware scan of the raw string is used instead.
func ExtractRedirections(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	if targets, ok := redirectionsFromAST(raw); ok {
		return targets
	}
	return scanRedirections(raw)
}

func redirectionsFromAST(raw string) ([]string, bool) {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(raw), "")
	if err != nil {
		return nil, false
	}

	targets := []string{}
	seen := map[string]bool{}
	syntax.Walk(file, func(node syntax.Node) bool {
		r, ok := node.(*syntax.Redirect)
		if !ok || r.Word == nil {
			return true
		}
		switch r.Op {
		case syntax.RdrOut, syntax.AppOut, syntax.ClbOut, syntax.RdrAll, syntax.AppAll:
		case syntax.DplOut:
			// ">&file" redirects both streams to a file; ">&1" and ">&-" only
			// duplicate or close descriptors.
			if isFdRef(wordText(r.Word)) {
				return true
			}
		default:
			return true
		}
		t := wordText(r.Word)
		if t != "" && !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
		return true
	})
	return targets, true
}

// wordText flattens a shell word to its literal text. Expansions are kept
// in their source form so "$HOME/x" stays recognisable as a path.
func wordText(w *syntax.Word) string {
	if lit := w.Lit(); lit != "" {
		return lit
	}
	var b strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(p.Value)
		case *syntax.SglQuoted:
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, dp := range p.Parts {
				if l, ok := dp.(*syntax.Lit); ok {
					b.WriteString(l.Value)
				} else {
					b.WriteString(printNode(dp))
				}
			}
		default:
			b.WriteString(printNode(part))
		}
	}
	return b.String()
}

var printer = syntax.NewPrinter(syntax.Minify(true))

func printNode(n syntax.Node) string {
	var b strings.Builder
	if err := printer.Print(&b, n); err != nil {
		return ""
	}
	return b.String()
}

func isFdRef(s string) bool {
	if s == "-" {
		return true
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// scanRedirections is the fallback used when the bash parser rejects the
// input. It tracks quote state so "a > b" inside quotes is ignored.
func scanRedirections(raw string) []string {
	targets := []string{}
	seen := map[string]bool{}
	var quote rune
	rs := []rune(raw)

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if quote != 0 {
			if r == '\\' && quote == '"' {
				i++
			} else if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\\':
			i++
			continue
		case '\'', '"':
			quote = r
			continue
		case '>':
		default:
			continue
		}

		j := i + 1
		if j < len(rs) && (rs[j] == '>' || rs[j] == '|') {
			j++
		}
		// fd duplication: >&1, 2>&1, >&-
		if j < len(rs) && rs[j] == '&' {
			k := j + 1
			start := k
			for k < len(rs) && (rs[k] >= '0' && rs[k] <= '9' || rs[k] == '-') {
				k++
			}
			if k > start {
				i = k - 1
				continue
			}
			j++
		}
		for j < len(rs) && (rs[j] == ' ' || rs[j] == '\t') {
			j++
		}
		target, end := readScanWord(rs, j)
		if target != "" && !seen[target] {
			seen[target] = true
			targets = append(targets, target)
		}
		i = end - 1
	}
	return targets
}

func readScanWord(rs []rune, start int) (string, int) {
	var b strings.Builder
	var quote rune
	i := start
	for ; i < len(rs); i++ {
		r := rs[i]
		if quote != 0 {
			if r == quote {
				quote = 0
			} else {
				b.WriteRune(r)
			}
			continue
		}
		if r == '\'' || r == '"' {
			quote = r
			continue
		}
		if strings.ContainsRune(" \t;|&<>", r) {
			break
		}
		b.WriteRune(r)
	}
	return b.String(), i
}
