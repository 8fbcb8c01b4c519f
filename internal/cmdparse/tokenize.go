// Package cmdparse turns raw shell command strings into argv and pulls out
// the file paths, network domains and ports a command touches.
package cmdparse

import "strings"

// ParsedCommand is the tokenized form of one raw command string.
type ParsedCommand struct {
	Argv       []string `json:"argv"`
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	RawCommand string   `json:"rawCommand"`

	// quoted[i] is true when Argv[i] contained any quoted section. Nil for
	// values not built by Tokenize; every token is then treated as bare.
	quoted []bool
}

// Quoted reports whether argv token i was written with quotes.
func (p ParsedCommand) Quoted(i int) bool {
	return i >= 0 && i < len(p.quoted) && p.quoted[i]
}

// Tokenize splits raw into argv tokens. Single and double quotes group
// words and are dropped from the output; a backslash escapes the next
// character outside single quotes. An unterminated quote swallows the rest
// of the input into the current token instead of failing, so a malformed
// command still reaches policy evaluation. Only space and tab separate
// tokens.
func Tokenize(raw string) ParsedCommand {
	argv, quoted := tokenizeWords(raw)
	p := ParsedCommand{
		Argv:       argv,
		Args:       []string{},
		RawCommand: raw,
		quoted:     quoted,
	}
	if len(argv) > 0 {
		p.Command = argv[0]
		p.Args = argv[1:]
	}
	return p
}

func tokenizeWords(raw string) ([]string, []bool) {
	var (
		tokens  = []string{}
		quoted  = []bool{}
		cur     strings.Builder
		inToken bool
		wasQuot bool
		quote   rune // 0, '\'' or '"'
		escaped bool
		dqEsc   bool
	)

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			quoted = append(quoted, wasQuot)
		}
		cur.Reset()
		inToken = false
		wasQuot = false
	}

	for _, r := range raw {
		if escaped {
			cur.WriteRune(r)
			escaped = false
			continue
		}
		switch quote {
		case '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
			continue
		case '"':
			if dqEsc {
				// Inside double quotes only these characters are escapable.
				if !strings.ContainsRune("\"\\$`", r) {
					cur.WriteRune('\\')
				}
				cur.WriteRune(r)
				dqEsc = false
				continue
			}
			switch r {
			case '"':
				quote = 0
			case '\\':
				dqEsc = true
			default:
				cur.WriteRune(r)
			}
			continue
		}

		switch r {
		case ' ', '\t':
			flush()
		case '\'', '"':
			quote = r
			inToken = true
			wasQuot = true
		case '\\':
			escaped = true
			inToken = true
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	// A trailing lone backslash is kept literally.
	if escaped || dqEsc {
		cur.WriteRune('\\')
	}
	flush()
	return tokens, quoted
}
