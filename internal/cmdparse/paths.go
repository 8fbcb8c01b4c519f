package cmdparse

import (
	"path/filepath"
	"regexp"
	"strings"
)

// PathOperation says what a command does to a path it names.
type PathOperation string

const (
	OpRead    PathOperation = "read"
	OpWrite   PathOperation = "write"
	OpUnknown PathOperation = "unknown"
)

func (o PathOperation) rank() int {
	switch o {
	case OpWrite:
		return 2
	case OpRead:
		return 1
	default:
		return 0
	}
}

// ExtractedPath is one path a command touches.
type ExtractedPath struct {
	Path      string        `json:"path"`
	Operation PathOperation `json:"operation"`
}

var (
	extensionRe = regexp.MustCompile(`\.[A-Za-z][A-Za-z0-9]{0,4}$`)
	driveRe     = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
	envAssignRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
	numericRe   = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

	winSingleFlagRe = regexp.MustCompile(`^/[A-Za-z?]$`)
	winNumericRe    = regexp.MustCompile(`^/[0-9]+$`)
	winValueFlagRe  = regexp.MustCompile(`^/[A-Za-z]+:`)
	winSchemaFlagRe = regexp.MustCompile(`^/[A-Za-z][A-Za-z0-9+\-]*$`)

	redirOpRe       = regexp.MustCompile(`^[0-9]*(>>?|>\||&>>?|<)$`)
	redirAttachedRe = regexp.MustCompile(`^[0-9]*(>>?|>\||&>>?|<)(.+)$`)
)

// Named Windows switches recognised for any command.
var windowsNamedFlags = map[string]bool{
	"/all": true, "/help": true, "/quiet": true, "/force": true, "/verbose": true,
	"/nologo": true, "/mir": true, "/purge": true, "/move": true, "/np": true,
	"/nfl": true, "/ndl": true, "/xd": true, "/xf": true, "/mt": true, "/log": true,
	"/tee": true, "/online": true, "/norestart": true, "/passive": true,
}

// Commands whose every /letter token is a switch, never a path.
var windowsFlagCommands = map[string]bool{
	"findstr": true, "xcopy": true, "robocopy": true, "dir": true, "del": true,
	"erase": true, "copy": true, "move": true, "type": true, "attrib": true,
	"rd": true, "rmdir": true, "md": true, "where": true, "tasklist": true,
	"taskkill": true, "icacls": true, "sort": true, "more": true, "tree": true,
}

// baseCommand normalises argv[0]: strips directories and a .exe suffix and
// lowercases.
func baseCommand(cmd string) string {
	cmd = strings.ReplaceAll(cmd, `\`, "/")
	cmd = filepath.Base(cmd)
	cmd = strings.ToLower(cmd)
	return strings.TrimSuffix(cmd, ".exe")
}

// IsWindowsFlag reports whether token is a Windows-style "/x" switch. A bare
// "/" is the filesystem root and never a switch.
func IsWindowsFlag(token, command string) bool {
	if len(token) < 2 || token[0] != '/' {
		return false
	}
	if command != "" && windowsFlagCommands[baseCommand(command)] && winSchemaFlagRe.MatchString(token) {
		return true
	}
	if winSingleFlagRe.MatchString(token) || winNumericRe.MatchString(token) {
		return true
	}
	if winValueFlagRe.MatchString(token) {
		return true
	}
	return windowsNamedFlags[strings.ToLower(token)]
}

// IsLikelyPath is the generic path heuristic used for argv positions no
// command schema claims.
func IsLikelyPath(token, command string) bool {
	if token == "" || token == "-" || token == "--" {
		return false
	}
	if IsWindowsFlag(token, command) {
		return false
	}
	if strings.HasPrefix(token, "-") {
		return false
	}
	if strings.ContainsAny(token, "<>|") {
		return false
	}
	if strings.Contains(token, "://") {
		return false
	}
	if envAssignRe.MatchString(token) || numericRe.MatchString(token) {
		return false
	}
	switch {
	case strings.HasPrefix(token, "/"):
		return true
	case driveRe.MatchString(token):
		return true
	case token == "~" || strings.HasPrefix(token, "~/"):
		return true
	case strings.HasPrefix(token, "."):
		return true
	case strings.ContainsAny(token, `/\`):
		return true
	case extensionRe.MatchString(token):
		return true
	}
	return false
}

// pathSchema describes where a command keeps its path arguments.
type pathSchema struct {
	op        PathOperation // operation for positional paths
	skip      int           // leading positionals that are not paths (patterns, modes)
	lastOp    PathOperation // when set, operation for the final positional
	noPaths   bool          // positionals are never paths (URLs, hosts)
	valueFlag map[string]bool
	flagOps   map[string]PathOperation // flags whose value is a path
	skipReset map[string]bool          // flags that supply the pattern, cancelling skip
	writeIf   map[string]bool          // flags that turn the command into a write
}

var schemas = map[string]pathSchema{
	"cp":    {op: OpRead, lastOp: OpWrite, valueFlag: set("-S", "--suffix"), flagOps: targetDirFlags},
	"mv":    {op: OpRead, lastOp: OpWrite, valueFlag: set("-S", "--suffix"), flagOps: targetDirFlags},
	"ln":    {op: OpRead, lastOp: OpWrite, valueFlag: set("-S", "--suffix"), flagOps: targetDirFlags},
	"rsync": {op: OpRead, lastOp: OpWrite, valueFlag: set("-e", "--exclude", "--include")},
	"scp":   {op: OpRead, lastOp: OpWrite, valueFlag: set("-P", "-i", "-o", "-F")},
	"install": {op: OpRead, lastOp: OpWrite, flagOps: targetDirFlags,
		valueFlag: set("-m", "--mode", "-o", "--owner", "-g", "--group")},

	"touch":    {op: OpWrite, valueFlag: set("-d", "-t", "-r", "--reference")},
	"mkdir":    {op: OpWrite, valueFlag: set("-m", "--mode")},
	"rm":       {op: OpWrite},
	"rmdir":    {op: OpWrite},
	"tee":      {op: OpWrite},
	"truncate": {op: OpWrite, valueFlag: set("-s", "--size", "-r", "--reference")},
	"shred":    {op: OpWrite, valueFlag: set("-n", "--iterations", "-s", "--size")},
	"unlink":   {op: OpWrite},

	"cat":    {op: OpRead},
	"less":   {op: OpRead},
	"more":   {op: OpRead},
	"head":   {op: OpRead, valueFlag: set("-n", "-c", "--lines", "--bytes")},
	"tail":   {op: OpRead, valueFlag: set("-n", "-c", "--lines", "--bytes")},
	"wc":     {op: OpRead},
	"file":   {op: OpRead},
	"stat":   {op: OpRead, valueFlag: set("-c", "--format", "-f")},
	"ls":     {op: OpRead},
	"diff":   {op: OpRead},
	"source": {op: OpRead},
	"find": {op: OpRead, valueFlag: set("-name", "-iname", "-path", "-ipath", "-type",
		"-maxdepth", "-mindepth", "-size", "-mtime", "-mmin", "-user", "-group", "-perm",
		"-newer", "-regex", "-iregex")},

	"grep": {op: OpRead, skip: 1,
		valueFlag: set("-A", "-B", "-C", "-m", "--max-count", "--include", "--exclude"),
		skipReset: set("-e", "--regexp", "-f", "--file")},
	"egrep": {op: OpRead, skip: 1, skipReset: set("-e", "-f")},
	"rg": {op: OpRead, skip: 1,
		valueFlag: set("-g", "--glob", "-t", "--type", "-A", "-B", "-C", "-m"),
		skipReset: set("-e", "--regexp", "-f", "--file")},
	"sed": {op: OpRead, skip: 1,
		skipReset: set("-e", "--expression", "-f", "--file"),
		writeIf:   set("-i", "--in-place")},
	"awk":   {op: OpRead, skip: 1, valueFlag: set("-F", "-v"), skipReset: set("-f")},
	"chmod": {op: OpWrite, skip: 1, valueFlag: set("--reference")},
	"chown": {op: OpWrite, skip: 1, valueFlag: set("--reference")},
	"chgrp": {op: OpWrite, skip: 1},

	"tar":   {op: OpUnknown, flagOps: map[string]PathOperation{"-f": OpUnknown, "-C": OpWrite, "--directory": OpWrite}},
	"unzip": {op: OpRead, flagOps: map[string]PathOperation{"-d": OpWrite}},

	"curl": {noPaths: true,
		valueFlag: set("-H", "--header", "-X", "--request", "-d", "--data", "-u", "--user", "-A", "--user-agent", "-e", "-m", "--max-time"),
		flagOps:   map[string]PathOperation{"-o": OpWrite, "--output": OpWrite, "-T": OpRead, "--upload-file": OpRead, "-K": OpRead, "--config": OpRead}},
	"wget": {noPaths: true,
		valueFlag: set("--header", "-U", "--user-agent"),
		flagOps:   map[string]PathOperation{"-O": OpWrite, "--output-document": OpWrite, "-P": OpWrite, "--directory-prefix": OpWrite, "-i": OpRead}},

	// Windows builtins.
	"copy":     {op: OpRead, lastOp: OpWrite},
	"move":     {op: OpRead, lastOp: OpWrite},
	"xcopy":    {op: OpRead, lastOp: OpWrite},
	"robocopy": {op: OpRead, lastOp: OpWrite},
	"del":      {op: OpWrite},
	"erase":    {op: OpWrite},
	"type":     {op: OpRead},
	"findstr":  {op: OpRead, skip: 1},
}

// -t DIR names the destination of cp, mv, ln and install; every positional
// is then a source.
var targetDirFlags = map[string]PathOperation{"-t": OpWrite, "--target-directory": OpWrite}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// ExtractPaths returns every path the command touches, with the operation
// performed on it. Compound commands are split at |, ||, && and ; and each
// segment is read with its own command schema. Commands without a schema
// fall back to the generic heuristic with operation "unknown".
func ExtractPaths(parsed ParsedCommand) []ExtractedPath {
	c := &pathCollector{index: map[string]int{}}

	for _, target := range ExtractRedirections(parsed.RawCommand) {
		if !isFdRef(target) {
			c.add(target, OpWrite)
		}
	}

	for _, seg := range splitSegments(parsed) {
		c.segment(seg)
	}
	return c.paths
}

type token struct {
	text   string
	quoted bool
}

// splitSegments breaks argv at unquoted control operators. A trailing ";"
// glued to a word ("cd a;") also ends a segment.
func splitSegments(parsed ParsedCommand) [][]token {
	var (
		segs [][]token
		cur  []token
	)
	end := func() {
		if len(cur) > 0 {
			segs = append(segs, cur)
		}
		cur = nil
	}
	for i, t := range parsed.Argv {
		q := parsed.Quoted(i)
		if !q {
			switch t {
			case "|", "||", "&&", ";", "&", "|&":
				end()
				continue
			}
			if len(t) > 1 && strings.HasSuffix(t, ";") {
				cur = append(cur, token{text: strings.TrimSuffix(t, ";")})
				end()
				continue
			}
		}
		cur = append(cur, token{text: t, quoted: q})
	}
	end()
	return segs
}

type pathCollector struct {
	paths []ExtractedPath
	index map[string]int
}

// add records p, upgrading the operation when the same path shows up again
// with a stronger one (write > read > unknown).
func (c *pathCollector) add(p string, op PathOperation) {
	if p == "" {
		return
	}
	if i, ok := c.index[p]; ok {
		if op.rank() > c.paths[i].Operation.rank() {
			c.paths[i].Operation = op
		}
		return
	}
	c.index[p] = len(c.paths)
	c.paths = append(c.paths, ExtractedPath{Path: p, Operation: op})
}

func (c *pathCollector) segment(seg []token) {
	// Leading env assignments (FOO=bar cmd ...) are not the command.
	start := 0
	for start < len(seg) && !seg[start].quoted && envAssignRe.MatchString(seg[start].text) {
		start++
	}
	if start >= len(seg) {
		return
	}
	cmd := seg[start].text
	name := baseCommand(cmd)
	rest := seg[start+1:]

	if name == "dd" {
		c.ddOperands(rest)
		return
	}

	schema, known := schemas[name]
	if known && schema.writeIf != nil {
		for _, t := range rest {
			if schema.writeIf[t.text] || (name == "sed" && strings.HasPrefix(t.text, "-i")) {
				schema.op = OpWrite
				break
			}
		}
	}

	var positionals []string
	skip := schema.skip
	lastOp := schema.lastOp
	for i := 0; i < len(rest); i++ {
		t := rest[i]
		if !t.quoted {
			if redirOpRe.MatchString(t.text) {
				// The target is handled by ExtractRedirections, except input.
				if strings.HasSuffix(t.text, "<") && i+1 < len(rest) {
					c.add(rest[i+1].text, OpRead)
				}
				i++
				continue
			}
			if m := redirAttachedRe.FindStringSubmatch(t.text); m != nil {
				if m[1] == "<" {
					c.add(m[2], OpRead)
				}
				continue
			}
		}
		if known && strings.HasPrefix(t.text, "-") && len(t.text) > 1 {
			flag, value, hasValue := strings.Cut(t.text, "=")
			if op, ok := schema.flagOps[flag]; ok {
				if op == OpWrite && schema.lastOp != "" {
					lastOp = ""
				}
				if hasValue {
					c.add(value, op)
				} else if i+1 < len(rest) {
					c.add(rest[i+1].text, op)
					i++
				}
				continue
			}
			if schema.skipReset[flag] {
				skip = 0
				if !hasValue {
					i++
				}
				continue
			}
			if schema.valueFlag[flag] && !hasValue {
				i++
			}
			continue
		}
		if known && IsWindowsFlag(t.text, name) {
			continue
		}
		positionals = append(positionals, t.text)
	}

	if !known {
		for _, p := range positionals {
			if IsLikelyPath(p, name) {
				c.add(p, OpUnknown)
			}
		}
		return
	}
	if schema.noPaths {
		return
	}
	if skip > len(positionals) {
		skip = len(positionals)
	}
	positionals = positionals[skip:]
	for i, p := range positionals {
		if numericRe.MatchString(p) || p == "-" {
			continue
		}
		op := schema.op
		if lastOp != "" && i == len(positionals)-1 && len(positionals) > 1 {
			op = lastOp
		}
		// Schema positions accept bare names ("touch notes") as paths;
		// anything that is clearly not a path still is not.
		if strings.Contains(p, "://") || envAssignRe.MatchString(p) {
			continue
		}
		c.add(p, op)
	}
}

func (c *pathCollector) ddOperands(rest []token) {
	for _, t := range rest {
		k, v, ok := strings.Cut(t.text, "=")
		if !ok {
			continue
		}
		switch k {
		case "if":
			c.add(v, OpRead)
		case "of":
			c.add(v, OpWrite)
		}
	}
}
