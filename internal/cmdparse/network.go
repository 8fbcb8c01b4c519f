package cmdparse

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	urlRe = regexp.MustCompile(`(?i)\b(?:https?|ftp|sftp|ssh|git|wss?)://[^\s'"<>]+`)
	// git@github.com:org/repo.git
	scpLikeRe = regexp.MustCompile(`(?i)(?:^|[\s'"])[a-z0-9._-]+@([a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}):`)
	hostRe    = regexp.MustCompile(`(?i)^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\.[a-z]{2,}$`)
	ipv4Re    = regexp.MustCompile(`^\d{1,3}(?:\.\d{1,3}){3}$`)

	hostPortRe = regexp.MustCompile(`(?i)(?:localhost|\[[0-9a-f:]+\]|\d{1,3}(?:\.\d{1,3}){3}|[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}):(\d{1,5})\b`)
	portEnvRe  = regexp.MustCompile(`(?i)\b[A-Z_]*PORT=(\d{1,5})\b`)
	portFlagRe = regexp.MustCompile(`^--port=(\d{1,5})$`)
	publishRe  = regexp.MustCompile(`^(?:[\d.]+:)?(\d{1,5}):(\d{1,5})(?:/\w+)?$`)
)

// Commands whose bare host arguments are network destinations.
var hostArgCommands = map[string]bool{
	"curl": true, "wget": true, "ssh": true, "scp": true, "sftp": true, "ping": true,
	"nc": true, "ncat": true, "netcat": true, "telnet": true, "ftp": true, "http": true,
	"https": true, "dig": true, "nslookup": true, "host": true, "rsync": true,
	"traceroute": true, "mosh": true,
}

// registry lists the domains a tool contacts for a subcommand even when no
// URL appears on the command line. An empty subcommand key means "always".
type registry struct {
	subcommands map[string]bool
	domains     []string
}

var defaultRegistries = map[string]registry{
	"npm":  {set("install", "i", "add", "ci", "update", "up", "publish", "view", "info", "outdated", "audit"), []string{"registry.npmjs.org"}},
	"npx":  {nil, []string{"registry.npmjs.org"}},
	"yarn": {set("", "add", "install", "upgrade", "up", "publish", "dlx"), []string{"registry.yarnpkg.com"}},
	"pnpm": {set("add", "install", "i", "update", "up", "publish", "dlx"), []string{"registry.npmjs.org"}},
	"bun":  {set("add", "install", "i", "update", "x"), []string{"registry.npmjs.org"}},
	"pip":  {set("install", "download", "wheel"), []string{"pypi.org", "files.pythonhosted.org"}},
	"pip3": {set("install", "download", "wheel"), []string{"pypi.org", "files.pythonhosted.org"}},
	"uv":   {set("add", "sync", "pip", "tool", "run"), []string{"pypi.org", "files.pythonhosted.org"}},
	"poetry": {set("add", "install", "update", "lock", "publish"),
		[]string{"pypi.org", "files.pythonhosted.org"}},
	"cargo": {set("install", "add", "build", "fetch", "update", "publish", "search"), []string{"crates.io", "static.crates.io"}},
	"go":    {set("get", "install", "mod"), []string{"proxy.golang.org", "sum.golang.org"}},
	"gem":   {set("install", "update", "push", "fetch"), []string{"rubygems.org"}},
	"bundle": {set("", "install", "update", "add"),
		[]string{"rubygems.org"}},
	"brew":     {set("install", "upgrade", "update", "fetch", "reinstall"), []string{"formulae.brew.sh", "ghcr.io"}},
	"docker":   {set("pull", "push", "run", "build", "login", "search"), []string{"registry-1.docker.io"}},
	"podman":   {set("pull", "push", "run", "build", "login", "search"), []string{"registry-1.docker.io"}},
	"composer": {set("install", "require", "update"), []string{"repo.packagist.org"}},
	"apt":      {set("install", "update", "upgrade"), []string{"deb.debian.org"}},
	"apt-get":  {set("install", "update", "upgrade"), []string{"deb.debian.org"}},
}

// ExtractDomains returns the hosts the command will contact: hosts of
// literal URLs, scp-style remotes, bare host arguments of network tools, and
// the default registries of package managers. Results are lower-cased and
// deduplicated in order of appearance.
func ExtractDomains(parsed ParsedCommand) []string {
	var out []string
	seen := map[string]bool{}
	add := func(h string) {
		h = strings.ToLower(strings.TrimSuffix(h, "."))
		if h == "" || seen[h] {
			return
		}
		seen[h] = true
		out = append(out, h)
	}

	for _, raw := range urlRe.FindAllString(parsed.RawCommand, -1) {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			add(u.Hostname())
		}
	}
	for _, m := range scpLikeRe.FindAllStringSubmatch(parsed.RawCommand, -1) {
		add(m[1])
	}

	for _, seg := range splitSegments(parsed) {
		start := 0
		for start < len(seg) && !seg[start].quoted && envAssignRe.MatchString(seg[start].text) {
			start++
		}
		if start >= len(seg) {
			continue
		}
		name := baseCommand(seg[start].text)
		args := seg[start+1:]

		if hostArgCommands[name] {
			for _, a := range args {
				if h := bareHost(a.text); h != "" {
					add(h)
				}
			}
		}

		// python -m pip install ...
		if (name == "python" || name == "python3") && len(args) >= 2 && args[0].text == "-m" {
			name = baseCommand(args[1].text)
			args = args[2:]
		}
		reg, ok := defaultRegistries[name]
		if !ok {
			continue
		}
		sub := firstPositional(args)
		if reg.subcommands == nil || reg.subcommands[sub] {
			for _, d := range reg.domains {
				add(d)
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func firstPositional(args []token) string {
	for _, a := range args {
		if !strings.HasPrefix(a.text, "-") {
			return strings.ToLower(a.text)
		}
	}
	return ""
}

// bareHost extracts a hostname from user@host, host:port or host/path forms.
func bareHost(arg string) string {
	if arg == "" || strings.HasPrefix(arg, "-") || strings.Contains(arg, "://") {
		return ""
	}
	if i := strings.LastIndex(arg, "@"); i >= 0 {
		arg = arg[i+1:]
	}
	if i := strings.IndexAny(arg, ":/"); i >= 0 {
		arg = arg[:i]
	}
	if ipv4Re.MatchString(arg) {
		return arg
	}
	if !hostRe.MatchString(arg) {
		return ""
	}
	// file.txt and archive.tar.gz look like hosts; real TLDs are letters
	// and not a common file extension.
	if commonFileExt[strings.ToLower(arg[strings.LastIndex(arg, ".")+1:])] {
		return ""
	}
	return arg
}

var commonFileExt = map[string]bool{
	"txt": true, "json": true, "yaml": true, "yml": true, "gz": true, "tgz": true,
	"zip": true, "tar": true, "log": true, "md": true, "sh": true, "py": true,
	"js": true, "ts": true, "html": true, "xml": true, "csv": true, "pem": true,
	"key": true, "conf": true, "cfg": true, "ini": true, "toml": true, "lock": true,
}

// ExtractPorts returns the TCP ports named on the command line via -p,
// --port, host:port, NAME_PORT=n and container publish specs (8080:80).
// Only 1..65535 are kept; the result is sorted and unique.
func ExtractPorts(parsed ParsedCommand) []int {
	seen := map[int]bool{}
	add := func(s string) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 65535 {
			return
		}
		seen[n] = true
	}

	argv := parsed.Argv
	for i, t := range argv {
		switch {
		case t == "-p" || t == "--port" || t == "--publish" || t == "-P" && baseCommand(parsed.Command) == "scp":
			if i+1 < len(argv) {
				addPortSpec(argv[i+1], add)
			}
		case portFlagRe.MatchString(t):
			add(portFlagRe.FindStringSubmatch(t)[1])
		case strings.HasPrefix(t, "--publish="):
			addPortSpec(strings.TrimPrefix(t, "--publish="), add)
		case strings.HasPrefix(t, "-p") && len(t) > 2 && isDigits(t[2:]):
			add(t[2:])
		}
	}
	for _, m := range hostPortRe.FindAllStringSubmatch(parsed.RawCommand, -1) {
		add(m[1])
	}
	for _, m := range portEnvRe.FindAllStringSubmatch(parsed.RawCommand, -1) {
		add(m[1])
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

func addPortSpec(spec string, add func(string)) {
	if m := publishRe.FindStringSubmatch(spec); m != nil {
		add(m[1])
		add(m[2])
		return
	}
	if isDigits(spec) {
		add(spec)
	}
}

func isDigits(s string) bool {
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
