package cmdparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- Windows flags ---

func TestIsWindowsFlag(t *testing.T) {
	tests := []struct {
		token, command string
		want           bool
	}{
		{"/s", "", true},
		{"/?", "", true},
		{"/4", "", true},
		{"/Q", "del", true},
		{"/MIR", "robocopy", true},
		{"/XD", "", true},
		{"/all", "ipconfig", true},
		{"/T:4", "", true},
		{"/E", "xcopy", true},
		{"/offline", "findstr", true},
		{"/", "", false},
		{"/", "dir", false},
		{"/tmp", "", false},
		{"/usr/bin", "findstr", false},
		{"-rf", "", false},
		{"file.txt", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsWindowsFlag(tt.token, tt.command), "IsWindowsFlag(%q, %q)", tt.token, tt.command)
	}
}

// --- Path heuristic ---

func TestIsLikelyPath(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"/etc/passwd", true},
		{"/", true},
		{`C:\Users\me`, true},
		{"D:/data", true},
		{"src/main.go", true},
		{`dir\file`, true},
		{"main.go", true},
		{"README.md", true},
		{".env", true},
		{"..", true},
		{"./run.sh", true},
		{"~/notes", true},
		{"~", true},
		{"-rf", false},
		{"--force", false},
		{"/s", false},
		{"a>b", false},
		{"x|y", false},
		{"https://example.com/a.js", false},
		{"FOO=bar/baz", false},
		{"42", false},
		{"1.5", false},
		{"install", false},
		{"", false},
		{"-", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLikelyPath(tt.token, ""), "IsLikelyPath(%q)", tt.token)
	}
}

// --- Path extraction ---

func paths(raw string) []ExtractedPath {
	return ExtractPaths(Tokenize(raw))
}

func TestExtractPaths_CopyDestinationIsWrite(t *testing.T) {
	assert.Equal(t, []ExtractedPath{
		{Path: "a.txt", Operation: OpRead},
		{Path: "b.txt", Operation: OpRead},
		{Path: "dest/", Operation: OpWrite},
	}, paths("cp -r a.txt b.txt dest/"))
}

func TestExtractPaths_TouchAllWrite(t *testing.T) {
	assert.Equal(t, []ExtractedPath{
		{Path: "one", Operation: OpWrite},
		{Path: "two.txt", Operation: OpWrite},
	}, paths("touch one two.txt"))
}

func TestExtractPaths_GrepSkipsPattern(t *testing.T) {
	assert.Equal(t, []ExtractedPath{
		{Path: "src/", Operation: OpRead},
	}, paths("grep -rn TODO src/"))

	assert.Equal(t, []ExtractedPath{
		{Path: "a.go", Operation: OpRead},
	}, paths("grep -e TODO a.go"))
}

func TestExtractPaths_SedInPlaceIsWrite(t *testing.T) {
	assert.Equal(t, []ExtractedPath{{Path: "main.go", Operation: OpWrite}}, paths("sed -i s/a/b/ main.go"))
	assert.Equal(t, []ExtractedPath{{Path: "main.go", Operation: OpRead}}, paths("sed s/a/b/ main.go"))
}

func TestExtractPaths_ChmodSkipsMode(t *testing.T) {
	assert.Equal(t, []ExtractedPath{{Path: "run.sh", Operation: OpWrite}}, paths("chmod 755 run.sh"))
}

func TestExtractPaths_Redirections(t *testing.T) {
	got := paths("cat in.txt > out.txt 2>&1")
	assert.Equal(t, []ExtractedPath{
		{Path: "out.txt", Operation: OpWrite},
		{Path: "in.txt", Operation: OpRead},
	}, got)
}

func TestExtractPaths_InputRedirectIsRead(t *testing.T) {
	got := paths("sort < data.csv")
	assert.Contains(t, got, ExtractedPath{Path: "data.csv", Operation: OpRead})
}

func TestExtractPaths_QuotedGreaterThanIsNotRedirect(t *testing.T) {
	assert.Empty(t, paths(`echo "a > b"`))
}

func TestExtractPaths_CompoundSegments(t *testing.T) {
	got := paths("cat notes.md | tee copy.md && rm old.log")
	assert.Equal(t, []ExtractedPath{
		{Path: "notes.md", Operation: OpRead},
		{Path: "copy.md", Operation: OpWrite},
		{Path: "old.log", Operation: OpWrite},
	}, got)
}

func TestExtractPaths_TargetDirectoryFlagIsWrite(t *testing.T) {
	assert.Equal(t, []ExtractedPath{
		{Path: "/etc/cron.d", Operation: OpWrite},
		{Path: "evil", Operation: OpRead},
	}, paths("cp -t /etc/cron.d evil"))

	assert.Equal(t, []ExtractedPath{
		{Path: "/etc", Operation: OpWrite},
		{Path: "x", Operation: OpRead},
		{Path: "y", Operation: OpRead},
	}, paths("mv --target-directory=/etc x y"))

	assert.Equal(t, []ExtractedPath{
		{Path: "/usr/local/bin", Operation: OpWrite},
		{Path: "tool", Operation: OpRead},
	}, paths("install -m 0755 -t /usr/local/bin tool"))

	assert.Equal(t, []ExtractedPath{
		{Path: "/opt/links", Operation: OpWrite},
		{Path: "a", Operation: OpRead},
	}, paths("ln -s -t /opt/links a"))
}

func TestExtractPaths_SemicolonGlued(t *testing.T) {
	got := paths("cat a.txt; touch b.txt")
	assert.Equal(t, []ExtractedPath{
		{Path: "a.txt", Operation: OpRead},
		{Path: "b.txt", Operation: OpWrite},
	}, got)
}

func TestExtractPaths_UnknownCommandUsesHeuristic(t *testing.T) {
	got := paths("mytool --flag value ./config.yaml /var/data plain")
	assert.Equal(t, []ExtractedPath{
		{Path: "./config.yaml", Operation: OpUnknown},
		{Path: "/var/data", Operation: OpUnknown},
	}, got)
}

func TestExtractPaths_Dd(t *testing.T) {
	got := paths("dd if=/dev/zero of=disk.img bs=1M count=10")
	assert.Equal(t, []ExtractedPath{
		{Path: "/dev/zero", Operation: OpRead},
		{Path: "disk.img", Operation: OpWrite},
	}, got)
}

func TestExtractPaths_CurlOutputFlag(t *testing.T) {
	got := paths("curl -sSL -o install.sh https://example.com/install.sh")
	assert.Equal(t, []ExtractedPath{{Path: "install.sh", Operation: OpWrite}}, got)
}

func TestExtractPaths_RmRoot(t *testing.T) {
	assert.Equal(t, []ExtractedPath{{Path: "/", Operation: OpWrite}}, paths("rm -rf /"))
}

func TestExtractPaths_WindowsCopy(t *testing.T) {
	got := paths(`xcopy /E /I src dst`)
	assert.Equal(t, []ExtractedPath{
		{Path: "src", Operation: OpRead},
		{Path: "dst", Operation: OpWrite},
	}, got)
}

func TestExtractPaths_Dedup(t *testing.T) {
	got := paths("cp file.txt file.txt.bak; cat file.txt")
	assert.Len(t, got, 2)
}

func TestExtractPaths_EnvPrefix(t *testing.T) {
	got := paths("LANG=C cat README.md")
	assert.Equal(t, []ExtractedPath{{Path: "README.md", Operation: OpRead}}, got)
}

// --- Segments ---

func TestSegments_SplitsAtControlOperators(t *testing.T) {
	tests := []struct {
		raw  string
		want [][]string
	}{
		{"ls", [][]string{{"ls"}}},
		{"ls && sudo chown -R me /etc", [][]string{{"ls"}, {"sudo", "chown", "-R", "me", "/etc"}}},
		{"cat a | sh", [][]string{{"cat", "a"}, {"sh"}}},
		{"make || rm -f out", [][]string{{"make"}, {"rm", "-f", "out"}}},
		{"cd a; git push", [][]string{{"cd", "a"}, {"git", "push"}}},
		{"sleep 1 & reboot", [][]string{{"sleep", "1"}, {"reboot"}}},
		{"FOO=1 BAR=2 npm test", [][]string{{"npm", "test"}}},
		{`echo "a && b"`, [][]string{{"echo", "a && b"}}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Segments(Tokenize(tt.raw)), "Segments(%q)", tt.raw)
	}
}

func TestSegments_FindsGluedAndNestedCommands(t *testing.T) {
	tests := []struct {
		raw     string
		contain []string
	}{
		{"cat a|sh", []string{"sh"}},
		{"ls&&sudo id", []string{"sudo", "id"}},
		{"echo $(sudo id)", []string{"sudo", "id"}},
		{"echo `rm -rf x`", []string{"rm", "-rf", "x"}},
		{"(cd /; sudo ls)", []string{"sudo", "ls"}},
	}
	for _, tt := range tests {
		assert.Contains(t, Segments(Tokenize(tt.raw)), tt.contain, "Segments(%q)", tt.raw)
	}
}

func TestSegments_EmptyAndUnparsable(t *testing.T) {
	assert.Empty(t, Segments(Tokenize("   ")))
	assert.Empty(t, Segments(Tokenize(";")))
	// Broken quoting falls back to the token split alone.
	assert.Equal(t, [][]string{{"echo", "it's && fine"}}, Segments(Tokenize(`echo "it's && fine`)))
}

// --- Domains ---

func domains(raw string) []string {
	return ExtractDomains(Tokenize(raw))
}

func TestExtractDomains_URLs(t *testing.T) {
	assert.Equal(t, []string{"example.com"}, domains("curl -fsSL https://Example.com/install.sh"))
	assert.Equal(t, []string{"api.github.com", "localhost"},
		domains("curl https://api.github.com/repos && curl http://localhost:8080/health"))
}

func TestExtractDomains_ScpStyleRemote(t *testing.T) {
	assert.Equal(t, []string{"github.com"}, domains("git clone git@github.com:org/repo.git"))
}

func TestExtractDomains_BareHosts(t *testing.T) {
	assert.Equal(t, []string{"example.org"}, domains("curl example.org"))
	assert.Equal(t, []string{"build.internal.dev"}, domains("ssh -p 2222 deploy@build.internal.dev"))
	assert.Equal(t, []string{"10.0.0.5"}, domains("ping 10.0.0.5"))
	assert.Empty(t, domains("curl -o out.json"))
}

func TestExtractDomains_PackageManagerDefaults(t *testing.T) {
	assert.Equal(t, []string{"registry.npmjs.org"}, domains("npm install lodash"))
	assert.Equal(t, []string{"pypi.org", "files.pythonhosted.org"}, domains("pip install requests"))
	assert.Equal(t, []string{"pypi.org", "files.pythonhosted.org"}, domains("python3 -m pip install requests"))
	assert.Equal(t, []string{"crates.io", "static.crates.io"}, domains("cargo add serde"))
	assert.Equal(t, []string{"registry.yarnpkg.com"}, domains("yarn"))
	assert.Empty(t, domains("npm test"))
	assert.Empty(t, domains("go test ./..."))
}

func TestExtractDomains_None(t *testing.T) {
	assert.Equal(t, []string{}, domains("ls -la"))
}

// --- Ports ---

func ports(raw string) []int {
	return ExtractPorts(Tokenize(raw))
}

func TestExtractPorts(t *testing.T) {
	tests := []struct {
		raw  string
		want []int
	}{
		{"python -m http.server --port 8000", []int{8000}},
		{"vite --port=5173", []int{5173}},
		{"ssh -p 2222 host.example.com", []int{2222}},
		{"docker run -p 8080:80 nginx", []int{80, 8080}},
		{"curl http://localhost:3000/api", []int{3000}},
		{"PORT=4000 npm start", []int{4000}},
		{"redis-cli -h cache.example.com -p6379", []int{6379}},
		{"nc example.com:99999", []int{}},
		{"serve --port 0", []int{}},
		{"ls -la", []int{}},
		{"a --port 80 b --port 80 localhost:80", []int{80}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ports(tt.raw), tt.raw)
	}
}
