package environment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"execgate/internal/domain"
)

func fakeProbe(goos string, env map[string]string, files map[string]string) Probe {
	return Probe{
		GOOS:   goos,
		Getenv: func(k string) string { return env[k] },
		ReadFile: func(p string) ([]byte, error) {
			if s, ok := files[p]; ok {
				return []byte(s), nil
			}
			return nil, os.ErrNotExist
		},
		Stat: func(p string) (os.FileInfo, error) {
			if _, ok := files[p]; ok {
				return nil, nil
			}
			return nil, os.ErrNotExist
		},
	}
}

func TestDetect_Defaults(t *testing.T) {
	root := t.TempDir()
	env, err := Detect(fakeProbe("linux", map[string]string{"SHELL": "/bin/zsh"}, nil), Options{WorkspaceRoot: root})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if env.WorkspaceRoot != filepath.Clean(root) || env.Cwd != env.WorkspaceRoot {
		t.Fatalf("unexpected root/cwd: %s %s", env.WorkspaceRoot, env.Cwd)
	}
	if env.Backend != "zsh" {
		t.Fatalf("expected zsh backend, got %s", env.Backend)
	}
	if env.TrustLevel != domain.TrustUntrusted {
		t.Fatalf("new environment must start untrusted, got %s", env.TrustLevel)
	}
	if env.NetworkPolicy != domain.NetworkAllow {
		t.Fatalf("expected allow network policy, got %s", env.NetworkPolicy)
	}
	if env.IsContainer || env.IsWSL {
		t.Fatal("expected plain host")
	}
}

func TestDetect_ContainerAndWSL(t *testing.T) {
	probe := fakeProbe("linux", nil, map[string]string{
		"/.dockerenv":   "",
		"/proc/version": "Linux version 5.15.90.1-microsoft-standard-WSL2",
	})
	env, err := Detect(probe, Options{WorkspaceRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !env.IsContainer || !env.IsWSL {
		t.Fatalf("expected container+wsl, got %+v", env)
	}
}

func TestDetect_CgroupContainer(t *testing.T) {
	probe := fakeProbe("linux", nil, map[string]string{"/proc/1/cgroup": "0::/kubepods/besteffort/pod1"})
	env, _ := Detect(probe, Options{WorkspaceRoot: t.TempDir()})
	if !env.IsContainer {
		t.Fatal("expected kubepods cgroup to mark a container")
	}
}

func TestDetect_WindowsBackend(t *testing.T) {
	env, _ := Detect(fakeProbe("windows", map[string]string{"PSModulePath": `C:\ps`}, nil), Options{WorkspaceRoot: t.TempDir()})
	if env.Backend != "powershell" {
		t.Fatalf("expected powershell, got %s", env.Backend)
	}
	env, _ = Detect(fakeProbe("windows", nil, nil), Options{WorkspaceRoot: t.TempDir()})
	if env.Backend != "cmd" {
		t.Fatalf("expected cmd, got %s", env.Backend)
	}
}

func TestDetect_CwdOutsideRootIsHardError(t *testing.T) {
	root := t.TempDir()
	_, err := Detect(fakeProbe("linux", nil, nil), Options{WorkspaceRoot: root, Cwd: "/"})
	if !errors.Is(err, ErrCwdOutsideWorkspace) {
		t.Fatalf("expected ErrCwdOutsideWorkspace, got %v", err)
	}
}

func TestDetect_RelativeCwd(t *testing.T) {
	root := t.TempDir()
	env, err := Detect(fakeProbe("linux", nil, nil), Options{WorkspaceRoot: root, Cwd: "src/pkg"})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if env.Cwd != filepath.Join(root, "src", "pkg") {
		t.Fatalf("unexpected cwd %s", env.Cwd)
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root, path string
		want       bool
	}{
		{"/work", "/work", true},
		{"/work", "/work/a/b", true},
		{"/work", "/work/../etc", false},
		{"/work", "/workshop", false},
		{"/work", "/", false},
		{"/work", "/work/..data", true},
	}
	for _, tt := range tests {
		if got := Within(tt.root, tt.path); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}

func TestContains_FollowsSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "src"), filepath.Join(root, "alias")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "src", "new", "file.go"), true},
		{filepath.Join(root, "alias", "file.go"), true},
		{filepath.Join(root, "escape"), false},
		{filepath.Join(root, "escape", "deep", "file.go"), false},
	}
	for _, tt := range tests {
		if got := Contains(root, tt.path); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	want, _ := filepath.EvalSymlinks(outside)
	if got := RealPath(filepath.Join(root, "escape", "a", "b")); got != filepath.Join(want, "a", "b") {
		t.Fatalf("RealPath kept the missing tail wrong: %q", got)
	}
}

func TestHolder_Apply(t *testing.T) {
	root := t.TempDir()
	env, _ := Detect(fakeProbe("linux", nil, nil), Options{WorkspaceRoot: root})
	h := NewHolder(env)

	sub := "sub"
	level := domain.TrustSession
	next, err := h.Apply(Update{Cwd: &sub, TrustLevel: &level})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Cwd != filepath.Join(root, "sub") || next.TrustLevel != domain.TrustSession {
		t.Fatalf("unexpected env %+v", next)
	}
	if h.Get().TrustLevel != domain.TrustSession {
		t.Fatal("holder did not keep the update")
	}
}

func TestHolder_ApplyRejectsEscapingCwd(t *testing.T) {
	root := t.TempDir()
	env, _ := Detect(fakeProbe("linux", nil, nil), Options{WorkspaceRoot: root})
	h := NewHolder(env)

	escape := "../.."
	level := domain.TrustPersistent
	_, err := h.Apply(Update{Cwd: &escape, TrustLevel: &level})
	if !errors.Is(err, ErrCwdOutsideWorkspace) {
		t.Fatalf("expected ErrCwdOutsideWorkspace, got %v", err)
	}
	got := h.Get()
	if got.Cwd != root || got.TrustLevel != domain.TrustUntrusted {
		t.Fatalf("rejected update must not be partially applied: %+v", got)
	}
}

func TestHolder_ApplyValidatesNetworkPolicy(t *testing.T) {
	env, _ := Detect(fakeProbe("linux", nil, nil), Options{WorkspaceRoot: t.TempDir()})
	h := NewHolder(env)

	bad := "sometimes"
	if _, err := h.Apply(Update{NetworkPolicy: &bad}); err == nil {
		t.Fatal("expected error for unknown policy")
	}
	ok := domain.NetworkRestricted
	if _, err := h.Apply(Update{NetworkPolicy: &ok, AllowedDomains: []string{"github.com"}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got := h.Get()
	if got.NetworkPolicy != domain.NetworkRestricted || len(got.AllowedDomains) != 1 {
		t.Fatalf("unexpected env %+v", got)
	}
}

func TestHolder_GetReturnsCopy(t *testing.T) {
	env, _ := Detect(fakeProbe("linux", nil, nil), Options{WorkspaceRoot: t.TempDir(), AllowedDomains: []string{"a.com"}})
	h := NewHolder(env)
	snap := h.Get()
	snap.AllowedDomains[0] = "evil.com"
	if h.Get().AllowedDomains[0] != "a.com" {
		t.Fatal("snapshot mutation leaked into holder")
	}
}
