// Package environment detects and holds the process-wide execution
// environment: OS, shell backend, workspace root, cwd, network policy and
// the current trust level.
package environment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"execgate/internal/domain"
)

// ErrCwdOutsideWorkspace is returned whenever a cwd would resolve outside
// the workspace root. The cwd is never clamped.
var ErrCwdOutsideWorkspace = errors.New("cwd is outside the workspace root")

// Probe supplies the host facts detection needs. Tests substitute their own.
type Probe struct {
	GOOS     string
	Getenv   func(string) string
	ReadFile func(string) ([]byte, error)
	Stat     func(string) (os.FileInfo, error)
}

// HostProbe reads the real host.
func HostProbe() Probe {
	return Probe{
		GOOS:     runtime.GOOS,
		Getenv:   os.Getenv,
		ReadFile: os.ReadFile,
		Stat:     os.Stat,
	}
}

// Options are the non-detected inputs to Detect.
type Options struct {
	WorkspaceRoot  string
	Cwd            string
	NetworkPolicy  string
	AllowedDomains []string
}

// Detect builds the environment. Cwd defaults to the workspace root and
// must lie inside it.
func Detect(probe Probe, opts Options) (domain.ExecutionEnvironment, error) {
	root, err := filepath.Abs(opts.WorkspaceRoot)
	if err != nil {
		return domain.ExecutionEnvironment{}, fmt.Errorf("resolve workspace root: %w", err)
	}
	root = filepath.Clean(root)

	cwd := root
	if opts.Cwd != "" {
		cwd, err = ResolveCwd(root, cwd)
		if err != nil {
			return domain.ExecutionEnvironment{}, err
		}
	}

	policy := opts.NetworkPolicy
	if policy == "" {
		policy = domain.NetworkAllow
	}

	return domain.ExecutionEnvironment{
		OS:             probe.GOOS,
		Backend:        detectBackend(probe),
		WorkspaceRoot:  root,
		Cwd:            cwd,
		NetworkPolicy:  policy,
		AllowedDomains: append([]string(nil), opts.AllowedDomains...),
		TrustLevel:     domain.TrustUntrusted,
		IsContainer:    detectContainer(probe),
		IsWSL:          detectWSL(probe),
	}, nil
}

func detectBackend(p Probe) string {
	if p.GOOS == "windows" {
		if p.Getenv("PSModulePath") != "" && p.Getenv("PROMPT") == "" {
			return "powershell"
		}
		return "cmd"
	}
	shell := p.Getenv("SHELL")
	if shell == "" {
		return "sh"
	}
	return filepath.Base(shell)
}

func detectContainer(p Probe) bool {
	if p.Getenv("container") != "" {
		return true
	}
	if p.Stat != nil {
		if _, err := p.Stat("/.dockerenv"); err == nil {
			return true
		}
		if _, err := p.Stat("/run/.containerenv"); err == nil {
			return true
		}
	}
	if p.ReadFile != nil {
		if data, err := p.ReadFile("/proc/1/cgroup"); err == nil {
			s := string(data)
			for _, marker := range []string{"docker", "kubepods", "containerd", "lxc", "podman"} {
				if strings.Contains(s, marker) {
					return true
				}
			}
		}
	}
	return false
}

func detectWSL(p Probe) bool {
	if p.GOOS != "linux" {
		return false
	}
	if p.Getenv("WSL_DISTRO_NAME") != "" || p.Getenv("WSL_INTEROP") != "" {
		return true
	}
	if p.ReadFile != nil {
		if data, err := p.ReadFile("/proc/version"); err == nil {
			return strings.Contains(strings.ToLower(string(data)), "microsoft")
		}
	}
	return false
}

// ResolveCwd resolves cwd (absolute, or relative to root) and checks that
// it stays inside root.
func ResolveCwd(root, cwd string) (string, error) {
	if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(root, cwd)
	}
	cwd = filepath.Clean(cwd)
	if !Within(root, cwd) {
		return "", fmt.Errorf("%w: %s not in %s", ErrCwdOutsideWorkspace, cwd, root)
	}
	return cwd, nil
}

// Within reports whether path equals root or lies beneath it. Both are
// compared lexically after cleaning.
func Within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Contains is Within after symlinks are resolved on both sides, so a link
// inside root that points elsewhere does not count as inside. Path parts
// that do not exist yet are kept as written below their deepest existing
// ancestor.
func Contains(root, path string) bool {
	return Within(RealPath(root), RealPath(path))
}

// RealPath resolves symlinks in the deepest existing ancestor of path and
// appends the remaining, not yet existing, components.
func RealPath(path string) string {
	path = filepath.Clean(path)
	var rest []string
	cur := path
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			for i := len(rest) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, rest[i])
			}
			return resolved
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

// Update is an explicit change to the live environment. Nil fields are
// left alone.
type Update struct {
	Cwd            *string
	TrustLevel     *domain.TrustLevel
	NetworkPolicy  *string
	AllowedDomains []string
}

// Holder owns the live environment. Reads return snapshots; the only way to
// change it is Apply.
type Holder struct {
	mu  sync.RWMutex
	env domain.ExecutionEnvironment
}

func NewHolder(env domain.ExecutionEnvironment) *Holder {
	return &Holder{env: env}
}

// Get returns a copy of the current environment.
func (h *Holder) Get() domain.ExecutionEnvironment {
	h.mu.RLock()
	defer h.mu.RUnlock()
	env := h.env
	env.AllowedDomains = append([]string(nil), h.env.AllowedDomains...)
	return env
}

// Apply validates and applies u atomically. A cwd outside the workspace
// root rejects the whole update.
func (h *Holder) Apply(u Update) (domain.ExecutionEnvironment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.env
	if u.Cwd != nil {
		cwd, err := ResolveCwd(next.WorkspaceRoot, *u.Cwd)
		if err != nil {
			return h.env, err
		}
		next.Cwd = cwd
	}
	if u.TrustLevel != nil {
		next.TrustLevel = *u.TrustLevel
	}
	if u.NetworkPolicy != nil {
		switch *u.NetworkPolicy {
		case domain.NetworkAllow, domain.NetworkRestricted, domain.NetworkDeny:
			next.NetworkPolicy = *u.NetworkPolicy
		default:
			return h.env, fmt.Errorf("unknown network policy %q", *u.NetworkPolicy)
		}
	}
	if u.AllowedDomains != nil {
		next.AllowedDomains = append([]string(nil), u.AllowedDomains...)
	}
	h.env = next
	return next, nil
}

// SetTrustLevel is shorthand for Apply with only the trust level.
func (h *Holder) SetTrustLevel(level domain.TrustLevel) {
	h.Apply(Update{TrustLevel: &level})
}
