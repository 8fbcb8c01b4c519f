package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for execgate.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Security SecurityConfig `json:"security"`
	Network  NetworkConfig  `json:"network"`
	Rules    RulesConfig    `json:"rules"`
	Trust    TrustConfig    `json:"trust"`
	Audit    AuditConfig    `json:"audit"`
	Tools    ToolsConfig    `json:"tools"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"` // empty = current directory
	LogLevel  string `json:"logLevel"`
	LogFile   string `json:"logFile,omitempty"`
}

type SecurityConfig struct {
	ConfirmTimeoutSeconds int      `json:"confirmTimeoutSeconds"`
	AutoApproveLow        bool     `json:"autoApproveLow"`
	AutoApproveMedium     bool     `json:"autoApproveMedium"`
	Blocklist             []string `json:"blocklist"`
	Allowlist             []string `json:"allowlist"`
	RequireTrust          bool     `json:"requireTrust"`
}

type NetworkConfig struct {
	Policy         string   `json:"policy"` // "allow" | "restricted" | "deny"
	AllowedDomains []string `json:"allowedDomains,omitempty"`
}

type RulesConfig struct {
	StorePath string `json:"storePath"`
	PacksDir  string `json:"packsDir,omitempty"`
}

type TrustConfig struct {
	StorePath string `json:"storePath"`
}

type AuditConfig struct {
	Enabled   bool   `json:"enabled"`
	Dir       string `json:"dir"`
	Index     bool   `json:"index"`
	IndexPath string `json:"indexPath,omitempty"`
}

type ToolsConfig struct {
	Shell ShellToolConfig `json:"shell"`
}

type ShellToolConfig struct {
	Timeout        int `json:"timeout"`
	MaxOutputBytes int `json:"maxOutputBytes"`
}

// DefaultConfigDir returns the per-user config directory (~/.execgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".execgate"
	}
	return filepath.Join(home, ".execgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads path over Defaults. A missing file is not an error: the
// defaults are returned as is.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
	} else {
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.General.Workspace = ExpandPath(c.General.Workspace)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Rules.StorePath = ExpandPath(c.Rules.StorePath)
	c.Rules.PacksDir = ExpandPath(c.Rules.PacksDir)
	c.Trust.StorePath = ExpandPath(c.Trust.StorePath)
	c.Audit.Dir = ExpandPath(c.Audit.Dir)
	c.Audit.IndexPath = ExpandPath(c.Audit.IndexPath)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset VAR
// with no default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.Security.ConfirmTimeoutSeconds < 1 || cfg.Security.ConfirmTimeoutSeconds > 3600 {
		errs = append(errs, "security.confirmTimeoutSeconds must be between 1 and 3600")
	}
	switch cfg.Network.Policy {
	case "allow", "restricted", "deny":
	default:
		errs = append(errs, "network.policy must be one of: allow, restricted, deny")
	}
	for _, d := range cfg.Network.AllowedDomains {
		if strings.TrimSpace(d) == "" || strings.ContainsAny(d, "/ ") {
			errs = append(errs, fmt.Sprintf("network.allowedDomains: invalid domain %q", d))
		}
	}
	if cfg.Rules.StorePath == "" {
		errs = append(errs, "rules.storePath is required")
	}
	if cfg.Trust.StorePath == "" {
		errs = append(errs, "trust.storePath is required")
	}
	if cfg.Audit.Enabled && cfg.Audit.Dir == "" {
		errs = append(errs, "audit.dir is required when audit is enabled")
	}
	if cfg.Audit.Index && cfg.Audit.IndexPath == "" {
		errs = append(errs, "audit.indexPath is required when audit.index is on")
	}
	if cfg.Tools.Shell.Timeout < 1 {
		errs = append(errs, "tools.shell.timeout must be >= 1")
	}
	if cfg.Tools.Shell.MaxOutputBytes < 1024 {
		errs = append(errs, "tools.shell.maxOutputBytes must be >= 1024")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
