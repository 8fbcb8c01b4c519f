package config

import "execgate/internal/risk"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Security: SecurityConfig{
			ConfirmTimeoutSeconds: 60,
			AutoApproveLow:        true,
			AutoApproveMedium:     false,
			Blocklist:             append([]string(nil), risk.DefaultBlocklist...),
			Allowlist:             append([]string(nil), risk.DefaultAllowlist...),
			RequireTrust:          true,
		},
		Network: NetworkConfig{
			Policy: "allow",
		},
		Rules: RulesConfig{
			StorePath: "~/.execgate/rules.json",
			PacksDir:  "~/.execgate/rules.d",
		},
		Trust: TrustConfig{
			StorePath: "~/.execgate/trusted-workspaces.json",
		},
		Audit: AuditConfig{
			Enabled:   true,
			Dir:       "~/.execgate/audit",
			Index:     false,
			IndexPath: "~/.execgate/audit.db",
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout:        30,
				MaxOutputBytes: 65536,
			},
		},
	}
}

// RiskPolicy converts the security section for the permission manager.
func (c *Config) RiskPolicy() risk.Policy {
	return risk.Policy{
		Blocklist:         c.Security.Blocklist,
		Allowlist:         c.Security.Allowlist,
		AutoApproveLow:    c.Security.AutoApproveLow,
		AutoApproveMedium: c.Security.AutoApproveMedium,
	}
}
