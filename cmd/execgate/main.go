package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"execgate/internal/audit"
	"execgate/internal/config"
	"execgate/internal/domain"
	"execgate/internal/environment"
	"execgate/internal/gate"
	"execgate/internal/policy"
	"execgate/internal/risk"
	"execgate/internal/trust"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version       = "0.1.0"
	logger        *slog.Logger
	configPath    string // overridable via --config flag
	workspaceFlag string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "execgate",
		Short:         "execgate: zero-trust execution gate for coding agents",
		Long:          "execgate decides whether an agent may run a shell command, touch a file or write generated code, and records every decision.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.execgate/config.json)")
	root.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "workspace root (default: general.workspace or the current directory)")

	root.AddCommand(initCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(runCmd())
	root.AddCommand(writeCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(trustCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the state directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.Rules.PacksDir, cfg.Audit.Dir} {
				if dir == "" {
					continue
				}
				if err := os.MkdirAll(config.ExpandPath(dir), 0o700); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads ~/.execgate/.env (never overriding the real environment),
// then the config file, and rebuilds the logger from the loaded settings.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load(filepath.Join(config.DefaultConfigDir(), ".env"))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if workspaceFlag != "" {
		cfg.General.Workspace = config.ExpandPath(workspaceFlag)
	}
	if l, err := newLogger(cfg.General); err == nil {
		logger = l
	} else {
		logger.Warn("log file unavailable, logging to stderr only", "err", err)
	}
	return cfg, nil
}

func newLogger(g config.GeneralConfig) (*slog.Logger, error) {
	var out io.Writer = os.Stderr
	var err error
	if g.LogFile != "" {
		var f *os.File
		if err = os.MkdirAll(filepath.Dir(g.LogFile), 0o700); err == nil {
			f, err = os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		}
		if err == nil {
			out = io.MultiWriter(os.Stderr, f)
		}
	}
	l := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(g.LogLevel)}))
	return l, err
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app is one wired gate plus everything that must be closed after it.
type app struct {
	cfg    *config.Config
	env    *environment.Holder
	rules  *policy.Engine
	trust  *trust.Manager
	broker *risk.Broker
	log    *audit.Log
	index  *audit.SQLiteIndex
	gate   *gate.Gate
	cancel context.CancelFunc
}

func (r *app) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.log != nil {
		r.log.Close()
	}
	if r.index != nil {
		r.index.Close()
	}
}

func workspaceRoot(cfg *config.Config) (string, error) {
	if cfg.General.Workspace != "" {
		return cfg.General.Workspace, nil
	}
	return os.Getwd()
}

// openAudit starts an audit session per the config. The index is nil unless
// enabled and openable.
func openAudit(cfg *config.Config) (*audit.Log, *audit.SQLiteIndex) {
	if !cfg.Audit.Enabled {
		return audit.Open("", logger), nil
	}
	log := audit.Open(cfg.Audit.Dir, logger)
	if !cfg.Audit.Index {
		return log, nil
	}
	idx, err := audit.NewSQLiteIndex(cfg.Audit.IndexPath, logger)
	if err != nil {
		logger.Warn("audit index unavailable", "path", cfg.Audit.IndexPath, "err", err)
		return log, nil
	}
	return log.WithIndex(idx), idx
}

// buildApp wires config into a gate: environment, audit log (with the
// optional SQLite index), rule engine with packs, permission manager,
// confirmation broker served on the terminal, and trust manager.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	workspace, err := workspaceRoot(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, err
	}

	env, err := environment.Detect(environment.HostProbe(), environment.Options{
		WorkspaceRoot:  workspace,
		NetworkPolicy:  cfg.Network.Policy,
		AllowedDomains: cfg.Network.AllowedDomains,
	})
	if err != nil {
		return nil, fmt.Errorf("detect environment: %w", err)
	}
	rt := &app{cfg: cfg, env: environment.NewHolder(env)}

	rt.log, rt.index = openAudit(cfg)

	rt.rules = policy.NewEngine(policy.NewRuleStore(cfg.Rules.StorePath, logger), logger)
	if cfg.Rules.PacksDir != "" {
		if n, err := rt.rules.LoadRulePacks(cfg.Rules.PacksDir); err != nil {
			logger.Warn("rule packs not loaded", "dir", cfg.Rules.PacksDir, "err", err)
		} else if n > 0 {
			logger.Debug("rule packs loaded", "rules", n)
		}
	}

	perms := risk.NewPermissionManager(cfg.RiskPolicy(), rt.log, logger)

	serveCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	rt.broker = risk.NewBroker(time.Duration(cfg.Security.ConfirmTimeoutSeconds)*time.Second, rt.log, logger)
	tty := newTerminal(os.Stdin, os.Stderr)
	go serveConfirmations(serveCtx, rt.broker, tty)

	rt.trust = trust.NewManager(trust.NewStore(cfg.Trust.StorePath, logger), tty, rt.env, rt.log, logger)
	rt.env.SetTrustLevel(rt.trust.Level(env.WorkspaceRoot))

	rt.log.LogEvent(domain.AuditEvent{
		EventType: domain.EventSessionStarted,
		Result:    string(rt.env.Get().TrustLevel),
		Metadata: map[string]any{
			"version":       version,
			"os":            env.OS,
			"backend":       env.Backend,
			"workspaceRoot": env.WorkspaceRoot,
			"networkPolicy": env.NetworkPolicy,
			"container":     env.IsContainer,
			"wsl":           env.IsWSL,
		},
	})

	rt.gate = gate.New(gate.Config{
		Env:            rt.env,
		Rules:          rt.rules,
		Permissions:    perms,
		Confirmer:      rt.broker,
		Trust:          rt.trust,
		Audit:          rt.log,
		Logger:         logger,
		SkipTrust:      !cfg.Security.RequireTrust,
		ShellTimeout:   time.Duration(cfg.Tools.Shell.Timeout) * time.Second,
		MaxOutputBytes: cfg.Tools.Shell.MaxOutputBytes,
	})
	return rt, nil
}
