package main

import (
	"fmt"
	"os"
	"path/filepath"

	"execgate/internal/audit"
	"execgate/internal/environment"
	"execgate/internal/policy"
	"execgate/internal/trust"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your execgate installation",
		Long: `Verifies that the configuration, rule and trust stores, audit directory
and workspace are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("execgate doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("config is invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 2. Workspace
			root, err := workspaceRoot(cfg)
			if err != nil {
				printFail("Workspace", err.Error())
				failed++
			} else if info, err := os.Stat(root); err != nil || !info.IsDir() {
				printFail("Workspace", fmt.Sprintf("not a directory: %s", root))
				failed++
			} else {
				env, err := environment.Detect(environment.HostProbe(), environment.Options{WorkspaceRoot: root})
				if err != nil {
					printFail("Workspace", err.Error())
					failed++
				} else {
					printPass("Workspace", fmt.Sprintf("%s (%s/%s)", env.WorkspaceRoot, env.OS, env.Backend))
					passed++
				}

				level := trust.NewManager(trust.NewStore(cfg.Trust.StorePath, logger), nil, nil, nil, logger).Level(root)
				switch {
				case !cfg.Security.RequireTrust:
					printWarn("Trust", "security.requireTrust is off")
					warned++
				case level.Trusted():
					printPass("Trust", string(level))
					passed++
				default:
					printWarn("Trust", "workspace is untrusted; you will be prompted (execgate trust add)")
					warned++
				}
			}

			// 3. Stores writable
			for _, s := range []struct{ name, path string }{
				{"Rules store", cfg.Rules.StorePath},
				{"Trust store", cfg.Trust.StorePath},
			} {
				if err := checkWritableDir(filepath.Dir(s.path)); err != nil {
					printFail(s.name, err.Error())
					failed++
				} else {
					printPass(s.name, s.path)
					passed++
				}
			}

			// 4. Rule packs
			if cfg.Rules.PacksDir != "" {
				rules, err := policy.LoadRulePacks(cfg.Rules.PacksDir, logger)
				if err != nil {
					printFail("Rule packs", err.Error())
					failed++
				} else {
					printPass("Rule packs", fmt.Sprintf("%d rule(s) from %s", len(rules), cfg.Rules.PacksDir))
					passed++
				}
			}

			// 5. Audit
			if !cfg.Audit.Enabled {
				printWarn("Audit log", "disabled; events are kept in memory only")
				warned++
			} else if err := checkWritableDir(cfg.Audit.Dir); err != nil {
				printFail("Audit log", err.Error())
				failed++
			} else {
				printPass("Audit log", cfg.Audit.Dir)
				passed++
			}
			if cfg.Audit.Enabled && cfg.Audit.Index {
				if err := checkIndex(cfg.Audit.IndexPath); err != nil {
					printFail("Audit index", err.Error())
					failed++
				} else {
					printPass("Audit index", cfg.Audit.IndexPath)
					passed++
				}
			}

			// 6. Log file
			if cfg.General.LogFile != "" {
				if err := checkWritableDir(filepath.Dir(cfg.General.LogFile)); err != nil {
					printWarn("Log file", err.Error())
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before relying on the gate.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned == 0 {
				fmt.Printf("\nAll checks passed.\n")
			}
			return nil
		},
	}
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// checkIndex opens (and migrates) the index and reads its schema version.
func checkIndex(path string) error {
	idx, err := audit.NewSQLiteIndex(path, logger)
	if err != nil {
		return err
	}
	defer idx.Close()
	if _, err := idx.SchemaVersion(); err != nil {
		return fmt.Errorf("cannot read schema: %w", err)
	}
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
