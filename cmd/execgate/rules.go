package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"execgate/internal/config"
	"execgate/internal/domain"
	"execgate/internal/policy"

	"github.com/spf13/cobra"
)

func loadEngine(cfg *config.Config) *policy.Engine {
	e := policy.NewEngine(policy.NewRuleStore(cfg.Rules.StorePath, logger), logger)
	if cfg.Rules.PacksDir != "" {
		if _, err := e.LoadRulePacks(cfg.Rules.PacksDir); err != nil {
			logger.Warn("rule packs not loaded", "dir", cfg.Rules.PacksDir, "err", err)
		}
	}
	return e
}

// recordRuleChange writes a rule_added or rule_removed event to a fresh
// audit session.
func recordRuleChange(cfg *config.Config, eventType string, r domain.Rule) {
	log, idx := openAudit(cfg)
	defer func() {
		log.Close()
		if idx != nil {
			idx.Close()
		}
	}()
	log.LogEvent(domain.AuditEvent{
		EventType: eventType,
		Command:   r.PatternString(),
		Result:    string(r.Action),
		Metadata:  map[string]any{"ruleId": r.ID, "source": string(r.Source)},
	})
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List and edit command rules",
		Long:  "Rules match argv prefixes case-insensitively. When several match, the most restrictive action wins: forbid > prompt > allow.",
	}

	var source string
	list := &cobra.Command{
		Use:   "list",
		Short: "List active rules (default, user and rule-pack layers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e := loadEngine(cfg)
			var rules []domain.Rule
			switch source {
			case "":
				rules = e.Rules()
			case string(domain.SourceDefault):
				rules = e.DefaultRules()
			case string(domain.SourceUser):
				rules = e.UserRules()
			default:
				return fmt.Errorf("unknown source %q (want default or user)", source)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tACTION\tPATTERN\tDESCRIPTION")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Source, r.Action, r.PatternString(), r.Description)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&source, "source", "", "only show one layer: default or user")
	cmd.AddCommand(list)

	var description string
	add := &cobra.Command{
		Use:   "add [allow|prompt|forbid] [token...]",
		Short: "Add a persistent user rule",
		Long: `Adds a user rule. Each token is one argv position; "a|b" matches either.

  execgate rules add forbid git push "--force|-f"
  execgate rules add allow npm test`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := domain.ParseRuleAction(args[0])
			if err != nil {
				return err
			}
			pattern, err := policy.ParsePattern(args[1:])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			r, err := loadEngine(cfg).AddUserRule(pattern, action, description)
			if err != nil {
				return err
			}
			recordRuleChange(cfg, domain.EventRuleAdded, r)
			fmt.Printf("added %s: %s %s\n", r.ID, r.Action, r.PatternString())
			return nil
		},
	}
	add.Flags().StringVarP(&description, "description", "d", "", "why the rule exists")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [id]",
		Short: "Remove a user rule by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e := loadEngine(cfg)
			var target domain.Rule
			for _, r := range e.UserRules() {
				if r.ID == args[0] {
					target = r
				}
			}
			removed, err := e.RemoveUserRule(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no user rule with id %s (default and pack rules cannot be removed)", args[0])
			}
			recordRuleChange(cfg, domain.EventRuleRemoved, target)
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	})

	return cmd
}
