package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"execgate/internal/config"
	"execgate/internal/trust"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// pathArg returns args[0] or the configured workspace root.
func pathArg(cfg *config.Config, args []string) (string, error) {
	if len(args) > 0 {
		return config.ExpandPath(args[0]), nil
	}
	return workspaceRoot(cfg)
}

func trustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage trusted workspaces",
		Long:  "Mutating commands run only in trusted workspaces. Trust granted here is persistent; session trust is granted at the prompt and ends with the process.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [path]",
		Short: "Trust a workspace persistently (default: the workspace root)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path, err := pathArg(cfg, args)
			if err != nil {
				return err
			}
			log, idx := openAudit(cfg)
			defer func() {
				log.Close()
				if idx != nil {
					idx.Close()
				}
			}()
			m := trust.NewManager(trust.NewStore(cfg.Trust.StorePath, logger), nil, nil, log, logger)
			rec, err := m.TrustWorkspace(path)
			if err != nil {
				return err
			}
			fmt.Printf("trusted %s\n", rec.Path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [path]",
		Short: "Revoke persistent trust (default: the workspace root)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path, err := pathArg(cfg, args)
			if err != nil {
				return err
			}
			log, idx := openAudit(cfg)
			defer func() {
				log.Close()
				if idx != nil {
					idx.Close()
				}
			}()
			m := trust.NewManager(trust.NewStore(cfg.Trust.StorePath, logger), nil, nil, log, logger)
			removed, err := m.Untrust(path)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s was not trusted", path)
			}
			fmt.Printf("untrusted %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List persistently trusted workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			records := trust.NewStore(cfg.Trust.StorePath, logger).List()
			if len(records) == 0 {
				fmt.Println("no trusted workspaces")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tTRUSTED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\n", r.Path, humanize.Time(r.TrustedAt))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status [path]",
		Short: "Show the trust level of a workspace (default: the workspace root)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path, err := pathArg(cfg, args)
			if err != nil {
				return err
			}
			m := trust.NewManager(trust.NewStore(cfg.Trust.StorePath, logger), nil, nil, nil, logger)
			fmt.Printf("%s: %s\n", path, m.Level(path))
			if !cfg.Security.RequireTrust {
				fmt.Println("(security.requireTrust is off; trust is not enforced)")
			}
			return nil
		},
	})

	return cmd
}
