package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"execgate/internal/audit"
	"execgate/internal/domain"
	"execgate/internal/metrics"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func printEvent(ev domain.AuditEvent) {
	line := fmt.Sprintf("%s  %-22s", ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.EventType)
	if ev.Result != "" {
		line += " " + ev.Result
	}
	if ev.Command != "" {
		line += "  " + ev.Command
	}
	fmt.Println(line)
}

// sessionPath resolves a session id argument, or the latest session.
func sessionPath(dir string, args []string) (string, error) {
	if len(args) > 0 {
		return filepath.Join(dir, strings.TrimSuffix(args[0], ".jsonl")+".jsonl"), nil
	}
	sessions, err := audit.ListSessions(dir)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no audit sessions in %s", dir)
	}
	return sessions[0].Path, nil
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "List audit sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sessions, err := audit.ListSessions(cfg.Audit.Dir)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no audit sessions")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSIZE\tLAST WRITE")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, humanize.Bytes(uint64(s.Size)), humanize.Time(s.ModTime))
			}
			return w.Flush()
		},
	})

	var (
		eventType string
		asJSON    bool
	)
	show := &cobra.Command{
		Use:   "show [session]",
		Short: "Print the events of a session (default: the latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path, err := sessionPath(cfg.Audit.Dir, args)
			if err != nil {
				return err
			}
			events, err := audit.ReadSession(path)
			if err != nil {
				return err
			}
			if eventType != "" {
				filtered := events[:0]
				for _, ev := range events {
					if ev.EventType == eventType {
						filtered = append(filtered, ev)
					}
				}
				events = filtered
			}
			if asJSON {
				return printJSON(events)
			}
			for _, ev := range events {
				printEvent(ev)
			}
			return nil
		},
	}
	show.Flags().StringVar(&eventType, "type", "", "only show events of this type")
	show.Flags().BoolVar(&asJSON, "json", false, "print events as JSON")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "stats [session]",
		Short: "Summarize a session (default: the latest) as Prometheus metrics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path, err := sessionPath(cfg.Audit.Dir, args)
			if err != nil {
				return err
			}
			events, err := audit.ReadSession(path)
			if err != nil {
				return err
			}
			reg := metrics.New()
			for _, ev := range events {
				reg.Observe(ev)
			}
			return reg.WriteText(os.Stdout)
		},
	})

	var (
		q           audit.Query
		since       time.Duration
		historyJSON bool
	)
	history := &cobra.Command{
		Use:   "history",
		Short: "Search events across sessions (requires audit.index)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Audit.Index {
				return fmt.Errorf("audit history needs the index: execgate config set audit.index true")
			}
			idx, err := audit.NewSQLiteIndex(cfg.Audit.IndexPath, logger)
			if err != nil {
				return err
			}
			defer idx.Close()

			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			rows, err := idx.Search(context.Background(), q)
			if err != nil {
				return err
			}
			if historyJSON {
				return printJSON(rows)
			}
			for _, r := range rows {
				fmt.Printf("[%s] ", r.SessionID)
				printEvent(r.AuditEvent)
			}
			return nil
		},
	}
	history.Flags().StringVar(&q.SessionID, "session", "", "only this session")
	history.Flags().StringVar(&q.EventType, "type", "", "only this event type")
	history.Flags().StringVar(&q.Contains, "contains", "", "command substring")
	history.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 24h)")
	history.Flags().IntVarP(&q.Limit, "limit", "n", 50, "maximum rows")
	history.Flags().BoolVar(&historyJSON, "json", false, "print rows as JSON")
	cmd.AddCommand(history)

	return cmd
}
