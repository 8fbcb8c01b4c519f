package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"execgate/internal/domain"
	"execgate/internal/firewall"
	"execgate/internal/gate"

	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// withApp loads config, wires the gate and runs fn with a signal-aware context.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printGateResult(res gate.GateResult) {
	fmt.Printf("command:  %s\n", res.Command)
	fmt.Printf("argv:     %q\n", res.Argv)
	fmt.Printf("cwd:      %s\n", res.Cwd)
	fmt.Printf("decision: %s\n", res.Decision)
	fmt.Printf("outcome:  %s\n", res.Outcome)
	fmt.Printf("risk:     %s\n", res.Risk)
	fmt.Printf("trust:    %s\n", res.TrustLevel)
	if len(res.Paths) > 0 {
		fmt.Println("paths:")
		for _, p := range res.Paths {
			fmt.Printf("  %-7s %s\n", p.Operation, p.Path)
		}
	}
	if len(res.Domains) > 0 {
		fmt.Printf("domains:  %s\n", strings.Join(res.Domains, ", "))
	}
	if len(res.Ports) > 0 {
		fmt.Printf("ports:    %v\n", res.Ports)
	}
	fmt.Println("reasons:")
	for _, r := range res.Reasons {
		fmt.Printf("  - %s\n", r)
	}
}

func checkCmd() *cobra.Command {
	var (
		cwd    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "check [command]",
		Short: "Evaluate a shell command without running it",
		Long:  "Tokenizes the command, evaluates the rule layers, risk, workspace containment and network policy, and prints the decision. Exits non-zero when the command is forbidden.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.Join(args, " ")
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.gate.EvaluateCommand(ctx, raw, cwd)
				if err != nil {
					return err
				}
				if asJSON {
					if err := printJSON(res); err != nil {
						return err
					}
				} else {
					printGateResult(res)
				}
				if res.Outcome == gate.OutcomeDeny {
					return fmt.Errorf("forbidden: %s", raw)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cwd, "cwd", "", "directory inside the workspace to evaluate in")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func runCmd() *cobra.Command {
	var (
		cwd    string
		dryRun bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run [command]",
		Short: "Authorize a shell command and run it",
		Long:  "Asks for workspace trust and operator confirmation as the decision requires, then runs the command through the platform shell.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.Join(args, " ")
			return withApp(func(ctx context.Context, a *app) error {
				if dryRun {
					res, err := a.gate.EvaluateCommand(ctx, raw, cwd)
					if err != nil {
						return err
					}
					printGateResult(res)
					return nil
				}

				res, err := a.gate.RunCommand(ctx, raw, cwd)
				if asJSON {
					if perr := printJSON(res); perr != nil {
						return perr
					}
				}
				var denied *gate.DeniedError
				if errors.As(err, &denied) {
					return fmt.Errorf("%w (decision %s)", err, res.Decision)
				}
				if err != nil {
					return err
				}
				if !res.Approved {
					return fmt.Errorf("not approved: %s", strings.Join(res.Reasons, "; "))
				}
				if !asJSON {
					fmt.Fprint(os.Stdout, res.Stdout)
					fmt.Fprint(os.Stderr, res.Stderr)
				}
				switch {
				case res.TimedOut:
					return fmt.Errorf("command timed out after %s", res.Duration.Round(time.Millisecond))
				case !res.Executed:
					return fmt.Errorf("command could not be started: %s", res.Stderr)
				case res.ExitCode != 0:
					return fmt.Errorf("command exited with status %d", res.ExitCode)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cwd, "cwd", "", "directory inside the workspace to run in")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate only, never run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON instead of the command output")
	return cmd
}

func writeCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "write [path]",
		Short: "Scan generated content and write it inside the workspace",
		Long:  "Reads content from --from (a file, or - for stdin), runs the content scanner, then asks for trust and confirmation before writing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				return fmt.Errorf("--from is required")
			}
			content, err := readSource(from)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.gate.WriteFile(ctx, args[0], string(content))
				for _, w := range res.Warnings {
					fmt.Fprintf(os.Stderr, "warning: line %d: %s (%s, %s)\n", w.Line, w.Pattern, w.Category, w.Severity)
				}
				var blocked *gate.ScanBlockedError
				if errors.As(err, &blocked) {
					for _, r := range blocked.Reasons {
						fmt.Fprintln(os.Stderr, "blocked:", r)
					}
					return fmt.Errorf("write to %s blocked by content scan", blocked.Path)
				}
				if err != nil {
					return err
				}
				if !res.Written {
					return fmt.Errorf("not written: %s", res.Permission.Reason)
				}
				fmt.Printf("wrote %d bytes to %s\n", res.Bytes, res.Path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "content source file, or - for stdin")
	return cmd
}

func readSource(from string) ([]byte, error) {
	if from == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(from)
}

func scanCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan [file...]",
		Short: "Scan files (or stdin) for secrets, dangerous code and sensitive paths",
		Long:  "Exits non-zero when any input has a critical or high finding.",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := args
			if len(inputs) == 0 {
				inputs = []string{"-"}
			}
			blocked := 0
			results := make(map[string]domain.ScanResult, len(inputs))
			for _, in := range inputs {
				data, err := readSource(in)
				if err != nil {
					return err
				}
				res := firewall.ScanCode(string(data))
				results[in] = res
				if firewall.ShouldBlockCode(res) {
					blocked++
				}
				if asJSON {
					continue
				}
				name := in
				if name == "-" {
					name = "<stdin>"
				}
				if res.Safe {
					fmt.Printf("%s: clean\n", name)
					continue
				}
				for _, m := range res.Matches {
					fmt.Printf("%s:%d: [%s] %s (%s): %s\n", name, m.Line, m.Severity, m.Pattern, m.Category, m.Snippet)
				}
			}
			if asJSON {
				if err := printJSON(results); err != nil {
					return err
				}
			}
			if blocked > 0 {
				return fmt.Errorf("%d input(s) would be blocked", blocked)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}
