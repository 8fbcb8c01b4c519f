package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"execgate/internal/domain"
	"execgate/internal/risk"

	"golang.org/x/term"
)

// terminal asks the operator questions on stdin. When stdin is not a
// terminal every question is answered "no" without reading.
type terminal struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func newTerminal(in *os.File, out io.Writer) *terminal {
	return &terminal{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: term.IsTerminal(int(in.Fd())),
	}
}

func (t *terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Ask shows a confirmation request and waits for yes/no.
func (t *terminal) Ask(req domain.ConfirmationRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.interactive {
		fmt.Fprintf(t.out, "confirmation needed for %s %s but stdin is not a terminal; denying\n", req.Action, req.Target)
		return false
	}
	fmt.Fprintln(t.out)
	fmt.Fprintf(t.out, "[%s risk] %s: %s\n", req.Risk, req.Action, req.Target)
	fmt.Fprint(t.out, "Allow? [y/N]: ")
	line, err := t.readLine()
	if err != nil {
		return false
	}
	return parseYes(line)
}

// PromptTrust implements domain.TrustPrompter.
func (t *terminal) PromptTrust(ctx context.Context, path string) (domain.TrustChoice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.interactive {
		return domain.ChoiceExit, fmt.Errorf("workspace %s is not trusted and stdin is not a terminal", path)
	}
	fmt.Fprintln(t.out)
	fmt.Fprintf(t.out, "The workspace %s is not trusted.\n", path)
	fmt.Fprintln(t.out, "  [s] trust for this session")
	fmt.Fprintln(t.out, "  [a] always trust this folder")
	fmt.Fprintln(t.out, "  [n] do not trust (exit)")
	fmt.Fprint(t.out, "Choice [s/a/N]: ")
	line, err := t.readLine()
	if err != nil {
		return domain.ChoiceExit, err
	}
	return parseTrustChoice(line), nil
}

func parseYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}

func parseTrustChoice(s string) domain.TrustChoice {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "session":
		return domain.ChoiceSession
	case "a", "always", "p", "persistent":
		return domain.ChoicePersistent
	default:
		return domain.ChoiceExit
	}
}

// serveConfirmations answers broker requests on the terminal until ctx ends.
// An answer that arrives after the request timed out is discarded.
func serveConfirmations(ctx context.Context, b *risk.Broker, t *terminal) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.Requests():
			answer := t.Ask(req)
			if !b.Resolve(req.ID, answer) {
				fmt.Fprintln(t.out, "confirmation already expired; command not run")
			}
		}
	}
}
