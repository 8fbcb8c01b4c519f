package gate

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
	"unicode/utf8"

	"execgate/internal/domain"
)

// ExecResult is a finished (or refused) command. A command that could not
// be started or was killed reports ExitCode -1.
type ExecResult struct {
	Authorization
	Executed bool          `json:"executed"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	TimedOut bool          `json:"timedOut,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunCommand authorizes raw and, if approved, runs it through the platform
// shell in the evaluated cwd. Cancelling ctx kills the child. A non-zero
// exit is reported in the result, not as an error; the only errors are
// those of AuthorizeCommand.
func (g *Gate) RunCommand(ctx context.Context, raw, cwd string) (ExecResult, error) {
	auth, err := g.AuthorizeCommand(ctx, raw, cwd)
	if err != nil {
		return ExecResult{Authorization: auth, ExitCode: -1}, err
	}
	if !auth.Approved {
		return ExecResult{Authorization: auth, ExitCode: -1}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	name, args := shellInvocation(g.env.Get().OS, raw)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = auth.Cwd
	// Grandchildren can hold the output pipes open after the shell is killed.
	cmd.WaitDelay = time.Second
	stdout := &cappedBuffer{max: g.maxOutput}
	stderr := &cappedBuffer{max: g.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	res := ExecResult{
		Authorization: auth,
		Executed:      true,
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		Duration:      time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.ExitCode = 0
	case runCtx.Err() != nil:
		res.ExitCode = -1
		res.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		if res.Stderr == "" {
			res.Stderr = "command timed out or cancelled"
		}
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Executed = false
		res.Stderr = runErr.Error()
	}

	g.logger.Info("command executed", "command", raw, "exit", res.ExitCode, "duration", res.Duration)
	g.record(domain.EventCommandExecuted, raw, exitLabel(res), map[string]any{
		"exitCode":   res.ExitCode,
		"cwd":        auth.Cwd,
		"durationMs": res.Duration.Milliseconds(),
		"timedOut":   res.TimedOut,
		"approvedBy": string(auth.ApprovedBy),
	})
	return res, nil
}

func shellInvocation(goos, raw string) (string, []string) {
	if goos == "windows" {
		return "cmd", []string{"/C", raw}
	}
	return "sh", []string{"-c", raw}
}

const truncatedMarker = "\n... (output truncated)"

// cappedBuffer keeps the first max bytes written to it and discards the
// rest, so a chatty command cannot grow memory without bound. max <= 0
// keeps everything.
type cappedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.max <= 0 {
		return c.buf.Write(p)
	}
	room := c.max - c.buf.Len()
	if len(p) > room {
		c.truncated = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

// String returns the kept output. Truncated output ends on a whole rune
// followed by a marker line.
func (c *cappedBuffer) String() string {
	if !c.truncated {
		return c.buf.String()
	}
	b := c.buf.Bytes()
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				b = b[:len(b)-i]
			}
			break
		}
	}
	return string(b) + truncatedMarker
}

func exitLabel(r ExecResult) string {
	switch {
	case !r.Executed:
		return "launch_failed"
	case r.TimedOut:
		return "timeout"
	case r.ExitCode == 0:
		return "ok"
	default:
		return "failed"
	}
}
