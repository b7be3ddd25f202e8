// Package executor implements the Executor port against a local
// subprocess command or a remote HTTP endpoint, grounded on the
// command-dispatch shape of the original agent bridge: run with a hard
// deadline, kill on timeout, return a fixed "still working" phrase
// rather than an error so the caller always hears something.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/birddigital/callbridge/internal/logging"
)

// dispatchTimeout is the hard ceiling on how long a command may run
// before it is killed and the fallback phrase is returned instead.
const dispatchTimeout = 95 * time.Second

// fallbackPhrase is spoken back to the caller when the executor does not
// answer within dispatchTimeout.
const fallbackPhrase = "I'm still working on that. It's taking longer than expected."

// SubprocessExecutor runs a configured local command once per utterance,
// passing the utterance as an argument and reading its reply from
// stdout.
type SubprocessExecutor struct {
	command   string
	sessionID string
	log       *logging.Logger
}

// NewSubprocessExecutor builds an executor that shells out to command,
// tagging each invocation with sessionID so the target process can
// maintain its own per-session state across calls.
func NewSubprocessExecutor(command, sessionID string, log *logging.Logger) *SubprocessExecutor {
	return &SubprocessExecutor{command: command, sessionID: sessionID, log: log}
}

// Dispatch runs the command with the utterance and returns its cleaned
// reply. A literal "\n" in the utterance is unescaped to a real newline
// first, since callers sometimes dictate multi-line text.
func (e *SubprocessExecutor) Dispatch(ctx context.Context, callID, utterance string) (string, error) {
	processed := strings.ReplaceAll(utterance, `\n`, "\n")

	dctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	args := []string{
		"--session-id", e.sessionID,
		"--call-id", callID,
		"--message", processed,
		"--timeout", "90",
	}
	cmd := exec.CommandContext(dctx, e.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if dctx.Err() == context.DeadlineExceeded {
		e.log.Warn("executor: %q timed out for call %s", e.command, callID)
		return fallbackPhrase, nil
	}
	if err != nil {
		return "", fmt.Errorf("executor: subprocess %q: %w (stderr: %s)", e.command, err, cleanLines(stderr.String()))
	}

	return cleanLines(stdout.String()), nil
}

// cleanLines trims trailing whitespace and drops blank lines, so tool
// chatter and leading/trailing padding do not leak into the spoken
// reply.
func cleanLines(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
