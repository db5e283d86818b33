// SPDX-License-Identifier: MIT

package action

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// RunCommand tokenizes program by single spaces (no shell, no
// quoting — callers must not embed whitespace inside a single
// argument; this is a documented limitation, not an oversight),
// spawns it as a subprocess, and waits for it to exit.
//
// If ctx is cancelled while the command is running, the process is
// killed. Spawn failures and non-zero exits are both logged and
// returned as errors; the caller (the dispatcher) counts either as a
// complete-with-failure action rather than retrying.
func RunCommand(ctx context.Context, program string, logger *slog.Logger) error {
	argv := strings.Split(program, " ")
	if len(argv) == 0 || argv[0] == "" {
		return fmt.Errorf("action: empty command program")
	}

	// #nosec G204 -- program comes from operator-authored configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if logger != nil {
		logger.Info("command action finished", "program", program, "exit_code", exitCode, "error", err)
	}
	if err != nil {
		return fmt.Errorf("action: command %q: %w", program, err)
	}
	return nil
}
