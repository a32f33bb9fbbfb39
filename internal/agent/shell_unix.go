//go:build !windows

package agent

import (
	"context"
	"os/exec"
)

// shellCommand runs content through the platform shell so batch commands
// can use pipes, redirection, and shell builtins the way an operator would
// type them interactively.
func shellCommand(ctx context.Context, content string) *exec.Cmd {
	return exec.CommandContext(ctx, "/bin/sh", "-c", content)
}
