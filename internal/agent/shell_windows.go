//go:build windows

package agent

import (
	"context"
	"os/exec"
)

// shellCommand runs content through cmd.exe, the Windows mirror of
// shell_unix.go's /bin/sh -c.
func shellCommand(ctx context.Context, content string) *exec.Cmd {
	return exec.CommandContext(ctx, "cmd.exe", "/C", content)
}
