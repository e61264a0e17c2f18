/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package sshexec

import (
	"fmt"
	"strings"
)

// WrapBash wraps a command for remote execution under a login shell with
// strict mode. Single quotes in the command are escaped so the whole command
// survives the outer quoting.
func WrapBash(command string) string {
	safe := strings.ReplaceAll(command, "'", `'"'"'`)
	return fmt.Sprintf("bash -lc 'set -euo pipefail; %s'", safe)
}

// sudoWrap prefixes a wrapped command with a non-interactive privileged
// invocation. With a known secret, sudo reads it from stdin with an empty
// prompt; without one, sudo fails fast instead of hanging on a prompt.
func sudoWrap(wrapped string, havePassword bool) string {
	sudoPrefix := "sudo -n"
	if havePassword {
		sudoPrefix = "sudo -S -p ''"
	}
	return strings.Replace(wrapped, "bash -lc", sudoPrefix+" bash -lc", 1)
}
