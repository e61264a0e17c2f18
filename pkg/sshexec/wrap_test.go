/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package sshexec

import (
	"testing"

	"gotest.tools/assert"
)

func TestWrapBash(t *testing.T) {
	assert.Equal(t, WrapBash("hostname"),
		"bash -lc 'set -euo pipefail; hostname'")
}

func TestWrapBashEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, WrapBash("echo 'hi'"),
		`bash -lc 'set -euo pipefail; echo '"'"'hi'"'"''`)
}

func TestSudoWrapWithPassword(t *testing.T) {
	wrapped := WrapBash("dcgmi diag -r 1")
	assert.Equal(t, sudoWrap(wrapped, true),
		"sudo -S -p '' bash -lc 'set -euo pipefail; dcgmi diag -r 1'")
}

func TestSudoWrapWithoutPassword(t *testing.T) {
	wrapped := WrapBash("dcgmi diag -r 1")
	assert.Equal(t, sudoWrap(wrapped, false),
		"sudo -n bash -lc 'set -euo pipefail; dcgmi diag -r 1'")
}

func TestAuthMethodsUnsupportedType(t *testing.T) {
	_, err := authMethods(Connection{Auth: Auth{Type: "agent"}})
	assert.ErrorContains(t, err, "unsupported auth type")
}

func TestLoadPrivateKeyEmpty(t *testing.T) {
	_, err := LoadPrivateKey("", "")
	assert.ErrorContains(t, err, "private key is empty")
}
