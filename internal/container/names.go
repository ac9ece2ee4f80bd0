// SPDX-License-Identifier: MPL-2.0

package container

import (
	"path/filepath"
	"strings"
)

// maxContainerNameLen is the engine-imposed ceiling on container names.
const maxContainerNameLen = 63

// WorkspaceContainerName derives the deterministic container name for a
// project/workspace pair: "mux-<project>-<workspace>", sanitized.
func WorkspaceContainerName(projectPath, workspaceName string) string {
	return SanitizeName("mux-" + filepath.Base(projectPath) + "-" + workspaceName)
}

// SanitizeName maps an arbitrary string onto the container name charset
// [a-zA-Z0-9][a-zA-Z0-9_.-]*, truncated to 63 characters. Invalid characters
// become '-'; leading characters outside [a-zA-Z0-9] are stripped. The result
// is deterministic for a given input.
func SanitizeName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := b.String()

	// First character must be alphanumeric.
	start := 0
	for start < len(name) && !isAlnum(name[start]) {
		start++
	}
	name = name[start:]

	if len(name) > maxContainerNameLen {
		name = name[:maxContainerNameLen]
	}
	if name == "" {
		return "mux"
	}
	return name
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
