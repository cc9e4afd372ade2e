// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath converts a host or archive path to the canonical pak form:
// forward slashes, no leading "./" or "/", "." segments cleaned.
func NormalizePath(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, `\`, `/`)
	raw = strings.TrimPrefix(raw, "./")
	raw = strings.TrimPrefix(raw, "/")
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return strings.TrimSuffix(raw, "/")
}

// normalizeArchivePath converts an input path to canonical pak form and
// rejects paths that normalize to nothing.
func normalizeArchivePath(raw string) (string, error) {
	normalized := NormalizePath(raw)
	if normalized == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecordPath, raw)
	}

	return normalized, nil
}

// normalizeUnpackPath normalizes a record path for extraction and rejects
// absolute paths and traversal segments.
func normalizeUnpackPath(recordPath string) (string, error) {
	raw := strings.TrimSpace(recordPath)
	if raw == "" {
		return "", fmt.Errorf("%w: empty record path", ErrPathTraversal)
	}
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrPathTraversal, recordPath)
	}
	if strings.HasPrefix(raw, `/`) || strings.HasPrefix(raw, `\`) {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathTraversal, recordPath)
	}

	raw = strings.ReplaceAll(raw, `\`, `/`)
	if hasWindowsAbsDrivePrefix(raw) {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathTraversal, recordPath)
	}

	parts := strings.Split(raw, `/`)
	cleanParts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, recordPath)
		default:
			cleanParts = append(cleanParts, part)
		}
	}
	if len(cleanParts) == 0 {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, recordPath)
	}

	return strings.Join(cleanParts, `/`), nil
}

// hasWindowsAbsDrivePrefix reports whether path starts with a drive-root prefix like C:/.
func hasWindowsAbsDrivePrefix(path string) bool {
	if len(path) < 3 {
		return false
	}

	return isASCIIAlpha(path[0]) && path[1] == ':' && path[2] == '/'
}

// isASCIIAlpha reports whether byte is an ASCII latin letter.
func isASCIIAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
