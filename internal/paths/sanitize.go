// Package paths normalizes user-supplied user/project/file names into safe
// on-disk path segments.
package paths

import (
	"path"
	"strings"
)

// DefaultSegment replaces segments that sanitize to nothing.
const DefaultSegment = "default"

// SanitizeSegment maps one path segment to [a-zA-Z0-9_-]. Every other rune
// becomes an underscore; an empty result becomes DefaultSegment.
func SanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '/':
			b.WriteRune('_')
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return DefaultSegment
	}
	return out
}

// SanitizeProjectPath normalizes a "user/project" style path, preserving
// nesting. Each segment is sanitized independently; empty segments are
// dropped. An empty input yields DefaultSegment.
func SanitizeProjectPath(p string) string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." || part == ".." {
			continue
		}
		out = append(out, SanitizeSegment(part))
	}
	if len(out) == 0 {
		return DefaultSegment
	}
	return strings.Join(out, "/")
}

// StableFilename derives a safe filename from an original upload name by
// sanitizing the basename only, keeping the extension separator.
func StableFilename(orig string) string {
	base := path.Base(orig)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	safeStem := SanitizeSegment(stem)
	if ext == "" {
		return safeStem
	}
	safeExt := SanitizeSegment(strings.TrimPrefix(ext, "."))
	return safeStem + "." + safeExt
}
