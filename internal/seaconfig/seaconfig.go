// Package seaconfig implements the restricted "output" field reader for
// SEA config JSON files (spec.md §4.6). It deliberately does not use
// encoding/json: the spec mandates a bounded, minimal scanner rather than
// a general-purpose parse, so a malformed or adversarial config can't
// exhaust memory or recurse arbitrarily deep before the relevant field is
// found. This is a spec-mandated restricted grammar, not a missing
// library — encoding/json itself is stdlib and would otherwise be the
// obvious choice.
package seaconfig

import (
	"fmt"
	"strings"

	"github.com/SocketDev/socket-btm-sub000/internal/rerr"
)

// MaxConfigSize bounds the input accepted by ReadOutputPath, per spec.md §4.6.
const MaxConfigSize = 1 * 1024 * 1024

// MaxDepth bounds brace/bracket nesting scanned while looking for the
// "output" key, per spec.md §4.6.
const MaxDepth = 50

// ReadOutputPath scans data for the first unescaped "output" key, at any
// nesting depth, and returns its string value. It rejects path traversal and absolute paths
// in the result, since the value becomes a file path the command surface
// reads from directly.
func ReadOutputPath(data []byte) (string, error) {
	if len(data) > MaxConfigSize {
		return "", fmt.Errorf("%w: sea config exceeds %d byte cap", rerr.ErrInvalidFormat, MaxConfigSize)
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
				if matchesKey(data, i, "output") {
					value, err := readStringAfterKey(data, i+1)
					if err != nil {
						return "", err
					}
					return validateOutputPath(value)
				}
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > MaxDepth {
				return "", fmt.Errorf("%w: sea config nesting exceeds depth %d", rerr.ErrInvalidFormat, MaxDepth)
			}
		case '}', ']':
			depth--
		}
	}
	return "", fmt.Errorf("%w: sea config has no \"output\" field", rerr.ErrInvalidFormat)
}

// matchesKey reports whether the string literal ending just before endQuote
// (the index of the closing '"') spells want.
func matchesKey(data []byte, endQuote int, want string) bool {
	if endQuote < len(want)+1 {
		return false
	}
	start := endQuote - len(want)
	if data[start-1] != '"' {
		return false
	}
	return string(data[start:endQuote]) == want
}

// readStringAfterKey skips whitespace and a colon, then reads a
// double-quoted string value honouring \" escapes, starting at pos (just
// past the key's closing quote).
func readStringAfterKey(data []byte, pos int) (string, error) {
	i := pos
	for i < len(data) && isSpace(data[i]) {
		i++
	}
	if i >= len(data) || data[i] != ':' {
		return "", fmt.Errorf("%w: \"output\" key not followed by ':'", rerr.ErrInvalidFormat)
	}
	i++
	for i < len(data) && isSpace(data[i]) {
		i++
	}
	if i >= len(data) || data[i] != '"' {
		return "", fmt.Errorf("%w: \"output\" value is not a string", rerr.ErrInvalidFormat)
	}
	i++

	var sb strings.Builder
	for i < len(data) {
		c := data[i]
		if c == '\\' && i+1 < len(data) {
			switch data[i+1] {
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(data[i+1])
			}
			i += 2
			continue
		}
		if c == '"' {
			return sb.String(), nil
		}
		sb.WriteByte(c)
		i++
	}
	return "", fmt.Errorf("%w: unterminated \"output\" string value", rerr.ErrInvalidFormat)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// validateOutputPath rejects absolute paths and path-traversal sequences,
// since the value is joined against a trusted directory by the caller.
func validateOutputPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty \"output\" path", rerr.ErrInvalidFormat)
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return "", fmt.Errorf("%w: \"output\" path must not be absolute", rerr.ErrInvalidFormat)
	}
	if len(path) > 1 && path[1] == ':' {
		return "", fmt.Errorf("%w: \"output\" path must not be absolute", rerr.ErrInvalidFormat)
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", fmt.Errorf("%w: \"output\" path must not contain '..'", rerr.ErrInvalidFormat)
		}
	}
	return path, nil
}
