// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package jsonpointer implements RFC 6901 JSON Pointers over decoded
// JSON values (the any/map[string]any/[]any shape produced by
// encoding/json).
//
// A Pointer is a list of already-unescaped reference tokens; the empty
// Pointer addresses the document root. Lookup is total: At reports a
// missing target through its boolean result instead of an error, so
// callers distinguish "absent" from "present and null".
package jsonpointer

import (
	"fmt"
	"strings"
)

// EndToken is the array reference token "-" denoting the position just
// past the last element (the append position).
const EndToken = "-"

// Pointer is a parsed JSON Pointer: a sequence of unescaped reference
// tokens. The zero value addresses the document root.
type Pointer []string

// Parse converts the text form of a JSON Pointer. The empty string is
// the root pointer; any other form must begin with "/". Escapes "~0" and
// "~1" decode to "~" and "/".
func Parse(s string) (Pointer, error) {
	if s == "" {
		return Pointer{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("invalid JSON pointer %q: must begin with /", s)
	}
	raw := strings.Split(s[1:], "/")
	tokens := make(Pointer, len(raw))
	for i, tok := range raw {
		tokens[i] = unescape(tok)
	}
	return tokens, nil
}

// MustParse is Parse for pointers known to be valid at build time. It
// panics on error.
func MustParse(s string) Pointer {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the pointer in RFC 6901 text form. Escaping and
// unescaping are inverses, so Parse(p.String()) equals p.
func (p Pointer) String() string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tok := range p {
		b.WriteByte('/')
		b.WriteString(escape(tok))
	}
	return b.String()
}

// IsRoot reports whether the pointer addresses the document root.
func (p Pointer) IsRoot() bool {
	return len(p) == 0
}

// Parent returns the pointer with its last token dropped. The parent of
// the root pointer is the root pointer.
func (p Pointer) Parent() Pointer {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1]
}

// Last returns the final reference token, or "" for the root pointer.
func (p Pointer) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Append returns a new pointer with the given tokens added. The receiver
// is not modified.
func (p Pointer) Append(tokens ...string) Pointer {
	out := make(Pointer, 0, len(p)+len(tokens))
	out = append(out, p...)
	return append(out, tokens...)
}

// HasPrefix reports whether prefix addresses the same node or an
// ancestor of the node addressed by p.
func (p Pointer) HasPrefix(prefix Pointer) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, tok := range prefix {
		if p[i] != tok {
			return false
		}
	}
	return true
}

// At resolves the pointer against a decoded JSON value. The second
// result is false when any token fails to resolve: a missing object key,
// an out-of-range or malformed array index, the "-" token, or traversal
// into a scalar.
func At(node any, p Pointer) (any, bool) {
	cur := node
	for _, tok := range p {
		switch v := cur.(type) {
		case map[string]any:
			child, ok := v[tok]
			if !ok {
				return nil, false
			}
			cur = child
		case []any:
			idx, err := ParseArrayIndex(tok)
			if err != nil || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ParseArrayIndex converts an array reference token to a non-negative
// index. Tokens must be decimal with no leading zeros ("0" itself is
// fine); the "-" token is not an index and is rejected here.
func ParseArrayIndex(token string) (int, error) {
	if token == "" {
		return 0, fmt.Errorf("empty array index")
	}
	if token == EndToken {
		return 0, fmt.Errorf("array index %q addresses the end position, not an element", token)
	}
	if len(token) > 1 && token[0] == '0' {
		return 0, fmt.Errorf("array index %q has a leading zero", token)
	}
	n := 0
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("array index %q is not a decimal number", token)
		}
		digit := int(c - '0')
		if n > (1<<31-1-digit)/10 {
			return 0, fmt.Errorf("array index %q is out of range", token)
		}
		n = n*10 + digit
	}
	return n, nil
}

func unescape(token string) string {
	if !strings.Contains(token, "~") {
		return token
	}
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

func escape(token string) string {
	if !strings.ContainsAny(token, "~/") {
		return token
	}
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}
