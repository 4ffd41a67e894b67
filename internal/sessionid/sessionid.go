// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionid defines the identifier type used to name agent
// sessions throughout the orchestrator: the Conversation Store, the
// Session Registry, and chat commands that accept a session id prefix.
package sessionid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is a validated session identifier. The zero value is invalid; use
// New or Parse to obtain one. ID implements encoding.TextMarshaler and
// encoding.TextUnmarshaler so it serializes naturally in JSON and in
// the key=value registry file.
type ID struct {
	value uuid.UUID
	set   bool
}

// New generates a fresh random session id.
func New() ID {
	return ID{value: uuid.New(), set: true}
}

// Parse validates s as a canonical 36-character hyphenated UUID and
// returns the corresponding ID.
func Parse(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("sessionid: %q is not a valid session id: %w", s, err)
	}
	return ID{value: parsed, set: true}, nil
}

// IsZero reports whether id is the zero value (no session selected).
func (id ID) IsZero() bool { return !id.set }

// String returns the canonical hyphenated form, or "" for the zero value.
func (id ID) String() string {
	if !id.set {
		return ""
	}
	return id.value.String()
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// HasPrefix reports whether id's string form starts with prefix,
// case-insensitively. Used to resolve the short ids users type in chat
// commands (e.g. "sess:3f9a") against the full 36-character identifier.
func (id ID) HasPrefix(prefix string) bool {
	return strings.HasPrefix(strings.ToLower(id.String()), strings.ToLower(prefix))
}

// Equal reports whether id and other name the same session.
func (id ID) Equal(other ID) bool {
	return id.set == other.set && id.value == other.value
}
