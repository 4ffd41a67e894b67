// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package voice defines the extension point for transcribing voice
// messages into text turns. Voice transcription itself is out of scope
// for this module; Unavailable gives the Orchestrator a concrete,
// typed error to map to a user-visible rejection rather than special
// casing a nil interface.
package voice

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Unavailable's Transcribe, and is the
// sentinel the Orchestrator checks for when deciding how to respond to
// a voice update.
var ErrUnavailable = errors.New("voice: transcription is not available")

// Transcriber converts a downloaded voice message file at path into
// text. Implementations may shell out to a local model or call a
// remote transcription service; neither is implemented here.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Unavailable is a Transcriber that always reports ErrUnavailable. It
// is the only Transcriber this module ships, keeping the Orchestrator's
// code path the same shape it would be if a real transcriber existed.
type Unavailable struct{}

// Transcribe always returns ErrUnavailable.
func (Unavailable) Transcribe(ctx context.Context, path string) (string, error) {
	return "", ErrUnavailable
}
