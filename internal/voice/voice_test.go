// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"context"
	"errors"
	"testing"
)

func TestUnavailableReturnsSentinel(t *testing.T) {
	_, err := Unavailable{}.Transcribe(context.Background(), "/tmp/voice.ogg")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}
