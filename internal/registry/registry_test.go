// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/remotecode/internal/sessionid"
)

func TestReadMissingFileReturnsZeroState(t *testing.T) {
	state, err := Read(filepath.Join(t.TempDir(), "missing.state"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !state.ActiveSession.IsZero() {
		t.Errorf("expected zero session, got %v", state.ActiveSession)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "chat1.state")
	id := sessionid.New()
	want := State{
		ActiveSession: id,
		WorkingDir:    "/home/user/project",
		Model:         "claude-sonnet",
		AutoSync:      true,
	}

	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.ActiveSession.Equal(want.ActiveSession) || got.WorkingDir != want.WorkingDir ||
		got.Model != want.Model || got.AutoSync != want.AutoSync {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReadMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.state")
	if err := os.WriteFile(path, []byte("not a key value line\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Read(path); err == nil {
		t.Error("expected error for malformed line, got nil")
	}
}

func TestListChats(t *testing.T) {
	home := t.TempDir()
	for _, chatID := range []string{"alice", "bob"} {
		if err := Write(ChatFilePath(home, chatID), State{}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	chats, err := ListChats(home)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 || chats[0] != "alice" || chats[1] != "bob" {
		t.Errorf("got %v", chats)
	}
}
