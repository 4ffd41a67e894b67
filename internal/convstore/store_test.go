// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package convstore

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSession(t *testing.T, projectDir, sessionID string, lines []string) string {
	t.Helper()
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(projectDir, sessionID+".jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFindSessionByPrefix(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-home-user-project")
	writeSession(t, projectDir, "3f9a1111-0000-0000-0000-000000000000", []string{
		`{"type":"user","uuid":"u1","sessionId":"3f9a1111-0000-0000-0000-000000000000","message":{"role":"user","content":"hello"}}`,
	})

	store := Open(root)

	session, err := store.FindSessionByPrefix("3f9a")
	if err != nil {
		t.Fatalf("FindSessionByPrefix: %v", err)
	}
	if session.SessionID != "3f9a1111-0000-0000-0000-000000000000" {
		t.Errorf("got session %q", session.SessionID)
	}
}

func TestFindSessionByPrefixAmbiguous(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-home-user-project")
	writeSession(t, projectDir, "3f9a1111-0000-0000-0000-000000000000", nil)
	writeSession(t, projectDir, "3f9a2222-0000-0000-0000-000000000000", nil)

	store := Open(root)
	if _, err := store.FindSessionByPrefix("3f9a"); err == nil {
		t.Error("expected ambiguous prefix error, got nil")
	}
}

func TestFindSessionByPrefixNotFound(t *testing.T) {
	store := Open(t.TempDir())
	if _, err := store.FindSessionByPrefix("zzzz"); err == nil {
		t.Error("expected not-found error, got nil")
	}
}

func TestEncodeDecodeProjectDirRoundTrip(t *testing.T) {
	root := t.TempDir()
	real := filepath.Join(root, "home", "user", "my_project")
	if err := os.MkdirAll(real, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	storeRoot := t.TempDir()
	encoded := EncodeProjectDir(real)
	if err := os.MkdirAll(filepath.Join(storeRoot, encoded), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	decoded, ok := DecodeProjectDir(storeRoot, encoded)
	if !ok {
		t.Fatalf("DecodeProjectDir(%q): ok=false", encoded)
	}
	if decoded != real {
		t.Errorf("DecodeProjectDir(%q) = %q, want %q", encoded, decoded, real)
	}
}

func TestDecodeProjectDirMissingProject(t *testing.T) {
	storeRoot := t.TempDir()
	if _, ok := DecodeProjectDir(storeRoot, "-home-user-gone"); ok {
		t.Error("expected ok=false for a project directory that was never created")
	}
}

func TestLastRecordPendingToolUse(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-home-user-project")
	path := writeSession(t, projectDir, "3f9a1111-0000-0000-0000-000000000000", []string{
		`{"type":"user","uuid":"u1","sessionId":"3f9a1111-0000-0000-0000-000000000000","message":{"role":"user","content":"run the tests"}}`,
		`{"type":"assistant","uuid":"a1","sessionId":"3f9a1111-0000-0000-0000-000000000000","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"go test ./..."}}]}}`,
	})

	record, ok, err := LastRecord(path)
	if err != nil {
		t.Fatalf("LastRecord: %v", err)
	}
	if !ok {
		t.Fatal("expected a record")
	}
	pending := record.PendingToolUses()
	if len(pending) != 1 || pending[0].Name != "Bash" {
		t.Errorf("got pending tool uses %+v", pending)
	}
}

func TestReadRecordsSkipsMalformedLines(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-home-user-project")
	path := writeSession(t, projectDir, "3f9a1111-0000-0000-0000-000000000000", []string{
		`{"type":"user","uuid":"u1","sessionId":"x","message":{"role":"user","content":"hi"}}`,
		`not json at all`,
		`{"type":"assistant","uuid":"a1","sessionId":"x","message":{"role":"assistant","content":"hello back"}}`,
	})

	records, err := ReadRecords(path)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[1].TextContent() != "hello back" {
		t.Errorf("got text %q", records[1].TextContent())
	}
}
