// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeSelfCheck struct{ sent map[string]bool }

func (f fakeSelfCheck) WasRecentlySent(text string) bool { return f.sent[text] }

func TestCheckForNewRecordsSkipsSelfSent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	os.WriteFile(path, []byte(
		`{"type":"user","uuid":"u1","sessionId":"x","message":{"role":"user","content":"echoed turn"}}`+"\n"+
			`{"type":"assistant","uuid":"a1","sessionId":"x","message":{"role":"assistant","content":"new third-party text"}}`+"\n",
	), 0o644)

	var notified []Notification
	w := New(path, 0, nil, fakeSelfCheck{sent: map[string]bool{"echoed turn": true}}, func(n Notification) {
		notified = append(notified, n)
	})

	w.checkForNewRecords()

	if len(notified) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notified))
	}
	if len(notified[0].NewRecords) != 1 || notified[0].NewRecords[0].TextContent() != "new third-party text" {
		t.Errorf("got %+v", notified[0].NewRecords)
	}
}

func TestCheckForNewRecordsFlagsPendingPermission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	os.WriteFile(path, []byte(
		`{"type":"assistant","uuid":"a1","sessionId":"x","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"rm -rf /tmp/x"}}]}}`+"\n",
	), 0o644)

	var notified []Notification
	w := New(path, 0, nil, nil, func(n Notification) { notified = append(notified, n) })
	w.checkForNewRecords()

	if len(notified) != 1 || notified[0].PendingPermission == nil {
		t.Fatalf("expected a pending permission notification, got %+v", notified)
	}
	if notified[0].PendingPermission.Name != "Bash" {
		t.Errorf("got tool %q", notified[0].PendingPermission.Name)
	}
}

func TestCheckForNewRecordsNoChangeNoNotification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	os.WriteFile(path, []byte(`{"type":"user","uuid":"u1","sessionId":"x","message":{"role":"user","content":"hi"}}`+"\n"), 0o644)

	called := false
	w := New(path, 1, nil, nil, func(n Notification) { called = true })
	w.checkForNewRecords()

	if called {
		t.Error("expected no notification when offset already covers all records")
	}
}
