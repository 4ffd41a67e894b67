// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/remotecode/lib/clock"
	"github.com/bureau-foundation/remotecode/internal/convstore"
)

func writeSessionFile(t *testing.T, root, project, sessionID, content string) {
	t.Helper()
	dir := filepath.Join(root, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestScanOnceFindsPendingSessionNotActive(t *testing.T) {
	root := t.TempDir()
	writeSessionFile(t, root, "-home-user-proj1", "s1", `{"type":"assistant","uuid":"a1","sessionId":"s1","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu1","name":"Write","input":{}}]}}`+"\n")
	writeSessionFile(t, root, "-home-user-proj2", "s2", `{"type":"assistant","uuid":"a2","sessionId":"s2","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu2","name":"Bash","input":{}}]}}`+"\n")

	store := convstore.Open(root)
	isActive := func(id string) bool { return id == "s2" }

	s := New(store, clock.Real(), isActive, nil)
	found, err := s.scanOnce(context.Background())
	if err != nil {
		t.Fatalf("scanOnce: %v", err)
	}
	if len(found) != 1 || found[0].Session.SessionID != "s1" {
		t.Errorf("got %+v", found)
	}
}

func TestRunTicksAndInvokesCallback(t *testing.T) {
	root := t.TempDir()
	writeSessionFile(t, root, "-home-user-proj1", "s1", `{"type":"assistant","uuid":"a1","sessionId":"s1","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu1","name":"Write","input":{}}]}}`+"\n")

	store := convstore.Open(root)
	fakeClock := clock.Fake(time.Unix(0, 0))

	results := make(chan []PendingSession, 1)
	s := New(store, fakeClock, nil, func(found []PendingSession) { results <- found })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(Interval)

	select {
	case found := <-results:
		if len(found) != 1 {
			t.Errorf("got %d pending sessions, want 1", len(found))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scan result")
	}
}
