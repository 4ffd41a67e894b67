// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package convstore

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadCachedIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.cbor")
	projects := []Project{{EncodedName: "-home-user-proj", Path: "/home/user/proj"}}
	sessions := [][]SessionFile{{{SessionID: "s1", Path: "/home/user/proj/s1.jsonl"}}}
	modTime := time.Unix(1700000000, 0)

	if err := SaveCachedIndex(path, modTime, projects, sessions); err != nil {
		t.Fatalf("SaveCachedIndex: %v", err)
	}

	gotProjects, gotSessions, ok := LoadCachedIndex(path)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(gotProjects) != 1 || gotProjects[0].EncodedName != "-home-user-proj" {
		t.Errorf("got projects %+v", gotProjects)
	}
	if len(gotSessions) != 1 || len(gotSessions[0]) != 1 || gotSessions[0][0].SessionID != "s1" {
		t.Errorf("got sessions %+v", gotSessions)
	}
}

func TestLoadCachedIndexMissingFile(t *testing.T) {
	_, _, ok := LoadCachedIndex(filepath.Join(t.TempDir(), "missing.cbor"))
	if ok {
		t.Error("expected cache miss for a missing file")
	}
}
