// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemonconfig

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestRotateIfNeededBelowThresholdNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.log")
	if err := os.WriteFile(path, []byte("small"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := RotateIfNeeded(path); err != nil {
		t.Fatalf("RotateIfNeeded: %v", err)
	}
	if _, err := os.Stat(path + ".old.gz"); !os.IsNotExist(err) {
		t.Error("expected no rotated file for a small log")
	}
}

func TestRotateIfNeededAboveThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	big := bytes.Repeat([]byte("x"), MaxLogSize+1)
	if err := os.WriteFile(path, big, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := RotateIfNeeded(path); err != nil {
		t.Fatalf("RotateIfNeeded: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected truncated log, got size %d", info.Size())
	}

	rotated, err := os.Open(path + ".old.gz")
	if err != nil {
		t.Fatalf("Open rotated: %v", err)
	}
	defer rotated.Close()

	reader, err := gzip.NewReader(rotated)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(decompressed, big) {
		t.Error("rotated content does not match original")
	}
}
