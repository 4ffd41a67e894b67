// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry persists the orchestrator's per-chat session
// selection state: which session is active, its working directory and
// model, and whether auto-sync is enabled. The on-disk format is a flat
// KEY=VALUE file, one chat's state per file, following the same
// convention the Agent's own credential files use — no YAML, no JSON,
// just lines a human can read and edit by hand.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/remotecode/internal/sessionid"
)

// State is one chat's persisted session-selection state.
type State struct {
	// ActiveSession is the session currently selected for this chat.
	// Zero value means no session is selected.
	ActiveSession sessionid.ID
	// WorkingDir is the directory the active session's Agent process
	// runs in.
	WorkingDir string
	// Model is the model name recorded by /model, or "" for none. It is
	// stored and copied into new sessions' state; the Agent process is
	// not started with it.
	Model string
	// AutoSync, when true, makes the Watcher forward third-party writes
	// to the active session's record file into the chat automatically.
	AutoSync bool
}

// fields returns the KEY=VALUE pairs for State, in stable write order.
func (s State) fields() []string {
	lines := []string{
		"active_session=" + s.ActiveSession.String(),
		"working_dir=" + s.WorkingDir,
		"model=" + s.Model,
		"auto_sync=" + strconv.FormatBool(s.AutoSync),
	}
	return lines
}

// Read parses a KEY=VALUE state file at path. A missing file is not an
// error — it returns the zero State, meaning no session selected yet.
func Read(path string) (State, error) {
	values, err := readKeyValueFile(path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}

	var state State
	if raw := values["active_session"]; raw != "" {
		id, err := sessionid.Parse(raw)
		if err != nil {
			return State{}, fmt.Errorf("registry: %s: invalid active_session: %w", path, err)
		}
		state.ActiveSession = id
	}
	state.WorkingDir = values["working_dir"]
	state.Model = values["model"]
	state.AutoSync, _ = strconv.ParseBool(values["auto_sync"])
	return state, nil
}

// Write persists state to path atomically (write to a temp file, then
// rename), and takes an advisory exclusive flock for the duration of
// the write so a second daemon instance racing against the same home
// directory waits for the lock instead of corrupting the file.
func Write(path string, state State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("registry: creating directory for %q: %w", path, err)
	}

	lockPath := path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("registry: opening lock file %q: %w", lockPath, err)
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("registry: locking %q: %w", lockPath, err)
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	tmpPath := path + ".tmp"
	var b strings.Builder
	b.WriteString("# remotecode session registry — generated, safe to edit while the daemon is stopped\n")
	for _, line := range state.fields() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(tmpPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("registry: writing %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("registry: renaming %q to %q: %w", tmpPath, path, err)
	}
	return nil
}

// readKeyValueFile parses a # comment / KEY=VALUE file, mirroring the
// Agent's own credential-file format: blank lines and lines starting
// with # are skipped, every other line must contain exactly one "=".
func readKeyValueFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("registry: %s:%d: expected KEY=VALUE, got %q", path, lineNumber, line)
		}
		values[strings.TrimSpace(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("registry: reading %q: %w", path, err)
	}
	return values, nil
}

// ChatFilePath returns the state file path for a given chat id under
// the registry's home directory, e.g. <home>/sessions/<chat-id>.state.
func ChatFilePath(homeDir string, chatID string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, chatID)
	return filepath.Join(homeDir, "sessions", safe+".state")
}

// ListChats returns every chat id with a persisted state file under the
// registry home directory, sorted.
func ListChats(homeDir string) ([]string, error) {
	dir := filepath.Join(homeDir, "sessions")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: listing %q: %w", dir, err)
	}
	var chats []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".state") {
			continue
		}
		chats = append(chats, strings.TrimSuffix(entry.Name(), ".state"))
	}
	sort.Strings(chats)
	return chats, nil
}
