// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watcher tails the currently active session's conversation
// record file, forwarding turns that a third party (a developer working
// in the same project from a terminal, or another tool) appended
// without going through the Orchestrator. It is the file-tailing analog
// of a long-poll room watcher: capture a position, read only what's
// newly appended after it, never replay.
package watcher

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bureau-foundation/remotecode/lib/clock"
	"github.com/bureau-foundation/remotecode/internal/convstore"
)

// Debounce windows: a burst of writes (the Agent appends a record per
// content block) is coalesced before notifying, short window for the
// first few writes, longer window once burstRetrigger consecutive
// writes have arrived inside the short window.
const (
	activeDebounce = 500 * time.Millisecond
	idleDebounce   = 8 * time.Second
	pollFallback   = 3 * time.Second
)

// Notification is emitted when new records appear in the tailed file.
type Notification struct {
	NewRecords []convstore.Record
	// PendingPermission is set when the newest record ends in a
	// tool_use with no matching result — a turn is waiting on a
	// decision the Orchestrator doesn't know about yet.
	PendingPermission *convstore.ContentBlock
}

// Watcher tails one session record file starting from a given record
// count offset (normally the count after the last record the
// Orchestrator itself wrote, so its own turns are never re-reported).
type Watcher struct {
	path       string
	clk        clock.Clock
	self       SelfWriteChecker
	notifyFunc func(Notification)

	mu     sync.Mutex
	offset int64
}

// SelfWriteChecker reports whether a record's text content matches
// something the Orchestrator itself just sent, so the Watcher can skip
// re-forwarding its own turn output (invariant: no double-rendering).
type SelfWriteChecker interface {
	WasRecentlySent(text string) bool
}

// New returns a Watcher for path starting at offset.
func New(path string, offset int64, clk clock.Clock, self SelfWriteChecker, notify func(Notification)) *Watcher {
	if clk == nil {
		clk = clock.Real()
	}
	return &Watcher{path: path, offset: offset, clk: clk, self: self, notifyFunc: notify}
}

// Run blocks until ctx is cancelled, watching for appended records.
// fsnotify failures (e.g. the file doesn't exist yet because no turn
// has run) fall back to re-reading the file every pollFallback interval.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		defer fsw.Close()
		if err := fsw.Add(w.path); err == nil {
			return w.runNotify(ctx, fsw)
		}
	}
	return w.runPoll(ctx)
}

// burstRetrigger is how many consecutive debounce resets (writes
// arriving faster than activeDebounce) escalate the window to
// idleDebounce — a long burst of small appends (one record per content
// block, as the Agent streams a turn) settles on the longer window so
// the watcher doesn't re-read the file on every single block.
const burstRetrigger = 4

func (w *Watcher) runNotify(ctx context.Context, fsw *fsnotify.Watcher) error {
	var debounce *clock.Timer
	var consecutive int
	pending := make(chan struct{}, 1)

	fire := func() {
		consecutive = 0
		select {
		case pending <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			consecutive++
			window := activeDebounce
			if consecutive >= burstRetrigger {
				window = idleDebounce
			}
			debounce = w.clk.AfterFunc(window, fire)
		case <-pending:
			w.checkForNewRecords()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			_ = err
		}
	}
}

func (w *Watcher) runPoll(ctx context.Context) error {
	ticker := w.clk.NewTicker(pollFallback)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.checkForNewRecords()
		}
	}
}

// SkipToEnd advances the Watcher past every record already in the file
// without reporting them as new. The Orchestrator calls this right
// after attaching a Watcher to a session that already has conversation
// history, so a resumed or freshly-discovered session doesn't replay
// its entire backlog as if it had just been appended (invariant I3: no
// backlog replay, only genuinely new third-party writes are reported).
// A file that doesn't exist yet is not an error — there is nothing to
// skip past.
func (w *Watcher) SkipToEnd() error {
	records, err := convstore.ReadRecords(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	w.mu.Lock()
	w.offset = int64(len(records))
	w.mu.Unlock()
	return nil
}

// checkForNewRecords reads records appended since w.offset and notifies
// the caller, skipping anything that matches a recently self-sent hash.
func (w *Watcher) checkForNewRecords() {
	w.mu.Lock()
	offset := w.offset
	w.mu.Unlock()

	records, newOffset, err := readFrom(w.path, offset)
	if err != nil || len(records) == 0 {
		return
	}
	w.mu.Lock()
	w.offset = newOffset
	w.mu.Unlock()

	var fresh []convstore.Record
	for _, r := range records {
		if w.self != nil && w.self.WasRecentlySent(r.TextContent()) {
			continue
		}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return
	}

	notification := Notification{NewRecords: fresh}
	last := fresh[len(fresh)-1]
	if pending := last.PendingToolUses(); len(pending) > 0 {
		notification.PendingPermission = &pending[len(pending)-1]
	}
	w.notifyFunc(notification)
}

// readFrom re-parses the whole file and returns only the records past
// offset, along with the file's new record count as the next offset. A full
// re-parse is simpler and safe for conversation record files, which are
// append-only and bounded by a single session's turn count; it avoids
// tracking a byte-exact resume position inside a JSONL stream.
func readFrom(path string, offset int64) ([]convstore.Record, int64, error) {
	records, err := convstore.ReadRecords(path)
	if err != nil {
		return nil, offset, err
	}
	if int64(len(records)) <= offset {
		return nil, offset, nil
	}
	return records[offset:], int64(len(records)), nil
}
