// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package scanner implements the Global Scanner: every tick, it walks
// every project directory's most recently modified session looking for
// a pending tool-use permission that no active Watcher is covering
// (i.e. a session other than the one currently selected in some chat),
// and raises a takeover notification so the user can be told "session
// X in project Y is waiting on you" even though they're looking at a
// different chat.
package scanner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/remotecode/lib/clock"
	"github.com/bureau-foundation/remotecode/internal/convstore"
)

// Interval is how often the scanner walks every project.
const Interval = 10 * time.Second

// maxConcurrentReads bounds how many session files the scanner reads in
// parallel per tick, so one slow or huge project doesn't stall the
// whole scan.
const maxConcurrentReads = 8

// PendingSession describes a session found waiting on a tool-use
// decision that isn't the caller's currently active session.
type PendingSession struct {
	Project   convstore.Project
	Session   convstore.SessionFile
	ToolName  string
}

// ActiveChecker reports whether a session is the one some chat
// currently has selected — the Global Scanner skips those, since the
// Watcher already covers them.
type ActiveChecker func(sessionID string) bool

// Scanner periodically scans every project for pending permissions in
// sessions no Watcher is covering.
type Scanner struct {
	store      *convstore.Store
	clk        clock.Clock
	isActive   ActiveChecker
	onPending  func([]PendingSession)
}

// New returns a Scanner rooted at store, calling onPending with every
// tick's findings (possibly empty).
func New(store *convstore.Store, clk clock.Clock, isActive ActiveChecker, onPending func([]PendingSession)) *Scanner {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scanner{store: store, clk: clk, isActive: isActive, onPending: onPending}
}

// Run blocks, ticking every Interval, until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := s.clk.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			found, err := s.scanOnce(ctx)
			if err != nil {
				continue
			}
			s.onPending(found)
		}
	}
}

// scanOnce performs a single bounded-concurrency sweep across every
// project directory's most recent session.
func (s *Scanner) scanOnce(ctx context.Context) ([]PendingSession, error) {
	projects, err := s.store.ListProjects()
	if err != nil {
		return nil, err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentReads)

	results := make(chan PendingSession, len(projects))
	for _, project := range projects {
		project := project
		group.Go(func() error {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			default:
			}
			sessions, err := s.store.ListSessions(project)
			if err != nil || len(sessions) == 0 {
				return nil
			}
			// Only the most recently modified session per project is
			// worth checking — older sessions can't have a fresh
			// pending tool use the user hasn't already seen.
			latest := sessions[0]
			if s.isActive != nil && s.isActive(latest.SessionID) {
				return nil
			}
			record, ok, err := convstore.LastRecord(latest.Path)
			if err != nil || !ok {
				return nil
			}
			pending := record.PendingToolUses()
			if len(pending) == 0 {
				return nil
			}
			results <- PendingSession{Project: project, Session: latest, ToolName: pending[len(pending)-1].Name}
			return nil
		})
	}

	err = group.Wait()
	close(results)

	var found []PendingSession
	for r := range results {
		found = append(found, r)
	}
	if err != nil {
		return found, err
	}
	return found, nil
}
