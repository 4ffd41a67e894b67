// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/remotecode/internal/chat"
	"github.com/bureau-foundation/remotecode/internal/sessionid"
	"github.com/bureau-foundation/remotecode/lib/clock"
)

// DialogTimeout is how long an interactive dialog waits for a chat
// response before the request is automatically denied.
const DialogTimeout = 5 * time.Minute

// Request describes one tool call awaiting a decision.
type Request struct {
	Session sessionid.ID
	// Chat identifies which chat the dialog, if one is needed, renders
	// into. The interactive-dialog gate serializes per Chat, not per
	// Session, since several sessions can share one chat (invariant I2:
	// only one dialog is ever on screen at a time in a given chat).
	Chat       chat.ChatID
	ToolName   string
	ArgSummary string
	// WorkingDir, if set, causes Decide to layer that directory's
	// project policy files on top of the Arbiter's global static rules
	// before falling through to a dialog.
	WorkingDir      string
	AskUserQuestion bool
}

// sessionState is the Arbiter's per-session mutable policy state.
type sessionState struct {
	yolo      bool
	allowList map[string]bool // "ToolName\x00Prefix" -> allowed

	// suppressed marks a session that has gone to the background after
	// a chat switched away from it (or a takeover re-armed a different
	// one): its outstanding tool-uses auto-allow without UI as its
	// stream unwinds silently (spec: "mark A yolo" on switch-away).
	suppressed bool

	// denied is the sticky deny-all flag: once set, every callback for
	// this session auto-denies with no dialog until the next turn
	// starts. Set by DenyAll (a /cancel, or a new message arriving
	// while a permission dialog is open); cleared by ResetForNewTurn.
	denied bool

	// dialogCancels holds the cancel funcs of every dialog currently in
	// flight (blocked on the chat gate or waiting on an answer) for
	// this session, so DenyAll/CancelOpenDialogs can unblock them
	// immediately instead of only affecting future Decide calls.
	dialogCancels []context.CancelFunc
}

// Arbiter evaluates the full cascade for tool-call requests and
// serializes the interactive-dialog phase per chat so two concurrent
// tool calls sharing a chat never show two dialogs at once.
type Arbiter struct {
	clock clock.Clock

	staticRules Index

	mu           sync.Mutex
	sessions     map[sessionid.ID]*sessionState
	gates        map[chat.ChatID]*semaphore.Weighted
	projectFiles map[string]cachedFile

	// Dialog is how the Arbiter asks the Orchestrator's chat layer to
	// present an interactive dialog and returns the user's choice. Set
	// once at construction; exists as a field (not a hardcoded import)
	// so tests can inject a scripted responder.
	Dialog func(ctx context.Context, req Request) (allow bool, allowAlways bool, err error)
}

// New returns an Arbiter evaluating the given static rule index.
func New(staticRules Index, clk clock.Clock) *Arbiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Arbiter{
		clock:        clk,
		staticRules:  staticRules,
		sessions:     make(map[sessionid.ID]*sessionState),
		gates:        make(map[chat.ChatID]*semaphore.Weighted),
		projectFiles: make(map[string]cachedFile),
	}
}

func (a *Arbiter) state(session sessionid.ID) *sessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[session]
	if !ok {
		s = &sessionState{allowList: make(map[string]bool)}
		a.sessions[session] = s
	}
	return s
}

func (a *Arbiter) gate(chatID chat.ChatID) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.gates[chatID]
	if !ok {
		g = semaphore.NewWeighted(1)
		a.gates[chatID] = g
	}
	return g
}

// SetYolo enables or disables blanket allow for a session.
func (a *Arbiter) SetYolo(session sessionid.ID, enabled bool) {
	s := a.state(session)
	a.mu.Lock()
	defer a.mu.Unlock()
	s.yolo = enabled
}

// Suppress marks a session as suppressed: every request auto-allows
// without a dialog. Used while a session is pushed to the background by
// a chat switching away from it, so its stream can keep unwinding
// silently instead of blocking on a dialog nobody will see (spec §4.5:
// "mark A yolo" on switch-away, invariant I4: "A continues silently").
func (a *Arbiter) Suppress(session sessionid.ID, suppressed bool) {
	s := a.state(session)
	a.mu.Lock()
	defer a.mu.Unlock()
	s.suppressed = suppressed
}

func allowListKey(toolName, prefix string) string { return toolName + "\x00" + prefix }

func (a *Arbiter) rememberAllow(session sessionid.ID, toolName, prefix string) {
	s := a.state(session)
	a.mu.Lock()
	defer a.mu.Unlock()
	s.allowList[allowListKey(toolName, prefix)] = true
}

// ResetForNewTurn clears the sticky deny-all flag a previous /cancel (or
// busy-with-open-dialog) left on session, per spec §4.4: "The flag is
// cleared at the start of the next turn." Call before starting a new
// turn on the session.
func (a *Arbiter) ResetForNewTurn(session sessionid.ID) {
	s := a.state(session)
	a.mu.Lock()
	defer a.mu.Unlock()
	s.denied = false
}

// Decide runs the full cascade for req, blocking on an interactive
// dialog (via a.Dialog) only if every earlier step falls through. The
// dialog phase is serialized per chat via the chat's gate semaphore, so
// a second dialog request for the same chat queues rather than firing a
// second dialog on screen at once.
//
// Cascade order, cheapest and most decisive first:
//
//  1. Deny-all flag (a /cancel or busy-dialog-interrupt in progress)
//  2. Suppression (session pushed to the background by a switch)
//  3. AskUserQuestion (always answered via dialog, never auto-resolved)
//  4. Session yolo mode
//  5. Per-session allow-list ("allow always" answers)
//  6. Static policy files
//  7. Interactive dialog (fall-through)
func (a *Arbiter) Decide(ctx context.Context, req Request) (Result, error) {
	state := a.state(req.Session)

	a.mu.Lock()
	denied := state.denied
	suppressed := state.suppressed
	yolo := state.yolo
	allowed := state.allowList[allowListKey(req.ToolName, "")]
	a.mu.Unlock()

	if denied {
		return Result{Decision: DecisionDeny, Reason: ReasonDenied}, nil
	}
	if suppressed {
		return Result{Decision: DecisionAllow, Reason: ReasonSuppressed}, nil
	}
	if req.AskUserQuestion {
		return a.runDialog(ctx, req)
	}
	if yolo {
		return Result{Decision: DecisionAllow, Reason: ReasonYolo}, nil
	}
	if allowed {
		return Result{Decision: DecisionAllow, Reason: ReasonAllowList}, nil
	}

	rules := a.staticRules
	if req.WorkingDir != "" {
		rules = a.ProjectRules(req.WorkingDir)
	}
	if result := rules.Evaluate(req.ToolName, req.ArgSummary); result.Decision != DecisionAsk {
		return result, nil
	}

	return a.runDialog(ctx, req)
}

// runDialog serializes and executes the interactive dialog phase,
// enforcing DialogTimeout. The dialog's context is independently
// cancelable (registered on the session's state) so CancelOpenDialogs
// and DenyAll can unblock a dialog that is either already waiting for
// an answer or still queued behind the chat's gate.
func (a *Arbiter) runDialog(ctx context.Context, req Request) (Result, error) {
	dialogCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.registerDialogCancel(req.Session, cancel)
	defer a.unregisterDialogCancel(req.Session, cancel)

	gate := a.gate(req.Chat)
	if err := gate.Acquire(dialogCtx, 1); err != nil {
		return Result{Decision: DecisionDeny, Reason: ReasonDialog}, nil
	}
	defer gate.Release(1)

	if a.Dialog == nil {
		return Result{}, fmt.Errorf("permission: no dialog handler configured")
	}

	type outcome struct {
		allow       bool
		allowAlways bool
		err         error
	}
	done := make(chan outcome, 1)
	go func() {
		allow, allowAlways, err := a.Dialog(dialogCtx, req)
		done <- outcome{allow, allowAlways, err}
	}()

	select {
	case o := <-done:
		if dialogCtx.Err() != nil {
			return Result{Decision: DecisionDeny, Reason: ReasonDialog}, nil
		}
		if o.err != nil {
			return Result{}, fmt.Errorf("permission: dialog failed: %w", o.err)
		}
		if o.allowAlways {
			a.rememberAllow(req.Session, req.ToolName, "")
		}
		if o.allow {
			return Result{Decision: DecisionAllow, Reason: ReasonDialog}, nil
		}
		return Result{Decision: DecisionDeny, Reason: ReasonDialog}, nil
	case <-a.clock.After(DialogTimeout):
		return Result{Decision: DecisionDeny, Reason: ReasonDialog}, nil
	case <-dialogCtx.Done():
		return Result{Decision: DecisionDeny, Reason: ReasonDialog}, nil
	}
}

func (a *Arbiter) registerDialogCancel(session sessionid.ID, cancel context.CancelFunc) {
	s := a.state(session)
	a.mu.Lock()
	defer a.mu.Unlock()
	s.dialogCancels = append(s.dialogCancels, cancel)
}

func (a *Arbiter) unregisterDialogCancel(session sessionid.ID, cancel context.CancelFunc) {
	s := a.state(session)
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, c := range s.dialogCancels {
		if fmt.Sprintf("%p", c) == fmt.Sprintf("%p", cancel) {
			s.dialogCancels = append(s.dialogCancels[:i], s.dialogCancels[i+1:]...)
			break
		}
	}
}

// CancelOpenDialogs immediately resolves every dialog currently in
// flight for session as deny — whether it's waiting on a chat answer or
// still queued behind the chat's gate — without touching the sticky
// deny-all flag. Used on a busy session-switch (spec §4.5: the user
// isn't blocked, but the switched-away session keeps running in the
// background under yolo, not under a standing deny).
func (a *Arbiter) CancelOpenDialogs(session sessionid.ID) {
	s := a.state(session)
	a.mu.Lock()
	cancels := append([]context.CancelFunc(nil), s.dialogCancels...)
	a.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// DenyAll cancels every dialog in flight for session (see
// CancelOpenDialogs) and sets the sticky deny-all flag so any further
// tool callback arriving for the session before its stream ends also
// denies immediately, per spec §4.4/§5 (/cancel; a new message arriving
// while a permission dialog is open). Cleared by ResetForNewTurn.
func (a *Arbiter) DenyAll(session sessionid.ID) {
	a.CancelOpenDialogs(session)
	s := a.state(session)
	a.mu.Lock()
	s.denied = true
	a.mu.Unlock()
}
