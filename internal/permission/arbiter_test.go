// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/remotecode/internal/chat"
	"github.com/bureau-foundation/remotecode/internal/sessionid"
	"github.com/bureau-foundation/remotecode/lib/clock"
)

func TestEvaluateLastMatchWins(t *testing.T) {
	idx := NewIndex([]Rule{
		{ToolName: "Bash", Allow: true},
		{ToolName: "Bash", Prefix: "rm ", Allow: false},
	})

	result := idx.Evaluate("Bash", "rm -rf /tmp/x")
	if result.Decision != DecisionDeny {
		t.Errorf("got %v, want deny", result.Decision)
	}

	result = idx.Evaluate("Bash", "ls -la")
	if result.Decision != DecisionAllow {
		t.Errorf("got %v, want allow", result.Decision)
	}
}

func TestDecideSuppressedAutoAllowsWithoutDialog(t *testing.T) {
	arb := New(NewIndex(nil), clock.Real())
	session := sessionid.New()
	arb.Suppress(session, true)
	arb.Dialog = func(ctx context.Context, req Request) (bool, bool, error) {
		t.Fatal("dialog should not be invoked when suppressed")
		return false, false, nil
	}

	result, err := arb.Decide(context.Background(), Request{Session: session, ToolName: "Bash"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if result.Decision != DecisionAllow || result.Reason != ReasonSuppressed {
		t.Errorf("got %+v", result)
	}
}

func TestDecideDeniedFlagShortCircuitsEverything(t *testing.T) {
	arb := New(NewIndex(nil), clock.Real())
	session := sessionid.New()
	arb.SetYolo(session, true)
	arb.DenyAll(session)
	arb.Dialog = func(ctx context.Context, req Request) (bool, bool, error) {
		t.Fatal("dialog should not be invoked while the deny-all flag is set")
		return false, false, nil
	}

	result, err := arb.Decide(context.Background(), Request{Session: session, ToolName: "Bash"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if result.Decision != DecisionDeny || result.Reason != ReasonDenied {
		t.Errorf("got %+v", result)
	}

	arb.ResetForNewTurn(session)
	result, err = arb.Decide(context.Background(), Request{Session: session, ToolName: "Bash"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if result.Decision != DecisionAllow || result.Reason != ReasonYolo {
		t.Errorf("expected ResetForNewTurn to clear the deny-all flag, got %+v", result)
	}
}

func TestCancelOpenDialogsResolvesInFlightDialogAsDeny(t *testing.T) {
	arb := New(NewIndex(nil), clock.Real())
	session := sessionid.New()

	inDialog := make(chan struct{})
	arb.Dialog = func(ctx context.Context, req Request) (bool, bool, error) {
		close(inDialog)
		<-ctx.Done()
		return false, false, ctx.Err()
	}

	resultCh := make(chan Result, 1)
	go func() {
		result, _ := arb.Decide(context.Background(), Request{Session: session, ToolName: "Write"})
		resultCh <- result
	}()
	<-inDialog
	arb.CancelOpenDialogs(session)

	select {
	case result := <-resultCh:
		if result.Decision != DecisionDeny {
			t.Errorf("got %+v, want deny", result)
		}
	case <-time.After(time.Second):
		t.Fatal("CancelOpenDialogs did not unblock the in-flight dialog")
	}
}

func TestDecideYoloAllows(t *testing.T) {
	arb := New(NewIndex(nil), clock.Real())
	session := sessionid.New()
	arb.SetYolo(session, true)

	result, err := arb.Decide(context.Background(), Request{Session: session, ToolName: "Bash"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if result.Decision != DecisionAllow || result.Reason != ReasonYolo {
		t.Errorf("got %+v", result)
	}
}

func TestDecideAskUserQuestionAlwaysDialogsEvenUnderYolo(t *testing.T) {
	arb := New(NewIndex(nil), clock.Real())
	session := sessionid.New()
	arb.SetYolo(session, true)
	called := false
	arb.Dialog = func(ctx context.Context, req Request) (bool, bool, error) {
		called = true
		return true, false, nil
	}

	result, err := arb.Decide(context.Background(), Request{Session: session, ToolName: "AskUserQuestion", AskUserQuestion: true})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !called {
		t.Error("expected dialog to be invoked despite yolo mode")
	}
	if result.Decision != DecisionAllow {
		t.Errorf("got %+v", result)
	}
}

func TestDecideAllowAlwaysRemembersChoice(t *testing.T) {
	arb := New(NewIndex(nil), clock.Real())
	session := sessionid.New()
	arb.Dialog = func(ctx context.Context, req Request) (bool, bool, error) {
		return true, true, nil
	}

	if _, err := arb.Decide(context.Background(), Request{Session: session, ToolName: "Edit"}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	arb.Dialog = func(ctx context.Context, req Request) (bool, bool, error) {
		t.Fatal("dialog should not fire again, allow-list should short-circuit")
		return false, false, nil
	}
	result, err := arb.Decide(context.Background(), Request{Session: session, ToolName: "Edit"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if result.Decision != DecisionAllow || result.Reason != ReasonAllowList {
		t.Errorf("got %+v", result)
	}
}

func TestDecideStaticDenyShortCircuitsDialog(t *testing.T) {
	idx := NewIndex([]Rule{{ToolName: "Bash", Prefix: "rm -rf", Allow: false}})
	arb := New(idx, clock.Real())
	session := sessionid.New()
	arb.Dialog = func(ctx context.Context, req Request) (bool, bool, error) {
		t.Fatal("dialog should not be invoked, static rule denies")
		return false, false, nil
	}

	result, err := arb.Decide(context.Background(), Request{Session: session, ToolName: "Bash", ArgSummary: "rm -rf /"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if result.Decision != DecisionDeny || result.Reason != ReasonStaticDeny {
		t.Errorf("got %+v", result)
	}
}

func TestDialogSerializedPerChatAcrossSessions(t *testing.T) {
	arb := New(NewIndex(nil), clock.Real())
	sessionA := sessionid.New()
	sessionB := sessionid.New()
	const sharedChat = chat.ChatID("chat-1")

	inDialog := make(chan struct{})
	release := make(chan struct{})
	arb.Dialog = func(ctx context.Context, req Request) (bool, bool, error) {
		inDialog <- struct{}{}
		<-release
		return true, false, nil
	}

	done1 := make(chan struct{})
	go func() {
		arb.Decide(context.Background(), Request{Session: sessionA, Chat: sharedChat, ToolName: "Write"})
		close(done1)
	}()
	<-inDialog

	secondStarted := make(chan struct{})
	go func() {
		arb.Decide(context.Background(), Request{Session: sessionB, Chat: sharedChat, ToolName: "Edit"})
		close(secondStarted)
	}()

	select {
	case <-secondStarted:
		t.Fatal("second dialog (different session, same chat) should not proceed while first is in flight")
	case <-time.After(20 * time.Millisecond):
	}

	release <- struct{}{}
	<-done1
	<-inDialog
	release <- struct{}{}
}
