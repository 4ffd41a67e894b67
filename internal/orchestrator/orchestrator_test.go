// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/bureau-foundation/remotecode/internal/chat"
	"github.com/bureau-foundation/remotecode/internal/permission"
	"github.com/bureau-foundation/remotecode/internal/registry"
	"github.com/bureau-foundation/remotecode/lib/agentdriver"
	"github.com/bureau-foundation/remotecode/lib/clock"
)

type stubProcess struct{}

func (stubProcess) Wait() error          { return nil }
func (stubProcess) Stdin() io.Writer     { return io.Discard }
func (stubProcess) Signal(os.Signal) error { return nil }

type stubDriver struct{}

func (stubDriver) Start(ctx context.Context, config agentdriver.DriverConfig) (agentdriver.Process, io.ReadCloser, error) {
	return stubProcess{}, io.NopCloser(nil), nil
}

func (stubDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- agentdriver.Event) error {
	events <- agentdriver.Event{Type: agentdriver.EventTypeResponse, Response: &agentdriver.ResponseEvent{Content: "hi there"}}
	return nil
}

func (stubDriver) Interrupt(agentdriver.Process) error { return nil }

func TestHandleTextWithNoActiveSessionAsksToCreateOne(t *testing.T) {
	transport := chat.NewMemoryTransport(4)
	arb := permission.New(permission.NewIndex(nil), clock.Real())
	o := New(transport, arb, stubDriver{}, nil, t.TempDir(), nil)

	err := o.handleText(context.Background(), chat.Update{Kind: chat.UpdateText, ChatID: "c1", Text: "hello"})
	if err != nil {
		t.Fatalf("handleText: %v", err)
	}

	sent := transport.Sent()
	if len(sent) != 1 || sent[0].Message.Text == "" {
		t.Fatalf("got %+v", sent)
	}
}

func TestNewSessionThenTurnRendersResponse(t *testing.T) {
	transport := chat.NewMemoryTransport(4)
	arb := permission.New(permission.NewIndex(nil), clock.Real())
	o := New(transport, arb, stubDriver{}, nil, t.TempDir(), nil)

	ctx := context.Background()
	if err := o.handleCommand(ctx, chat.Update{ChatID: "c1", Text: "/new " + t.TempDir()}); err != nil {
		t.Fatalf("handleCommand /new: %v", err)
	}

	if err := o.handleText(ctx, chat.Update{ChatID: "c1", Text: "hello"}); err != nil {
		t.Fatalf("handleText: %v", err)
	}

	sent := transport.Sent()
	last := sent[len(sent)-1]
	if last.Message.Text != "hi there" {
		t.Errorf("got %q", last.Message.Text)
	}
}

func TestYoloToggleAffectsArbiter(t *testing.T) {
	transport := chat.NewMemoryTransport(4)
	arb := permission.New(permission.NewIndex(nil), clock.Real())
	o := New(transport, arb, stubDriver{}, nil, t.TempDir(), nil)

	ctx := context.Background()
	o.handleCommand(ctx, chat.Update{ChatID: "c1", Text: "/new " + t.TempDir()})
	if err := o.handleCommand(ctx, chat.Update{ChatID: "c1", Text: "/yolo"}); err != nil {
		t.Fatalf("handleCommand /yolo: %v", err)
	}

	state, err := registry.Read(registry.ChatFilePath(o.homeDir, "c1"))
	if err != nil {
		t.Fatalf("registry.Read: %v", err)
	}

	result, err := arb.Decide(ctx, permission.Request{Session: state.ActiveSession, ToolName: "Bash"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if result.Decision != permission.DecisionAllow || result.Reason != permission.ReasonYolo {
		t.Errorf("got %+v", result)
	}
}
