// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentchannel

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/remotecode/lib/agentdriver"
	"github.com/bureau-foundation/remotecode/lib/clock"
	"github.com/bureau-foundation/remotecode/internal/sessionid"
)

// fakeProcess implements agentdriver.Process without spawning anything.
type fakeProcess struct {
	waitErr error
	signals []os.Signal
}

func (p *fakeProcess) Wait() error { return p.waitErr }
func (p *fakeProcess) Stdin() io.Writer { return io.Discard }
func (p *fakeProcess) Signal(sig os.Signal) error {
	p.signals = append(p.signals, sig)
	return nil
}

// fakeDriver emits a single canned response event then exits cleanly.
type fakeDriver struct {
	process *fakeProcess
}

func (d *fakeDriver) Start(ctx context.Context, config agentdriver.DriverConfig) (agentdriver.Process, io.ReadCloser, error) {
	d.process = &fakeProcess{}
	return d.process, io.NopCloser(nil), nil
}

func (d *fakeDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- agentdriver.Event) error {
	events <- agentdriver.Event{Type: agentdriver.EventTypeResponse, Response: &agentdriver.ResponseEvent{Content: "done"}}
	return nil
}

func (d *fakeDriver) Interrupt(process agentdriver.Process) error {
	return process.Signal(os.Interrupt)
}

func TestRunTurnEmitsEventsAndReleasesLock(t *testing.T) {
	driver := &fakeDriver{}
	channel := New(Config{
		SessionID:        sessionid.New(),
		WorkingDirectory: t.TempDir(),
		Clock:            clock.Fake(time.Unix(0, 0)),
	}, driver)

	events, err := channel.RunTurn(context.Background(), "hello")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	var got []agentdriver.Event
	for event := range events {
		got = append(got, event)
	}
	if len(got) != 1 || got[0].Response.Content != "done" {
		t.Errorf("got %+v", got)
	}

	if channel.Busy() {
		t.Error("expected channel to be free after turn completes")
	}
}

func TestEnqueueDeliversBeforeNextTurnDrainsIt(t *testing.T) {
	driver := &fakeDriver{}
	channel := New(Config{
		SessionID:        sessionid.New(),
		WorkingDirectory: t.TempDir(),
		Clock:            clock.Fake(time.Unix(0, 0)),
	}, driver)

	channel.Enqueue("queued message")

	events, err := channel.RunTurn(context.Background(), "hello")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	for range events {
	}

	if len(channel.drainQueue()) != 0 {
		t.Error("expected queue to be drained by RunTurn")
	}
}

func TestIsStale(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	channel := New(Config{
		SessionID:        sessionid.New(),
		WorkingDirectory: t.TempDir(),
		Clock:            fakeClock,
	}, &fakeDriver{})

	events, err := channel.RunTurn(context.Background(), "hello")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	for range events {
	}

	if channel.IsStale(time.Minute) {
		t.Error("should not be stale immediately after a turn")
	}

	fakeClock.Advance(2 * time.Minute)
	if !channel.IsStale(time.Minute) {
		t.Error("expected channel to be stale after exceeding max idle")
	}
}

func TestContentHashDedup(t *testing.T) {
	channel := New(Config{SessionID: sessionid.New(), WorkingDirectory: t.TempDir()}, &fakeDriver{})

	hash := HashText("hello world")
	if channel.WasRecentlySent(hash) {
		t.Error("should not match before recording")
	}
	channel.RecordSent(hash)
	if !channel.WasRecentlySent(hash) {
		t.Error("should match after recording")
	}
	if channel.WasRecentlySent(HashText("different text")) {
		t.Error("should not match a different hash")
	}
}
