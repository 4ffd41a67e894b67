// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentchannel owns one Agent subprocess per active session: it
// serializes turns through a single-slot lock, queues stream-input
// messages so a chat message arriving mid-turn doesn't race the Agent's
// stdin, and tracks staleness so a channel left idle longer than a
// caller-chosen limit gets recreated rather than reused. Staleness is
// judged by idle time alone: changes to the session record file are
// not checked.
package agentchannel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/remotecode/lib/agentdriver"
	"github.com/bureau-foundation/remotecode/lib/clock"
	"github.com/bureau-foundation/remotecode/internal/sessionid"
)

// Config describes how to start or resume a Channel.
type Config struct {
	SessionID        sessionid.ID
	WorkingDirectory string
	Model            string
	SystemPromptFile string
	Clock            clock.Clock
	// CloseGrace is how long Interrupt waits for the process to exit
	// before escalating to SIGKILL. Defaults to 2 seconds.
	CloseGrace time.Duration
	// AuditLogPath, if set, mirrors every event the Agent emits during
	// this Channel's turns to a local JSONL file, independent of and
	// in addition to the Agent's own conversation record file — useful
	// for diagnosing a turn after the fact without re-parsing the
	// record file's nested content-block shapes.
	AuditLogPath string
	// PermissionSocketPath, if set, is passed to the driver so the
	// Agent subprocess's tool calls are gated live through the
	// Permission Arbiter over a Unix domain socket MCP server, instead
	// of only being reconciled after the fact from the record file.
	PermissionSocketPath string
}

// Channel drives the Agent subprocesses of one session. Each RunTurn
// spawns a new process, streams events until the Agent finishes its
// turn, and the process then exits (Claude Code in --print mode runs a
// single turn and exits); the Channel itself persists across turns.
// "Staleness" here means only that the Channel has not run a turn for
// longer than the limit passed to IsStale.
type Channel struct {
	config Config
	driver agentdriver.Driver

	turnLock *semaphore.Weighted

	mu             sync.Mutex
	inputQueue     []string
	running        bool
	currentProcess agentdriver.Process
	lastActive     time.Time
	lastTextSum    [32]byte
	hasLastSum     bool

	auditOnce sync.Once
	audit     *agentdriver.SessionLogWriter
}

// New returns a Channel bound to config, using driver to spawn the
// Agent process. Pass &agentdriver.ClaudeDriver{} in production.
func New(config Config, driver agentdriver.Driver) *Channel {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.CloseGrace <= 0 {
		config.CloseGrace = 2 * time.Second
	}
	return &Channel{
		config:   config,
		driver:   driver,
		turnLock: semaphore.NewWeighted(1),
	}
}

// Busy reports whether a turn is currently in flight, so a caller can
// queue an incoming message instead of blocking in RunTurn.
func (c *Channel) Busy() bool {
	if !c.turnLock.TryAcquire(1) {
		return true
	}
	c.turnLock.Release(1)
	return false
}

// Enqueue appends a message to the stream-input queue, to be delivered
// the next time RunTurn drains it. Returns immediately; it never blocks
// on turn completion.
func (c *Channel) Enqueue(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputQueue = append(c.inputQueue, message)
}

// drainQueue returns and clears the pending input queue.
func (c *Channel) drainQueue() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	queued := c.inputQueue
	c.inputQueue = nil
	return queued
}

// RunTurn acquires the turn lock, spawns (or resumes) the Agent process
// with prompt as its seed, and streams structured events on the
// returned channel until the process exits. The channel is closed when
// the turn completes. RunTurn blocks until the turn lock is free, so
// callers that only want to check busy-ness first should call Busy.
func (c *Channel) RunTurn(ctx context.Context, prompt string) (<-chan agentdriver.Event, error) {
	if err := c.turnLock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("agentchannel: acquiring turn lock: %w", err)
	}

	c.mu.Lock()
	c.running = true
	c.lastActive = c.config.Clock.Now()
	c.mu.Unlock()

	process, stdout, err := c.driver.Start(ctx, agentdriver.DriverConfig{
		Prompt:               prompt,
		SystemPromptFile:     c.config.SystemPromptFile,
		SessionID:            c.config.SessionID.String(),
		WorkingDirectory:     c.config.WorkingDirectory,
		PermissionSocketPath: c.config.PermissionSocketPath,
	})
	if err != nil {
		c.turnLock.Release(1)
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return nil, fmt.Errorf("agentchannel: starting agent: %w", err)
	}

	c.mu.Lock()
	c.currentProcess = process
	c.mu.Unlock()

	events := make(chan agentdriver.Event, 16)

	go func() {
		defer close(events)
		defer c.turnLock.Release(1)
		defer func() {
			c.mu.Lock()
			c.running = false
			c.currentProcess = nil
			c.mu.Unlock()
		}()

		c.pumpQueuedInput(ctx, process)

		rawEvents := make(chan agentdriver.Event, 16)
		parseDone := make(chan error, 1)
		go func() {
			defer close(rawEvents)
			parseDone <- c.driver.ParseOutput(ctx, stdout, rawEvents)
		}()
		for event := range rawEvents {
			c.logEvent(event)
			events <- event
		}
		parseErr := <-parseDone
		waitErr := process.Wait()
		if parseErr != nil {
			event := agentdriver.Event{
				Timestamp: c.config.Clock.Now(),
				Type:      agentdriver.EventTypeError,
				Error:     &agentdriver.ErrorEvent{Message: parseErr.Error()},
			}
			c.logEvent(event)
			events <- event
		}
		if waitErr != nil {
			event := agentdriver.Event{
				Timestamp: c.config.Clock.Now(),
				Type:      agentdriver.EventTypeError,
				Error:     &agentdriver.ErrorEvent{Message: waitErr.Error()},
			}
			c.logEvent(event)
			events <- event
		}
	}()

	return events, nil
}

// logEvent mirrors event to the Channel's audit log, if one is
// configured. Lazily opened on the first turn so a Channel that never
// runs never creates an empty log file. Open failures are swallowed —
// the audit log is a diagnostic aid, never a requirement for a turn to
// proceed.
func (c *Channel) logEvent(event agentdriver.Event) {
	if c.config.AuditLogPath == "" {
		return
	}
	c.auditOnce.Do(func() {
		writer, err := agentdriver.NewSessionLogWriter(c.config.AuditLogPath)
		if err == nil {
			c.mu.Lock()
			c.audit = writer
			c.mu.Unlock()
		}
	})
	c.mu.Lock()
	audit := c.audit
	c.mu.Unlock()
	if audit != nil {
		_ = audit.Write(event)
	}
}

// pumpQueuedInput writes any messages queued via Enqueue to the
// process's stdin before its output is consumed, so a fast-follow chat
// message lands in the same turn rather than waiting for the next one.
func (c *Channel) pumpQueuedInput(ctx context.Context, process agentdriver.Process) {
	for _, message := range c.drainQueue() {
		fmt.Fprintln(process.Stdin(), message)
	}
	if closer, ok := process.Stdin().(io.Closer); ok {
		closer.Close()
	}
}

// AuditSummary returns the aggregated token/cost/duration summary of
// every event this Channel has logged so far, for the /history command.
// ok is false if the Channel has no audit log configured or hasn't run
// a turn yet.
func (c *Channel) AuditSummary() (summary agentdriver.SessionSummary, ok bool) {
	c.mu.Lock()
	audit := c.audit
	c.mu.Unlock()
	if audit == nil {
		return agentdriver.SessionSummary{}, false
	}
	return audit.Summary(), true
}

// Close releases resources the Channel holds between turns. Currently
// that is only the audit log file, if one was opened; safe to call on
// a Channel that never ran a turn.
func (c *Channel) Close() error {
	if c.audit != nil {
		return c.audit.Close()
	}
	return nil
}

// IsStale reports whether this Channel has been idle (not running a
// turn) for longer than maxIdle. A stale Channel is discarded and a
// fresh one created for the next turn. Only idle time is considered;
// a record file that another process has written to since the last
// turn does not make the Channel stale.
func (c *Channel) IsStale(maxIdle time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	if c.lastActive.IsZero() {
		return false
	}
	return c.config.Clock.Now().Sub(c.lastActive) > maxIdle
}

// InterruptCurrent interrupts whatever turn is currently running on
// this Channel, if any, without requiring the caller to have kept a
// handle to the process (the Orchestrator's /cancel command doesn't —
// it only knows the session, which maps to a Channel, not a process).
func (c *Channel) InterruptCurrent() error {
	c.mu.Lock()
	process := c.currentProcess
	c.mu.Unlock()
	return c.Interrupt(process)
}

// Interrupt asks the running turn to stop gracefully, then force-kills
// it after CloseGrace if it hasn't exited. No-op if no turn is running.
func (c *Channel) Interrupt(process agentdriver.Process) error {
	if process == nil {
		return nil
	}
	if err := c.driver.Interrupt(process); err != nil {
		return fmt.Errorf("agentchannel: interrupting: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- process.Wait() }()

	select {
	case <-done:
		return nil
	case <-c.config.Clock.After(c.config.CloseGrace):
		return process.Signal(killSignal())
	}
}
