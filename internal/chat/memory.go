// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// MemoryTransport is an in-process Transport fake. It never touches the
// network: SendMessage/EditMessage/DeleteMessage record their effect in
// memory where tests can inspect it, and incoming Updates are injected
// by calling Inject. Safe for concurrent use.
type MemoryTransport struct {
	mu       sync.Mutex
	sent     []SentMessage
	nextID   int64
	updates  chan Update
	closed   bool
}

// SentMessage records one SendMessage, EditMessage or DeleteMessage
// call for test assertions.
type SentMessage struct {
	ChatID  ChatID
	MsgID   MessageID
	Message OutgoingMessage
	Edited  bool
	Deleted bool
}

// NewMemoryTransport returns a ready-to-use MemoryTransport with an
// update channel of the given buffer size.
func NewMemoryTransport(updateBuffer int) *MemoryTransport {
	return &MemoryTransport{
		updates: make(chan Update, updateBuffer),
	}
}

func (t *MemoryTransport) SendMessage(ctx context.Context, chatID ChatID, msg OutgoingMessage) (MessageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := MessageID(fmt.Sprintf("msg-%d", atomic.AddInt64(&t.nextID, 1)))
	t.sent = append(t.sent, SentMessage{ChatID: chatID, MsgID: id, Message: msg})
	return id, nil
}

func (t *MemoryTransport) EditMessage(ctx context.Context, chatID ChatID, msgID MessageID, msg OutgoingMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, SentMessage{ChatID: chatID, MsgID: msgID, Message: msg, Edited: true})
	return nil
}

func (t *MemoryTransport) DeleteMessage(ctx context.Context, chatID ChatID, msgID MessageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, SentMessage{ChatID: chatID, MsgID: msgID, Deleted: true})
	return nil
}

func (t *MemoryTransport) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (t *MemoryTransport) SendChatAction(ctx context.Context, chatID ChatID, action ChatAction) error {
	return nil
}

// DownloadFile returns an error: MemoryTransport has no file store.
// Tests that need voice/image handling should fake it at a higher
// layer.
func (t *MemoryTransport) DownloadFile(ctx context.Context, fileID string) (string, func(), error) {
	return "", nil, fmt.Errorf("chat: memory transport has no files, requested %q", fileID)
}

func (t *MemoryTransport) Updates() <-chan Update { return t.updates }

// Inject delivers an Update to the orchestrator as if it arrived from
// the wire. Returns an error if the transport has been closed.
func (t *MemoryTransport) Inject(u Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("chat: memory transport closed")
	}
	t.updates <- u
	return nil
}

// Close shuts down the update channel. Idempotent.
func (t *MemoryTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.updates)
}

// Sent returns a snapshot of every SendMessage/EditMessage/DeleteMessage
// call observed so far, in order.
func (t *MemoryTransport) Sent() []SentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SentMessage, len(t.sent))
	copy(out, t.sent)
	return out
}

// DebugDump writes a human-readable transcript to stderr. Useful when a
// test fails and the assertion alone doesn't explain why.
func (t *MemoryTransport) DebugDump() {
	for _, s := range t.Sent() {
		kind := "send"
		if s.Edited {
			kind = "edit"
		}
		if s.Deleted {
			kind = "delete"
		}
		fmt.Fprintf(os.Stderr, "[%s] chat=%s msg=%s text=%q\n", kind, s.ChatID, s.MsgID, s.Message.Text)
	}
}
