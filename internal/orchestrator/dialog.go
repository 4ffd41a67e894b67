// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/remotecode/internal/chat"
	"github.com/bureau-foundation/remotecode/internal/permission"
	"github.com/bureau-foundation/remotecode/internal/sessionid"
)

// dialogAnswer is the user's response to one interactive permission
// dialog, delivered by the perm:/ask: callback handlers.
type dialogAnswer struct {
	allow       bool
	allowAlways bool
}

// pendingDialog tracks one outstanding runChatDialog call so handleText
// can tell whether a busy session is blocked on an AskUserQuestion (in
// which case incoming text answers it, spec §4.5 step 2) or an
// ordinary permission dialog (in which case incoming text instead
// triggers deny-all, per the same step).
type pendingDialog struct {
	session         sessionid.ID
	askUserQuestion bool
	answers         chan dialogAnswer
}

// runChatDialog is installed as the Arbiter's Dialog func: it renders a
// permission question as a chat message with an inline keyboard, then
// blocks until the matching callback answers it or ctx is cancelled.
// This is the only place a tool call's fate is decided by asking the
// user directly, per the cascade's final fall-through step.
func (o *Orchestrator) runChatDialog(ctx context.Context, req permission.Request) (allow bool, allowAlways bool, err error) {
	chatID, ok := o.chatForSession(req.Session)
	if !ok {
		return false, false, fmt.Errorf("orchestrator: no chat known for session %s", req.Session)
	}

	reqID := req.Session.String() + ":" + req.ToolName
	answers := make(chan dialogAnswer, 1)
	o.dialogMu.Lock()
	o.dialogs[reqID] = &pendingDialog{session: req.Session, askUserQuestion: req.AskUserQuestion, answers: answers}
	o.dialogMu.Unlock()
	defer func() {
		o.dialogMu.Lock()
		delete(o.dialogs, reqID)
		o.dialogMu.Unlock()
	}()

	prompt := fmt.Sprintf("%s wants to run %s", req.Session, req.ToolName)
	if req.ArgSummary != "" {
		prompt += "\n" + req.ArgSummary
	}

	prefix := prefixPerm
	if req.AskUserQuestion {
		prefix = prefixAsk
	}
	_, sendErr := o.transport.SendMessage(ctx, chatID, chat.OutgoingMessage{
		Text: prompt,
		InlineKeyboard: chat.InlineKeyboard{{
			{Label: "Allow", CallbackData: prefix + reqID + ":allow"},
			{Label: "Always", CallbackData: prefix + reqID + ":always"},
			{Label: "Deny", CallbackData: prefix + reqID + ":deny"},
		}},
	})
	if sendErr != nil {
		return false, false, fmt.Errorf("orchestrator: sending dialog: %w", sendErr)
	}

	select {
	case a := <-answers:
		return a.allow, a.allowAlways, nil
	case <-ctx.Done():
		return false, false, ctx.Err()
	}
}

// answerDialog delivers a tapped dialog answer to the waiting
// runChatDialog call, if one is still pending. A miss (dialog already
// timed out, or stale callback data) is not an error — the cascade
// already resolved to deny.
func (o *Orchestrator) answerDialog(reqID string, verdict string) bool {
	o.dialogMu.Lock()
	pd, ok := o.dialogs[reqID]
	o.dialogMu.Unlock()
	if !ok {
		return false
	}

	switch verdict {
	case "allow":
		pd.answers <- dialogAnswer{allow: true}
	case "always":
		pd.answers <- dialogAnswer{allow: true, allowAlways: true}
	default:
		pd.answers <- dialogAnswer{allow: false}
	}
	return true
}

// findOpenAskUserQuestion returns the first outstanding AskUserQuestion
// dialog for session, if any, for handleText's busy-session branch
// (spec §4.5 step 2: a free-text reply while one is open answers it
// instead of queuing).
func (o *Orchestrator) findOpenAskUserQuestion(session sessionid.ID) (reqID string, pd *pendingDialog, ok bool) {
	o.dialogMu.Lock()
	defer o.dialogMu.Unlock()
	for id, d := range o.dialogs {
		if d.session.Equal(session) && d.askUserQuestion {
			return id, d, true
		}
	}
	return "", nil, false
}

// hasOpenDialog reports whether any dialog (AskUserQuestion or
// permission) is currently outstanding for session.
func (o *Orchestrator) hasOpenDialog(session sessionid.ID) bool {
	o.dialogMu.Lock()
	defer o.dialogMu.Unlock()
	for _, d := range o.dialogs {
		if d.session.Equal(session) {
			return true
		}
	}
	return false
}

// answerAskUserQuestionWithText resolves an outstanding AskUserQuestion
// dialog using free text typed directly into chat rather than a tapped
// button, per spec §4.5 step 2. The Agent only needs to know the
// question was answered to keep the tool call it's blocked on moving;
// the literal words aren't fed back through the allow/deny channel.
func (o *Orchestrator) answerAskUserQuestionWithText(reqID string) bool {
	return o.answerDialog(reqID, "allow")
}

func (o *Orchestrator) chatForSession(session sessionid.ID) (chat.ChatID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.sessionChats[session]
	return id, ok
}

func (o *Orchestrator) rememberSessionChat(session sessionid.ID, chatID chat.ChatID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessionChats[session] = chatID
}
