// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator dispatches incoming chat updates to the right
// session, serializes turn execution per session, streams Agent events
// back to chat as rendered messages, and implements the session-switch
// suppression semantics: once a chat switches away from a session, any
// dialog or notification still in flight for the old session is
// silenced rather than surfacing confusingly in the new context.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bureau-foundation/remotecode/internal/agentchannel"
	"github.com/bureau-foundation/remotecode/internal/chat"
	"github.com/bureau-foundation/remotecode/internal/convstore"
	"github.com/bureau-foundation/remotecode/internal/permission"
	"github.com/bureau-foundation/remotecode/internal/permissionmcp"
	"github.com/bureau-foundation/remotecode/internal/registry"
	"github.com/bureau-foundation/remotecode/internal/sessionid"
	"github.com/bureau-foundation/remotecode/internal/voice"
	"github.com/bureau-foundation/remotecode/internal/watcher"
	"github.com/bureau-foundation/remotecode/lib/agentdriver"
)

// maxMessageLength is the chat body truncation boundary.
const maxMessageLength = 4096

// Orchestrator ties a chat.Transport to one or more Agent Channels,
// dispatching updates and rendering turns.
type Orchestrator struct {
	transport   chat.Transport
	arbiter     *permission.Arbiter
	store       *convstore.Store
	transcriber voice.Transcriber
	homeDir     string
	log         *slog.Logger

	mu                   sync.Mutex
	channels             map[sessionid.ID]*agentchannel.Channel
	sessionChats         map[sessionid.ID]chat.ChatID
	sessionDirs          map[sessionid.ID]string
	watched              map[sessionid.ID]bool
	watcherHandles       map[sessionid.ID]*watcher.Watcher
	driver               agentdriver.Driver
	backgroundCtx        context.Context
	permissionSocketPath string

	dialogMu sync.Mutex
	dialogs  map[string]*pendingDialog

	queueMu sync.Mutex
	queues  map[sessionid.ID][]queuedTurn
}

// queuedTurn is one turn waiting for a busy session's current turn to
// finish, per the Turn queue (spec §3): FIFO, drained strictly in
// order once the session goes idle.
type queuedTurn struct {
	chatID chat.ChatID
	prompt string
}

// New returns an Orchestrator. driver is the Agent Channel's process
// driver (agentdriver.ClaudeDriver in production). store may be nil if
// the daemon has no conversation directory configured yet; callbacks
// that need it (session listing) degrade to an explanatory message.
func New(transport chat.Transport, arbiter *permission.Arbiter, driver agentdriver.Driver, store *convstore.Store, homeDir string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		transport:      transport,
		arbiter:        arbiter,
		store:          store,
		transcriber:    voice.Unavailable{},
		homeDir:        homeDir,
		log:            log,
		channels:       make(map[sessionid.ID]*agentchannel.Channel),
		sessionChats:   make(map[sessionid.ID]chat.ChatID),
		sessionDirs:    make(map[sessionid.ID]string),
		watched:        make(map[sessionid.ID]bool),
		watcherHandles: make(map[sessionid.ID]*watcher.Watcher),
		driver:         driver,
		dialogs:        make(map[string]*pendingDialog),
		queues:         make(map[sessionid.ID][]queuedTurn),
	}
	arbiter.Dialog = o.runChatDialog
	return o
}

// SetPermissionSocketPath records the Unix socket path the live
// Permission Arbiter gate is listening on (internal/permissionmcp), so
// every Channel created from here on configures its Agent subprocess
// to route tool calls through it instead of leaving them ungated until
// a record file is read after the fact.
func (o *Orchestrator) SetPermissionSocketPath(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.permissionSocketPath = path
}

// DecideLive answers one live tool-call request from a
// permissionmcp.Serve subprocess, looking up the session's bound chat
// and working directory before running it through the same Permission
// Arbiter cascade HandlePendingPermission uses for record-file-derived
// requests. This is the live half of the Permission Arbiter (spec
// §4.4): a dialog raised here gates the Agent's tool call before it
// runs, rather than reconciling it after the fact.
func (o *Orchestrator) DecideLive(ctx context.Context, req permissionmcp.GateRequest) (permissionmcp.GateResponse, error) {
	session, err := sessionid.Parse(req.SessionID)
	if err != nil {
		return permissionmcp.GateResponse{}, fmt.Errorf("orchestrator: parsing session id in gate request: %w", err)
	}

	chatID, ok := o.chatForSession(session)
	if !ok {
		return permissionmcp.GateResponse{Allow: false, Message: "no chat bound to this session"}, nil
	}
	o.mu.Lock()
	workingDir := o.sessionDirs[session]
	o.mu.Unlock()

	result, err := o.arbiter.Decide(ctx, permission.Request{
		Session:    session,
		Chat:       chatID,
		ToolName:   req.ToolName,
		ArgSummary: req.ArgSummary,
		WorkingDir: workingDir,
	})
	if err != nil {
		return permissionmcp.GateResponse{}, fmt.Errorf("orchestrator: live permission decision: %w", err)
	}
	return permissionmcp.GateResponse{Allow: result.Decision == permission.DecisionAllow}, nil
}

// Run consumes updates from the transport until its channel closes or
// ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.backgroundCtx = ctx
	o.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-o.transport.Updates():
			if !ok {
				return nil
			}
			// Dispatched as its own goroutine so a streaming turn on one
			// session never blocks another update — a sess:/takeover:
			// tap, a /cancel, or a turn on a different session — from
			// being processed while it's in flight (spec §5's
			// cooperative-concurrency model). Per-session ordering is
			// preserved separately, by the turn queue in handleText and
			// the Channel's own turn lock.
			go o.dispatch(ctx, update)
		}
	}
}

// dispatch classifies and routes one update. Errors are logged, not
// surfaced as a panic, since a single bad update must not take down the
// whole daemon.
func (o *Orchestrator) dispatch(ctx context.Context, update chat.Update) {
	var err error
	switch update.Kind {
	case chat.UpdateCommand:
		err = o.handleCommand(ctx, update)
	case chat.UpdateCallback:
		err = o.handleCallback(ctx, update)
	case chat.UpdateText:
		err = o.handleText(ctx, update)
	case chat.UpdateVoice:
		err = o.handleVoice(ctx, update)
	case chat.UpdateImage:
		err = o.handleUnsupportedMedia(ctx, update)
	}
	if err != nil {
		o.log.Error("handling update", "kind", update.Kind, "error", err)
	}
}

// handleText implements spec §4.5 step 2's busy-session branch: a new
// text update against a session already streaming a turn either
// answers an outstanding AskUserQuestion dialog, gets queued behind
// the running turn, or forces the running turn to wind down early if
// it's the one blocking on a permission dialog nobody can see anymore.
func (o *Orchestrator) handleText(ctx context.Context, update chat.Update) error {
	state, err := registry.Read(registry.ChatFilePath(o.homeDir, string(update.ChatID)))
	if err != nil {
		return fmt.Errorf("orchestrator: reading registry state: %w", err)
	}
	if state.ActiveSession.IsZero() {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
			Text: "No active session. Use /new to start one.",
		})
		return err
	}

	channel := o.channelFor(state)
	if channel.Busy() {
		if reqID, _, ok := o.findOpenAskUserQuestion(state.ActiveSession); ok {
			o.answerAskUserQuestionWithText(reqID)
			return nil
		}

		o.enqueueTurn(state.ActiveSession, update.ChatID, update.Text)
		if o.hasOpenDialog(state.ActiveSession) {
			// A permission dialog is open for a turn nobody is looking
			// at anymore — deny it now so the stream winds down and the
			// queued turn above gets its turn instead of waiting behind
			// a dialog that will never be answered (spec §4.5 step 2).
			o.arbiter.DenyAll(state.ActiveSession)
		}
		return nil
	}

	return o.runTurn(ctx, update.ChatID, state, update.Text)
}

// enqueueTurn appends a turn to session's FIFO queue (spec §3: the Turn
// queue), to be started once the currently running turn completes.
func (o *Orchestrator) enqueueTurn(session sessionid.ID, chatID chat.ChatID, prompt string) {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	o.queues[session] = append(o.queues[session], queuedTurn{chatID: chatID, prompt: prompt})
}

// dequeueTurn pops the next queued turn for session, if any.
func (o *Orchestrator) dequeueTurn(session sessionid.ID) (queuedTurn, bool) {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	queue := o.queues[session]
	if len(queue) == 0 {
		return queuedTurn{}, false
	}
	next := queue[0]
	o.queues[session] = queue[1:]
	return next, true
}

// runTurn executes one turn on the given session and streams the
// result back into chat as a single message that's edited in place as
// more output arrives, rather than one message per event. Once the
// turn completes it drains the session's queue, running any turns that
// arrived while this one was in flight, strictly in order.
func (o *Orchestrator) runTurn(ctx context.Context, chatID chat.ChatID, state registry.State, prompt string) error {
	o.arbiter.ResetForNewTurn(state.ActiveSession)
	o.arbiter.Suppress(state.ActiveSession, false)

	channel := o.channelFor(state)
	o.mu.Lock()
	o.sessionChats[state.ActiveSession] = chatID
	o.sessionDirs[state.ActiveSession] = state.WorkingDir
	o.mu.Unlock()

	events, err := channel.RunTurn(ctx, prompt)
	if err != nil {
		return fmt.Errorf("orchestrator: starting turn: %w", err)
	}

	msgID, sendErr := o.transport.SendMessage(ctx, chatID, chat.OutgoingMessage{Text: "…"})
	if sendErr != nil {
		return fmt.Errorf("orchestrator: sending placeholder: %w", sendErr)
	}

	var rendered strings.Builder
	for event := range events {
		chunk := renderEvent(event)
		if chunk == "" {
			continue
		}
		rendered.WriteString(chunk)
		text := truncate(rendered.String(), maxMessageLength)
		if err := o.transport.EditMessage(ctx, chatID, msgID, chat.OutgoingMessage{Text: text}); err != nil {
			o.log.Warn("editing streamed message", "error", err)
		}
	}

	channel.RecordSent(agentchannel.HashText(rendered.String()))

	if next, ok := o.dequeueTurn(state.ActiveSession); ok {
		nextState := state
		if freshState, err := registry.Read(registry.ChatFilePath(o.homeDir, string(next.chatID))); err == nil {
			freshState.ActiveSession = state.ActiveSession
			nextState = freshState
		}
		if err := o.runTurn(ctx, next.chatID, nextState, next.prompt); err != nil {
			o.log.Error("running queued turn", "session", state.ActiveSession, "error", err)
		}
	}
	return nil
}

// IsSessionActive reports whether some chat currently has sessionID
// selected, for the Global Scanner's ActiveChecker — sessions a chat
// already has open are covered by the Watcher and don't need a
// redundant scan-driven dialog.
func (o *Orchestrator) IsSessionActive(sessionID string) bool {
	var chatIDs []chat.ChatID
	var session sessionid.ID
	o.mu.Lock()
	for id, chatID := range o.sessionChats {
		if id.String() == sessionID {
			session = id
			chatIDs = append(chatIDs, chatID)
		}
	}
	o.mu.Unlock()
	for _, chatID := range chatIDs {
		state, err := registry.Read(registry.ChatFilePath(o.homeDir, string(chatID)))
		if err == nil && state.ActiveSession.Equal(session) {
			return true
		}
	}
	return false
}

// HandlePendingPermission runs the permission cascade for a tool call
// the Watcher or Global Scanner found waiting in a session's record
// file. It is a no-op if the session has no chat bound to it yet (the
// Global Scanner finds sessions across every project, including ones
// no chat ever selected).
func (o *Orchestrator) HandlePendingPermission(ctx context.Context, session sessionid.ID, toolName, argSummary string) {
	chatID, ok := o.chatForSession(session)
	if !ok {
		return
	}
	o.mu.Lock()
	workingDir := o.sessionDirs[session]
	o.mu.Unlock()

	result, err := o.arbiter.Decide(ctx, permission.Request{Session: session, Chat: chatID, ToolName: toolName, ArgSummary: argSummary, WorkingDir: workingDir})
	if err != nil {
		o.log.Error("deciding pending permission", "session", session, "tool", toolName, "error", err)
		return
	}
	o.log.Info("pending permission resolved", "session", session, "tool", toolName, "decision", result.Decision, "reason", result.Reason)
}

// channelFor returns the Channel for state's active session, creating
// one if none exists yet.
func (o *Orchestrator) channelFor(state registry.State) *agentchannel.Channel {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ch, ok := o.channels[state.ActiveSession]; ok && !ch.IsStale(staleThreshold) {
		return ch
	} else if ok {
		ch.Close()
	}

	auditDir := filepath.Join(o.homeDir, "audit")
	auditPath := ""
	if err := os.MkdirAll(auditDir, 0o700); err == nil {
		auditPath = filepath.Join(auditDir, state.ActiveSession.String()+".jsonl")
	}

	ch := agentchannel.New(agentchannel.Config{
		SessionID:            state.ActiveSession,
		WorkingDirectory:     state.WorkingDir,
		Model:                state.Model,
		AuditLogPath:         auditPath,
		PermissionSocketPath: o.permissionSocketPath,
	}, o.driver)
	o.channels[state.ActiveSession] = ch
	o.startWatching(state.ActiveSession, state.WorkingDir, ch)
	return ch
}

// startWatching begins tailing a session's record file for third-party
// writes, once per session for the Orchestrator's lifetime. A nil store
// (no conversation directory configured) or an already-watched session
// is a no-op.
func (o *Orchestrator) startWatching(session sessionid.ID, workingDir string, ch *agentchannel.Channel) {
	if o.store == nil || o.watched[session] || o.backgroundCtx == nil {
		return
	}
	o.watched[session] = true

	path := o.store.SessionPath(workingDir, session.String())
	w := watcher.New(path, 0, nil, channelSelfCheck{ch}, func(n watcher.Notification) {
		o.handleTailedRecords(session, n)
	})
	// A Channel is created either for a brand-new session (nothing to
	// skip) or a resumed one with existing history; either way the
	// Orchestrator itself accounts for everything up to "now" through
	// the turn it's about to run, so the Watcher should only ever
	// report what a third party appends from this point forward
	// (invariant I3: no backlog replay).
	if err := w.SkipToEnd(); err != nil {
		o.log.Warn("skipping watcher to end of existing history", "session", session, "error", err)
	}
	// The caller (channelFor) holds o.mu.
	o.watcherHandles[session] = w

	go func() {
		if err := w.Run(o.backgroundCtx); err != nil && err != context.Canceled {
			o.log.Warn("watcher stopped", "session", session, "error", err)
		}
	}()
}

// pendingHostPrefix and dismissHostPrefix back the "Continue in
// Telegram" / "Dismiss" buttons handleTailedRecords attaches to a
// pending-on-host notification (spec §4.6): a tool call is waiting on
// a decision made from the host terminal directly, outside this chat,
// and the user gets to choose whether to resolve it here instead.
const (
	pendingHostPrefix = "hostpending:"
	dismissHostPrefix = "hostdismiss:"
)

// handleTailedRecords always runs the permission pass for anything the
// Watcher found pending at the tail of the record file — spec §4.6
// requires this regardless of auto-sync, since a tool call left waiting
// on the host blocks the Agent's process whether or not this chat
// wants to see the conversation mirrored. Only the display forward
// (auto-sync) is gated on the chat's setting.
func (o *Orchestrator) handleTailedRecords(session sessionid.ID, n watcher.Notification) {
	chatID, ok := o.chatForSession(session)
	if !ok {
		return
	}

	statePath := registry.ChatFilePath(o.homeDir, string(chatID))
	state, err := registry.Read(statePath)
	if err != nil {
		o.log.Warn("reading registry state for tailed records", "session", session, "error", err)
		return
	}

	if state.AutoSync {
		for _, record := range n.NewRecords {
			text := record.TextContent()
			if text == "" {
				continue
			}
			label := "[sync] Bot:"
			if record.Message != nil && record.Message.Role == "user" {
				label = "[sync] You:"
			}
			if _, err := o.transport.SendMessage(o.backgroundCtx, chatID, chat.OutgoingMessage{
				Text: label + " " + truncate(text, maxMessageLength),
			}); err != nil {
				o.log.Warn("forwarding tailed record", "session", session, "error", err)
			}
		}
	}

	if n.PendingPermission == nil {
		return
	}

	toolName := n.PendingPermission.Name
	if _, err := o.transport.SendMessage(o.backgroundCtx, chatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("A tool call (%s) is pending on the host for session %s.", toolName, session),
		InlineKeyboard: chat.InlineKeyboard{{
			{Label: "Continue in Telegram", CallbackData: pendingHostPrefix + session.String() + ":" + toolName},
			{Label: "Dismiss", CallbackData: dismissHostPrefix + session.String()},
		}},
	}); err != nil {
		o.log.Warn("sending pending-on-host notification", "session", session, "error", err)
	}
}

// channelSelfCheck adapts a Channel's content-hash dedup to the
// Watcher's plain-text SelfWriteChecker interface.
type channelSelfCheck struct{ ch *agentchannel.Channel }

func (c channelSelfCheck) WasRecentlySent(text string) bool {
	return c.ch.WasRecentlySent(agentchannel.HashText(text))
}

// renderEvent turns one Agent event into chat-visible text, or "" for
// events with nothing user-facing to show (metrics, system init).
func renderEvent(event agentdriver.Event) string {
	switch event.Type {
	case agentdriver.EventTypeResponse:
		if event.Response != nil {
			return event.Response.Content
		}
	case agentdriver.EventTypeToolCall:
		if event.ToolCall != nil {
			return fmt.Sprintf("\n[%s]", event.ToolCall.Name)
		}
	case agentdriver.EventTypeError:
		if event.Error != nil {
			return fmt.Sprintf("\n⚠ %s", event.Error.Message)
		}
	case agentdriver.EventTypeTaskStarted:
		if event.TaskStarted != nil {
			return fmt.Sprintf("\n[task: %s]", event.TaskStarted.Description)
		}
	case agentdriver.EventTypeTaskNotification:
		if event.TaskNotification != nil {
			return "\n[task done]"
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-len("[truncated]")] + "[truncated]"
}

// handleUnsupportedMedia answers image updates with the rejection the
// spec requires since image ingestion is out of scope for this module.
func (o *Orchestrator) handleUnsupportedMedia(ctx context.Context, update chat.Update) error {
	_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: "Voice and image messages aren't supported yet.",
	})
	return err
}

// handleVoice downloads a voice update and runs it through the
// configured Transcriber. With the default voice.Unavailable, this
// always falls through to the same rejection handleUnsupportedMedia
// sends — but the path is the real one a future Transcriber would
// plug into, not a special case.
func (o *Orchestrator) handleVoice(ctx context.Context, update chat.Update) error {
	localPath, cleanup, err := o.transport.DownloadFile(ctx, update.FileID)
	if err != nil {
		return o.handleUnsupportedMedia(ctx, update)
	}
	defer cleanup()

	text, err := o.transcriber.Transcribe(ctx, localPath)
	if err != nil {
		return o.handleUnsupportedMedia(ctx, update)
	}

	state, err := registry.Read(registry.ChatFilePath(o.homeDir, string(update.ChatID)))
	if err != nil {
		return err
	}
	if state.ActiveSession.IsZero() {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
			Text: "No active session. Use /new to start one.",
		})
		return err
	}
	return o.runTurn(ctx, update.ChatID, state, text)
}
