// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bureau-foundation/remotecode/internal/chat"
	"github.com/bureau-foundation/remotecode/internal/convstore"
	"github.com/bureau-foundation/remotecode/internal/registry"
	"github.com/bureau-foundation/remotecode/internal/sessionid"
)

// staleThreshold is how long an Agent Channel may sit idle (no turn
// running) before the Orchestrator discards it and creates a fresh one
// for the next turn, per invariant I5.
const staleThreshold = 10 * time.Minute

// callback data prefixes, matching SPEC_FULL.md §4.5.
const (
	prefixSession  = "sess:"
	prefixProject  = "proj:"
	prefixNewSess  = "newsess:"
	prefixDelete   = "sessdel:"
	prefixAsk      = "ask:"
	prefixPerm     = "perm:"
	prefixModel    = "model:"
	prefixTakeover = "takeover:"
)

// handleCommand routes a slash command. Beyond the fixed set, two
// families of commands are synthesized dynamically rather than listed
// literally: "/show_sessions_<project>" (equivalent to tapping that
// project's row from /projects) and "/switch_to_<prefix>" (selects the
// first known session whose id starts with prefix), so a user who
// remembers a project name or a short session prefix never has to walk
// the button flow to reach it.
func (o *Orchestrator) handleCommand(ctx context.Context, update chat.Update) error {
	fields := strings.Fields(update.Text)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "/start", "/help":
		return o.cmdHelp(ctx, update)
	case "/new":
		return o.cmdNewSession(ctx, update)
	case "/sessions":
		return o.cmdListSessions(ctx, update)
	case "/projects":
		return o.cmdListProjects(ctx, update)
	case "/resume":
		return o.cmdListSessions(ctx, update)
	case "/yolo":
		return o.cmdToggleYolo(ctx, update, fields)
	case "/autosync", "/sync":
		return o.cmdToggleAutoSync(ctx, update, fields)
	case "/cancel":
		return o.cmdCancel(ctx, update)
	case "/history":
		return o.cmdHistory(ctx, update)
	case "/model":
		return o.cmdSetModel(ctx, update, fields)
	}

	switch {
	case strings.HasPrefix(fields[0], "/show_sessions_"):
		return o.selectProject(ctx, update, o.projectPathForEncodedName(strings.TrimPrefix(fields[0], "/show_sessions_")))
	case strings.HasPrefix(fields[0], "/switch_to_"):
		return o.switchToPrefix(ctx, update, strings.TrimPrefix(fields[0], "/switch_to_"))
	}

	_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("Unknown command %q", fields[0]),
	})
	return err
}

// cmdHelp answers /start and /help with the fixed command set. /start
// exists only as the conventional first message a chat client sends a
// new bot; it carries no session-creation semantics of its own.
func (o *Orchestrator) cmdHelp(ctx context.Context, update chat.Update) error {
	_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: strings.Join([]string{
			"/new <path> - start a session in a working directory",
			"/sessions or /resume - list recent sessions for the current project",
			"/projects - switch working directory",
			"/model <name> - record a model name for this chat",
			"/yolo [off] - toggle unattended tool approval",
			"/autosync (or /sync) [off] - toggle forwarding host-side turns here",
			"/cancel - stop the current turn and any pending dialogs",
			"/history - show token/cost totals for the active session",
		}, "\n"),
	})
	return err
}

// cmdHistory reports the active session's aggregated usage, backed by
// the Channel's audit log (spec §4.7).
func (o *Orchestrator) cmdHistory(ctx context.Context, update chat.Update) error {
	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	if state.ActiveSession.IsZero() {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "No active session."})
		return err
	}

	o.mu.Lock()
	channel, ok := o.channels[state.ActiveSession]
	o.mu.Unlock()
	if !ok {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "No turns run yet this session."})
		return err
	}
	summary, ok := channel.AuditSummary()
	if !ok {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "No turns run yet this session."})
		return err
	}

	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("Turns: %d\nTokens in/out: %d/%d\nCost: $%.4f",
			summary.TurnCount, summary.InputTokens, summary.OutputTokens, summary.CostUSD),
	})
	return err
}

// cmdSetModel is the slash-command form of the model:-prefixed callback
// setModel already handles from an inline keyboard.
func (o *Orchestrator) cmdSetModel(ctx context.Context, update chat.Update, fields []string) error {
	if len(fields) < 2 {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "Usage: /model <name>"})
		return err
	}
	return o.setModel(ctx, update, fields[1])
}

// cmdCancel implements spec §5 Cancellation: deny every pending dialog
// for the active session, clear its turn queue, briefly suppress it so
// the interrupted stream's trailing tool calls unwind silently instead
// of surfacing a dialog for a turn that's already being torn down, then
// interrupt the Agent and ask it to wrap up. The wrap-up prompt's
// failure is swallowed — /cancel has already done its job by the time
// it's sent.
func (o *Orchestrator) cmdCancel(ctx context.Context, update chat.Update) error {
	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	if state.ActiveSession.IsZero() {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "No active session."})
		return err
	}

	session := state.ActiveSession
	o.arbiter.DenyAll(session)
	o.queueMu.Lock()
	delete(o.queues, session)
	o.queueMu.Unlock()
	o.arbiter.Suppress(session, true)

	o.mu.Lock()
	channel, ok := o.channels[session]
	o.mu.Unlock()
	if ok {
		if err := channel.InterruptCurrent(); err != nil {
			o.log.Warn("interrupting turn for /cancel", "session", session, "error", err)
		}
	}

	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "Cancelled."})

	go func() {
		if runErr := o.runTurn(o.backgroundCtx, update.ChatID, state, "The user cancelled the current task. Wrap up cleanly and stop."); runErr != nil {
			o.log.Warn("wrap-up turn after /cancel", "session", session, "error", runErr)
		}
	}()

	return err
}

// projectPathForEncodedName resolves a "/show_sessions_<name>" command
// back to a working directory path by matching against the Conversation
// Store's known projects and decoding the match with
// convstore.DecodeProjectDir. An unknown name falls back to the encoded
// name itself, which selectProject then stores as given.
func (o *Orchestrator) projectPathForEncodedName(encodedName string) string {
	if o.store == nil {
		return encodedName
	}
	projects, err := o.store.ListProjects()
	if err != nil {
		return encodedName
	}
	for _, p := range projects {
		if p.EncodedName == encodedName {
			if path, ok := convstore.DecodeProjectDir(filepath.Dir(p.Path), p.EncodedName); ok {
				return path
			}
			return p.Path
		}
	}
	return encodedName
}

// switchToPrefix resolves "/switch_to_<prefix>" against the chat's
// current project's sessions and selects the first match.
func (o *Orchestrator) switchToPrefix(ctx context.Context, update chat.Update, prefix string) error {
	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	if state.WorkingDir == "" || o.store == nil {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "No project selected yet."})
		return err
	}

	sessions, err := o.store.ListSessions(o.store.ProjectForWorkingDir(state.WorkingDir))
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if strings.HasPrefix(s.SessionID, prefix) {
			return o.selectSession(ctx, update, s.SessionID)
		}
	}
	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("No session starting with %q.", prefix),
	})
	return err
}

// cmdNewSession creates a fresh session bound to the chat's current
// working directory (or "/new <path>" to set one) and makes it active.
func (o *Orchestrator) cmdNewSession(ctx context.Context, update chat.Update) error {
	fields := strings.Fields(update.Text)
	workingDir := ""
	if len(fields) > 1 {
		workingDir = fields[1]
	}

	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	existing, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	if workingDir == "" {
		workingDir = existing.WorkingDir
	}
	if workingDir == "" {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
			Text: "Usage: /new <working-directory>",
		})
		return err
	}

	newState := registry.State{
		ActiveSession: sessionid.New(),
		WorkingDir:    workingDir,
		Model:         existing.Model,
		AutoSync:      existing.AutoSync,
	}
	if err := registry.Write(statePath, newState); err != nil {
		return err
	}

	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("New session %s in %s", newState.ActiveSession, workingDir),
	})
	return err
}

// cmdListSessions presents an inline keyboard of recent sessions for
// the chat's current project, newest first, plus a button to start a
// fresh one in the same directory.
func (o *Orchestrator) cmdListSessions(ctx context.Context, update chat.Update) error {
	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	if state.WorkingDir == "" {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
			Text: "No working directory set yet. Use /new <path> first.",
		})
		return err
	}
	if o.store == nil {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
			Text: "Session history isn't available on this daemon.",
		})
		return err
	}

	sessions, err := o.store.ListSessions(o.store.ProjectForWorkingDir(state.WorkingDir))
	if err != nil {
		return err
	}

	keyboard := chat.InlineKeyboard{
		{{Label: "+ new session", CallbackData: prefixNewSess + state.WorkingDir}},
	}
	const maxListed = 10
	for i, s := range sessions {
		if i >= maxListed {
			break
		}
		label := s.SessionID
		if len(label) > 12 {
			label = label[:12]
		}
		row := chat.InlineButton{
			Label:        fmt.Sprintf("%s (%s)", label, s.ModTime.Format("Jan 2 15:04")),
			CallbackData: prefixSession + s.SessionID,
		}
		keyboard = append(keyboard, []chat.InlineButton{row})
	}

	text := "Select a session:"
	if len(sessions) == 0 {
		text = "No sessions yet for this project."
	}
	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text:           text,
		InlineKeyboard: keyboard,
	})
	return err
}

// cmdListProjects presents an inline keyboard of every project the
// Conversation Store knows about, for switching working directories.
func (o *Orchestrator) cmdListProjects(ctx context.Context, update chat.Update) error {
	if o.store == nil {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
			Text: "Session history isn't available on this daemon.",
		})
		return err
	}

	projects, err := o.store.ListProjects()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "No known projects yet."})
		return err
	}

	var keyboard chat.InlineKeyboard
	for _, p := range projects {
		dir, _ := convstore.DecodeProjectDir(filepath.Dir(p.Path), p.EncodedName)
		keyboard = append(keyboard, []chat.InlineButton{{Label: p.EncodedName, CallbackData: prefixProject + dir}})
	}
	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text:           "Select a project:",
		InlineKeyboard: keyboard,
	})
	return err
}

func (o *Orchestrator) cmdToggleYolo(ctx context.Context, update chat.Update, fields []string) error {
	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	if state.ActiveSession.IsZero() {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "No active session."})
		return err
	}

	enabled := len(fields) < 2 || fields[1] != "off"
	o.arbiter.SetYolo(state.ActiveSession, enabled)

	text := "Yolo mode disabled."
	if enabled {
		text = "Yolo mode enabled: tool calls run without asking until you turn it off."
	}
	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: text})
	return err
}

func (o *Orchestrator) cmdToggleAutoSync(ctx context.Context, update chat.Update, fields []string) error {
	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	state.AutoSync = len(fields) < 2 || fields[1] != "off"
	if err := registry.Write(statePath, state); err != nil {
		return err
	}

	text := "Auto-sync disabled."
	if state.AutoSync {
		text = "Auto-sync enabled: turns from other tools will be forwarded here."
	}
	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: text})
	return err
}

// handleCallback routes an inline-keyboard tap by its CallbackData
// prefix.
func (o *Orchestrator) handleCallback(ctx context.Context, update chat.Update) error {
	defer o.transport.AnswerCallback(ctx, update.CallbackID, "")

	data := update.CallbackData
	switch {
	case strings.HasPrefix(data, prefixSession):
		return o.selectSession(ctx, update, strings.TrimPrefix(data, prefixSession))
	case strings.HasPrefix(data, prefixTakeover):
		return o.takeoverSession(ctx, update, strings.TrimPrefix(data, prefixTakeover))
	case strings.HasPrefix(data, prefixProject):
		return o.selectProject(ctx, update, strings.TrimPrefix(data, prefixProject))
	case strings.HasPrefix(data, prefixNewSess):
		return o.newSessionInDir(ctx, update, strings.TrimPrefix(data, prefixNewSess))
	case strings.HasPrefix(data, prefixDelete):
		return o.deleteSession(ctx, update, strings.TrimPrefix(data, prefixDelete))
	case strings.HasPrefix(data, prefixModel):
		return o.setModel(ctx, update, strings.TrimPrefix(data, prefixModel))
	case strings.HasPrefix(data, prefixAsk):
		return o.answerPendingDialog(ctx, update, strings.TrimPrefix(data, prefixAsk))
	case strings.HasPrefix(data, prefixPerm):
		return o.answerPendingDialog(ctx, update, strings.TrimPrefix(data, prefixPerm))
	case strings.HasPrefix(data, pendingHostPrefix):
		return o.continueOnHost(ctx, update, strings.TrimPrefix(data, pendingHostPrefix))
	case strings.HasPrefix(data, dismissHostPrefix):
		return o.dismissOnHost(ctx, update, strings.TrimPrefix(data, dismissHostPrefix))
	default:
		return nil
	}
}

// continueOnHost handles the "Continue in Telegram" button on a
// pending-on-host notification (spec §4.6): re-run the permission
// cascade for the tool call that's waiting, this time with the user
// actually looking at the chat, in "<session>:<toolName>" form.
func (o *Orchestrator) continueOnHost(ctx context.Context, update chat.Update, data string) error {
	idx := strings.LastIndex(data, ":")
	if idx < 0 {
		return fmt.Errorf("orchestrator: malformed pending-host callback %q", data)
	}
	sessionText, toolName := data[:idx], data[idx+1:]
	id, err := sessionid.Parse(sessionText)
	if err != nil {
		return err
	}
	o.HandlePendingPermission(ctx, id, toolName, "")
	return nil
}

// dismissOnHost handles the "Dismiss" button: the user has seen the
// notification and is content to let the host terminal handle it
// directly, so nothing further happens here.
func (o *Orchestrator) dismissOnHost(ctx context.Context, update chat.Update, sessionText string) error {
	_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{Text: "Dismissed."})
	return err
}

// selectProject sets the chat's working directory to a project found by
// /projects, without touching the active session.
func (o *Orchestrator) selectProject(ctx context.Context, update chat.Update, path string) error {
	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	state.WorkingDir = path
	if err := registry.Write(statePath, state); err != nil {
		return err
	}
	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("Working directory set to %s. Use /sessions or /new.", path),
	})
	return err
}

// newSessionInDir starts a fresh session in workingDir, mirroring
// cmdNewSession for the "+ new session" button on the /sessions
// keyboard.
func (o *Orchestrator) newSessionInDir(ctx context.Context, update chat.Update, workingDir string) error {
	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	existing, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	newState := registry.State{
		ActiveSession: sessionid.New(),
		WorkingDir:    workingDir,
		Model:         existing.Model,
		AutoSync:      existing.AutoSync,
	}
	if err := registry.Write(statePath, newState); err != nil {
		return err
	}
	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("New session %s in %s", newState.ActiveSession, workingDir),
	})
	return err
}

// deleteSession clears a chat's pointer to a session without touching
// the Agent's own conversation record file — "delete" here means
// forgetting the chat's reference to it, not destroying history.
func (o *Orchestrator) deleteSession(ctx context.Context, update chat.Update, target string) error {
	id, err := sessionid.Parse(target)
	if err != nil {
		return err
	}
	o.arbiter.DenyAll(id)

	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	if state.ActiveSession.Equal(id) {
		state.ActiveSession = sessionid.ID{}
		if err := registry.Write(statePath, state); err != nil {
			return err
		}
	}
	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("Forgot session %s.", id),
	})
	return err
}

// setModel records model in the chat's registry state, from where it
// is carried into new sessions and new Channels. The Agent process is
// not started with it: RunTurn does not pass a model to the driver.
func (o *Orchestrator) setModel(ctx context.Context, update chat.Update, model string) error {
	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	state.Model = model
	if err := registry.Write(statePath, state); err != nil {
		return err
	}
	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("Model recorded as %s.", model),
	})
	return err
}

// answerPendingDialog delivers a tapped permission-dialog answer. data
// is "<requestID>:<verdict>"; requestID is "<session>:<tool>" and so
// contains a colon of its own, so split on the last one.
func (o *Orchestrator) answerPendingDialog(ctx context.Context, update chat.Update, data string) error {
	idx := strings.LastIndex(data, ":")
	if idx < 0 {
		return fmt.Errorf("orchestrator: malformed dialog callback %q", data)
	}
	reqID, verdict := data[:idx], data[idx+1:]
	if !o.answerDialog(reqID, verdict) {
		_, err := o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
			Text: "That request already timed out.",
		})
		return err
	}
	return nil
}

// selectSession switches the chat's active session, suppressing the
// session being switched away from and resolving its in-flight dialogs
// as deny (invariant I2/I4).
func (o *Orchestrator) selectSession(ctx context.Context, update chat.Update, target string) error {
	id, err := sessionid.Parse(target)
	if err != nil {
		return err
	}

	statePath := registry.ChatFilePath(o.homeDir, string(update.ChatID))
	state, err := registry.Read(statePath)
	if err != nil {
		return err
	}
	if !state.ActiveSession.IsZero() && !state.ActiveSession.Equal(id) {
		o.arbiter.Suppress(state.ActiveSession, true)
		o.arbiter.CancelOpenDialogs(state.ActiveSession)
	}

	state.ActiveSession = id
	if err := registry.Write(statePath, state); err != nil {
		return err
	}
	o.arbiter.Suppress(id, false)

	_, err = o.transport.SendMessage(ctx, update.ChatID, chat.OutgoingMessage{
		Text: fmt.Sprintf("Switched to session %s", id),
	})
	return err
}

// takeoverSession re-arms a session the Global Scanner flagged as
// pending in a non-active context, making it this chat's active
// session so its dialog can be answered here.
func (o *Orchestrator) takeoverSession(ctx context.Context, update chat.Update, target string) error {
	return o.selectSession(ctx, update, target)
}
