// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat defines the boundary between the session orchestrator
// and whatever chat wire protocol it is bridged to. The orchestrator
// never speaks to a chat backend directly — it depends only on the
// Transport interface here, the same way a messaging package can let
// the rest of a fleet depend on a Session interface instead of a
// concrete HTTP client.
//
// The concrete wire client (Telegram's Bot API or otherwise) is out of
// scope for this module. Production binaries link in their own
// Transport implementation; tests and local development use
// MemoryTransport from this package.
package chat

import "context"

// ChatID identifies a chat conversation (a DM or group) in the
// upstream transport's own id space. Treated as an opaque string by
// the orchestrator.
type ChatID string

// MessageID identifies a single sent message within a ChatID, for
// editing or deleting it later (e.g. to redraw the streaming assistant
// reply in place, or to remove a dialog once it is answered).
type MessageID string

// ChatAction is a transient presence indicator ("typing…", "uploading
// a file…") sent while a turn is in progress.
type ChatAction string

const (
	ActionTyping         ChatAction = "typing"
	ActionUploadDocument ChatAction = "upload_document"
)

// InlineButton is a single button in an InlineKeyboard. CallbackData is
// delivered back to the orchestrator in the Callback field of a future
// Update when the user taps it.
type InlineButton struct {
	Label        string
	CallbackData string
}

// InlineKeyboard is a grid of buttons attached to a message, used for
// session pickers, the permission dialog's Allow/Deny/Allow-always
// choices, and the AskUserQuestion option list.
type InlineKeyboard [][]InlineButton

// OutgoingMessage is the content the orchestrator asks the transport to
// deliver.
type OutgoingMessage struct {
	Text           string
	InlineKeyboard InlineKeyboard
	ReplyTo        MessageID
	// DisableNotification suppresses the push notification for chatter
	// that doesn't need to interrupt the user (e.g. a typing indicator
	// substitute, or a streaming partial-reply edit).
	DisableNotification bool
}

// UpdateKind classifies an incoming Update.
type UpdateKind int

const (
	UpdateText UpdateKind = iota
	UpdateImage
	UpdateVoice
	UpdateCommand
	UpdateCallback
)

// Update is a single incoming event from the transport: a text message,
// an uploaded image or voice note, a slash command, or a callback from
// an inline button tap. The Orchestrator classifies and dispatches
// Updates per its command-routing table.
type Update struct {
	Kind   UpdateKind
	ChatID ChatID

	// Text holds the message body for UpdateText, the command line
	// (including leading slash) for UpdateCommand, and is empty
	// otherwise.
	Text string

	// FileID references an uploaded image or voice note, resolved via
	// Transport.DownloadFile. Set for UpdateImage and UpdateVoice.
	FileID string

	// CallbackID and CallbackData are set for UpdateCallback: CallbackID
	// must be passed to Transport.AnswerCallback to clear the client's
	// loading spinner, and CallbackData is the opaque string the
	// Orchestrator attached to the tapped InlineButton.
	CallbackID   string
	CallbackData string

	// MessageID is the id of the message that carried this update
	// (the command message, or the message the callback button is
	// attached to).
	MessageID MessageID
}

// Transport is the boundary the orchestrator depends on to exchange
// messages with a chat backend. Implementations must be safe for
// concurrent use.
type Transport interface {
	// SendMessage delivers msg to chatID and returns the id of the sent
	// message, for later editing or replying.
	SendMessage(ctx context.Context, chatID ChatID, msg OutgoingMessage) (MessageID, error)

	// EditMessage replaces the content of a previously sent message.
	// Used to redraw a streaming assistant reply in place rather than
	// sending a new message per chunk.
	EditMessage(ctx context.Context, chatID ChatID, msgID MessageID, msg OutgoingMessage) error

	// DeleteMessage removes a previously sent message (e.g. a dialog
	// once it has been answered).
	DeleteMessage(ctx context.Context, chatID ChatID, msgID MessageID) error

	// AnswerCallback acknowledges an UpdateCallback, clearing the
	// client's loading spinner. text, if non-empty, is shown as a
	// transient toast.
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// SendChatAction sends a transient presence indicator.
	SendChatAction(ctx context.Context, chatID ChatID, action ChatAction) error

	// DownloadFile retrieves an uploaded file referenced by a FileID
	// into a local temporary path. cleanup removes the temporary file
	// and must be called once the caller is done with it.
	DownloadFile(ctx context.Context, fileID string) (localPath string, cleanup func(), err error)

	// Updates returns the channel of incoming updates. Closed when the
	// transport shuts down.
	Updates() <-chan Update
}
