// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package convstore is a read-only index and parser for the Agent's
// on-disk conversation record files. The Agent (Claude Code) writes one
// JSONL file per session under a project directory named after the
// working directory it was started in, with each line a self-contained
// record of a user turn, an assistant turn, a tool call, a tool result,
// or a summary.
//
// convstore never writes these files — only the Agent does. It exists
// so the Watcher and Global Scanner can detect turns the Agent produced
// outside of a turn the Orchestrator itself drove (e.g. a developer
// working in the same project from a terminal), and so chat commands
// can resolve a short session-id prefix to a full record file.
package convstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecordType classifies a single line of a conversation record file.
type RecordType string

const (
	RecordUser      RecordType = "user"
	RecordAssistant RecordType = "assistant"
	RecordSummary   RecordType = "summary"
	RecordSystem    RecordType = "system"
)

// ContentBlockType classifies one block within a message's content array.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
	BlockThinking   ContentBlockType = "thinking"
)

// ContentBlock is one element of a Message's Content array. Only the
// fields relevant to its Type are populated.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// Text holds the block body for BlockText and BlockThinking.
	Text string `json:"text,omitempty"`

	// ToolUseID correlates a BlockToolUse with its later BlockToolResult.
	ToolUseID string `json:"id,omitempty"`

	// Name is the tool name, set for BlockToolUse.
	Name string `json:"name,omitempty"`

	// Input is the tool call arguments, preserved raw for BlockToolUse.
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseResultID correlates a BlockToolResult back to its call,
	// using the field name Claude Code's transcript format uses.
	ToolUseResultID string `json:"tool_use_id,omitempty"`

	// IsError marks a BlockToolResult that represents a tool failure.
	IsError bool `json:"is_error,omitempty"`

	// Content holds a BlockToolResult's output. The Agent sometimes
	// emits this as a plain string and sometimes as a nested content
	// array; RawContent preserves whichever shape appeared so callers
	// that need the raw bytes can re-parse it.
	RawContent json.RawMessage `json:"content,omitempty"`
}

// Message is the role/content payload of a user or assistant record.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON accepts both the common case (content is an array of
// blocks) and the simple case (content is a bare string, which the
// Agent emits for a plain-text user turn).
func (m *Message) UnmarshalJSON(data []byte) error {
	var shape struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return err
	}
	m.Role = shape.Role
	if len(shape.Content) == 0 {
		return nil
	}
	if shape.Content[0] == '"' {
		var text string
		if err := json.Unmarshal(shape.Content, &text); err != nil {
			return fmt.Errorf("convstore: decoding string content: %w", err)
		}
		m.Content = []ContentBlock{{Type: BlockText, Text: text}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(shape.Content, &blocks); err != nil {
		return fmt.Errorf("convstore: decoding content blocks: %w", err)
	}
	m.Content = blocks
	return nil
}

// Record is one line of a conversation record file.
type Record struct {
	Type      RecordType `json:"type"`
	UUID      string     `json:"uuid"`
	ParentID  string     `json:"parentUuid,omitempty"`
	SessionID string     `json:"sessionId"`
	CWD       string     `json:"cwd,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Message   *Message   `json:"message,omitempty"`

	// Summary holds the title text for RecordSummary lines, which the
	// Agent writes once a conversation is long enough to need one.
	Summary string `json:"summary,omitempty"`

	// IsSidechain marks a record belonging to a sub-agent task rather
	// than the top-level conversation. The Conversation Store returns
	// sidechain records alongside top-level ones; callers that want
	// only the top-level conversation filter on this field.
	IsSidechain bool `json:"isSidechain,omitempty"`
}

// TextContent concatenates every BlockText block in the record's
// message, or "" if the record has no message or no text blocks.
func (r Record) TextContent() string {
	if r.Message == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range r.Message.Content {
		if block.Type == BlockText {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// PendingToolUses returns every BlockToolUse in the record's message
// that has no matching BlockToolResult within the same record. A
// conversation record file generally pairs tool_use and tool_result in
// separate records, so in practice this reports the tool_use blocks of
// the most recent assistant record when scanning tail-to-head for a
// pending permission prompt (§4.6 of the orchestrator design).
func (r Record) PendingToolUses() []ContentBlock {
	if r.Message == nil {
		return nil
	}
	answered := make(map[string]bool)
	for _, block := range r.Message.Content {
		if block.Type == BlockToolResult {
			answered[block.ToolUseResultID] = true
		}
	}
	var out []ContentBlock
	for _, block := range r.Message.Content {
		if block.Type == BlockToolUse && !answered[block.ToolUseID] {
			out = append(out, block)
		}
	}
	return out
}
