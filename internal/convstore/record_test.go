// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package convstore

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMessageUnmarshalStringContent(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	want := Message{Role: "user", Content: []ContentBlock{{Type: BlockText, Text: "hello"}}}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("Message mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageUnmarshalBlockContent(t *testing.T) {
	raw := `{"role":"assistant","content":[
		{"type":"text","text":"working on it"},
		{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}}
	]}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	want := Message{
		Role: "assistant",
		Content: []ContentBlock{
			{Type: BlockText, Text: "working on it"},
			{Type: BlockToolUse, ToolUseID: "tu_1", Name: "Bash", Input: json.RawMessage(`{"command":"ls"}`)},
		},
	}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("Message mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordPendingToolUsesMatchesAssistantBlocks(t *testing.T) {
	record := Record{
		Type: RecordAssistant,
		Message: &Message{
			Role: "assistant",
			Content: []ContentBlock{
				{Type: BlockText, Text: "let me check"},
				{Type: BlockToolUse, ToolUseID: "tu_1", Name: "Read"},
			},
		},
	}

	want := []ContentBlock{{Type: BlockToolUse, ToolUseID: "tu_1", Name: "Read"}}
	if diff := cmp.Diff(want, record.PendingToolUses()); diff != "" {
		t.Errorf("PendingToolUses mismatch (-want +got):\n%s", diff)
	}
}
