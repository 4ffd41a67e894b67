// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import "testing"

func TestParseStreamJSONLineSystemInit(t *testing.T) {
	line := []byte(`{"type":"system","subtype":"init","message":"starting up"}`)
	event, err := parseStreamJSONLine(line, make(map[string]bool))
	if err != nil {
		t.Fatalf("parseStreamJSONLine: %v", err)
	}
	if event.Type != EventTypeSystem || event.System == nil || event.System.Subtype != "init" {
		t.Errorf("got %+v", event)
	}
	if event.System.Message != "starting up" {
		t.Errorf("got message %q", event.System.Message)
	}
}

func TestParseStreamJSONLineAssistantText(t *testing.T) {
	line := []byte(`{"type":"assistant","subtype":"text","text":"hello there"}`)
	event, err := parseStreamJSONLine(line, make(map[string]bool))
	if err != nil {
		t.Fatalf("parseStreamJSONLine: %v", err)
	}
	if event.Type != EventTypeResponse || event.Response.Content != "hello there" {
		t.Errorf("got %+v", event)
	}
}

func TestParseStreamJSONLineToolUse(t *testing.T) {
	line := []byte(`{"type":"assistant","subtype":"tool_use","tool_use_id":"tu1","name":"Bash","input":{"command":"ls"}}`)
	event, err := parseStreamJSONLine(line, make(map[string]bool))
	if err != nil {
		t.Fatalf("parseStreamJSONLine: %v", err)
	}
	if event.Type != EventTypeToolCall || event.ToolCall.Name != "Bash" || event.ToolCall.ID != "tu1" {
		t.Errorf("got %+v", event)
	}
}

func TestParseStreamJSONLineToolResult(t *testing.T) {
	line := []byte(`{"type":"tool","subtype":"result","tool_use_id":"tu1","is_error":true,"content":"boom"}`)
	event, err := parseStreamJSONLine(line, make(map[string]bool))
	if err != nil {
		t.Fatalf("parseStreamJSONLine: %v", err)
	}
	if event.Type != EventTypeToolResult || !event.ToolResult.IsError || event.ToolResult.Output != "boom" {
		t.Errorf("got %+v", event)
	}
}

func TestParseStreamJSONLineTaskToolCorrelatesStartAndNotification(t *testing.T) {
	taskToolCallIDs := make(map[string]bool)

	startLine := []byte(`{"type":"assistant","subtype":"tool_use","tool_use_id":"tu9","name":"Task","input":{"description":"investigate","prompt":"look into the flaky test"}}`)
	startEvent, err := parseStreamJSONLine(startLine, taskToolCallIDs)
	if err != nil {
		t.Fatalf("parseStreamJSONLine: %v", err)
	}
	if startEvent.Type != EventTypeTaskStarted || startEvent.TaskStarted == nil {
		t.Fatalf("got %+v", startEvent)
	}
	if startEvent.TaskStarted.Description != "investigate" || startEvent.TaskStarted.ToolCallID != "tu9" {
		t.Errorf("got %+v", startEvent.TaskStarted)
	}

	resultLine := []byte(`{"type":"tool","subtype":"result","tool_use_id":"tu9","content":"done"}`)
	resultEvent, err := parseStreamJSONLine(resultLine, taskToolCallIDs)
	if err != nil {
		t.Fatalf("parseStreamJSONLine: %v", err)
	}
	if resultEvent.Type != EventTypeTaskNotification || resultEvent.TaskNotification == nil {
		t.Fatalf("got %+v", resultEvent)
	}
	if resultEvent.TaskNotification.Output != "done" {
		t.Errorf("got %+v", resultEvent.TaskNotification)
	}
	if len(taskToolCallIDs) != 0 {
		t.Errorf("expected task tool call id to be consumed, got %v", taskToolCallIDs)
	}
}

func TestParseStreamJSONLineResultMetric(t *testing.T) {
	line := []byte(`{"type":"result","subtype":"success","cost_usd":0.42,"input_tokens":100,"output_tokens":50,"num_turns":3}`)
	event, err := parseStreamJSONLine(line, make(map[string]bool))
	if err != nil {
		t.Fatalf("parseStreamJSONLine: %v", err)
	}
	if event.Type != EventTypeMetric || event.Metric.CostUSD != 0.42 || event.Metric.TurnCount != 3 {
		t.Errorf("got %+v", event)
	}
	if event.Metric.Status != "success" {
		t.Errorf("got status %q", event.Metric.Status)
	}
}

func TestParseStreamJSONLineUnknownTypeFallsBackToOutput(t *testing.T) {
	line := []byte(`{"type":"mystery","payload":1}`)
	event, err := parseStreamJSONLine(line, make(map[string]bool))
	if err != nil {
		t.Fatalf("parseStreamJSONLine: %v", err)
	}
	if event.Type != EventTypeOutput {
		t.Errorf("got %+v", event)
	}
}

func TestParseStreamJSONLineInvalidJSON(t *testing.T) {
	if _, err := parseStreamJSONLine([]byte(`not json`), make(map[string]bool)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
