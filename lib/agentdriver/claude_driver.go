// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/bureau-foundation/remotecode/internal/permissionmcp"
)

// ClaudeDriver implements Driver by spawning Claude Code with stream-json
// output. It is the only Driver implementation this module ships — the
// Driver interface exists so a future Agent runtime can be added without
// touching the Agent Channel above it.
type ClaudeDriver struct{}

// claudeProcess wraps an exec.Cmd to implement Process.
type claudeProcess struct {
	command       *exec.Cmd
	stdin         io.WriteCloser
	mcpConfigPath string
}

func (p *claudeProcess) Wait() error {
	err := p.command.Wait()
	if p.mcpConfigPath != "" {
		os.Remove(p.mcpConfigPath)
	}
	return err
}
func (p *claudeProcess) Stdin() io.Writer      { return p.stdin }
func (p *claudeProcess) Signal(sig os.Signal) error {
	if p.command.Process == nil {
		return fmt.Errorf("agentdriver: process not started")
	}
	return p.command.Process.Signal(sig)
}

// Start spawns Claude Code. When config.SessionID names a session whose
// record file already exists, Start passes --resume instead of treating
// Prompt as a fresh conversation seed, so the Agent Channel can recreate
// a channel against an existing session (invariant I5 in the
// orchestrator design: a stale channel is recreated, never a fresh
// session).
func (d *ClaudeDriver) Start(ctx context.Context, config DriverConfig) (Process, io.ReadCloser, error) {
	binaryPath := os.Getenv("CLAUDE_BINARY")
	if binaryPath == "" {
		binaryPath = "claude"
	}

	arguments := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}
	if config.SystemPromptFile != "" {
		arguments = append(arguments, "--append-system-prompt-file", config.SystemPromptFile)
	}
	if config.SessionID != "" {
		arguments = append(arguments, "--resume", config.SessionID)
	}

	var mcpConfigPath string
	if config.PermissionSocketPath != "" {
		path, err := writePermissionMCPConfig(config.PermissionSocketPath, config.SessionID)
		if err != nil {
			return nil, nil, fmt.Errorf("agentdriver: configuring permission gate: %w", err)
		}
		mcpConfigPath = path
		arguments = append(arguments,
			"--permission-prompt-tool", permissionmcp.ToolName,
			"--mcp-config", mcpConfigPath,
		)
	}
	arguments = append(arguments, config.Prompt)

	command := exec.CommandContext(ctx, binaryPath, arguments...)
	command.Dir = config.WorkingDirectory
	command.Stderr = os.Stderr
	command.Env = append(os.Environ(), config.ExtraEnv...)

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("agentdriver: creating stdin pipe: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("agentdriver: creating stdout pipe: %w", err)
	}
	if err := command.Start(); err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("agentdriver: starting claude: %w", err)
	}

	return &claudeProcess{command: command, stdin: stdin, mcpConfigPath: mcpConfigPath}, stdout, nil
}

// writePermissionMCPConfig writes a temporary --mcp-config file naming
// this daemon binary itself, re-exec'd in its hidden
// "mcp-permission-server" mode, as the MCP server Claude Code should
// spawn and talk to for permission prompts. The subprocess it spawns
// dials socketPath to reach the live Permission Arbiter, correlating
// requests back to sessionID.
func writePermissionMCPConfig(socketPath, sessionID string) (string, error) {
	selfPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating daemon binary: %w", err)
	}

	config := map[string]any{
		"mcpServers": map[string]any{
			permissionmcp.ServerName: map[string]any{
				"command": selfPath,
				"args":    []string{"--mcp-permission-server", socketPath, "--session", sessionID},
			},
		},
	}
	encoded, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encoding mcp config: %w", err)
	}

	file, err := os.CreateTemp("", "remotecode-mcp-*.json")
	if err != nil {
		return "", fmt.Errorf("creating mcp config file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(encoded); err != nil {
		return "", fmt.Errorf("writing mcp config file: %w", err)
	}
	return file.Name(), nil
}

// ParseOutput reads Claude Code's stream-json stdout line by line and
// emits structured events:
//
//	{"type":"system","subtype":"init",...}     -> EventTypeSystem
//	{"type":"assistant","subtype":"text",...}   -> EventTypeResponse
//	{"type":"assistant","subtype":"tool_use"...} -> EventTypeToolCall
//	{"type":"tool","subtype":"result",...}      -> EventTypeToolResult
//	{"type":"result",...}                       -> EventTypeMetric
//	unrecognized                                -> EventTypeOutput (raw preserved)
func (d *ClaudeDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- Event) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// taskToolCallIDs tracks tool_use IDs for the Task tool seen so far
	// this turn, so the matching tool_result can be reported as
	// EventTypeTaskNotification instead of an ordinary tool result —
	// Claude Code's stream-json result lines carry only the tool_use_id,
	// not the tool name, so the correlation has to live here.
	taskToolCallIDs := make(map[string]bool)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := parseStreamJSONLine(line, taskToolCallIDs)
		if err != nil {
			events <- Event{
				Timestamp: time.Now(),
				Type:      EventTypeOutput,
				Output:    &OutputEvent{Raw: json.RawMessage(append([]byte(nil), line...))},
			}
			continue
		}
		events <- event
	}

	return scanner.Err()
}

// Interrupt sends SIGINT, which Claude Code treats as a request to
// finish the current tool call and exit.
func (d *ClaudeDriver) Interrupt(process Process) error {
	return process.Signal(syscall.SIGINT)
}

type streamJSONEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

func parseStreamJSONLine(line []byte, taskToolCallIDs map[string]bool) (Event, error) {
	var envelope streamJSONEvent
	if err := json.Unmarshal(line, &envelope); err != nil {
		return Event{}, fmt.Errorf("agentdriver: parsing stream-json envelope: %w", err)
	}

	now := time.Now()
	switch envelope.Type {
	case "system":
		return Event{
			Timestamp: now,
			Type:      EventTypeSystem,
			System: &SystemEvent{
				Subtype:  envelope.Subtype,
				Message:  extractStringField(line, "message"),
				Metadata: json.RawMessage(append([]byte(nil), line...)),
			},
		}, nil
	case "assistant":
		return parseAssistantEvent(now, envelope.Subtype, line, taskToolCallIDs)
	case "tool":
		return parseToolEvent(now, envelope.Subtype, line, taskToolCallIDs)
	case "result":
		return parseResultEvent(now, line)
	default:
		return Event{
			Timestamp: now,
			Type:      EventTypeOutput,
			Output:    &OutputEvent{Raw: json.RawMessage(append([]byte(nil), line...))},
		}, nil
	}
}

// taskToolName is the name Claude Code uses for its built-in sub-agent
// launcher tool.
const taskToolName = "Task"

func parseAssistantEvent(timestamp time.Time, subtype string, line []byte, taskToolCallIDs map[string]bool) (Event, error) {
	switch subtype {
	case "text":
		return Event{
			Timestamp: timestamp,
			Type:      EventTypeResponse,
			Response:  &ResponseEvent{Content: extractStringField(line, "text")},
		}, nil
	case "tool_use":
		var toolUse struct {
			ID    string          `json:"tool_use_id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}
		json.Unmarshal(line, &toolUse)

		if toolUse.Name == taskToolName {
			taskToolCallIDs[toolUse.ID] = true
			var taskInput struct {
				Description string `json:"description"`
				Prompt      string `json:"prompt"`
			}
			json.Unmarshal(toolUse.Input, &taskInput)
			return Event{
				Timestamp: timestamp,
				Type:      EventTypeTaskStarted,
				TaskStarted: &TaskStartedEvent{
					ToolCallID:  toolUse.ID,
					Description: taskInput.Description,
					Prompt:      taskInput.Prompt,
				},
			}, nil
		}

		return Event{
			Timestamp: timestamp,
			Type:      EventTypeToolCall,
			ToolCall: &ToolCallEvent{
				ID:    toolUse.ID,
				Name:  toolUse.Name,
				Input: toolUse.Input,
			},
		}, nil
	default:
		return Event{
			Timestamp: timestamp,
			Type:      EventTypeOutput,
			Output:    &OutputEvent{Raw: json.RawMessage(append([]byte(nil), line...))},
		}, nil
	}
}

func parseToolEvent(timestamp time.Time, subtype string, line []byte, taskToolCallIDs map[string]bool) (Event, error) {
	switch subtype {
	case "result":
		var toolResult struct {
			ToolUseID string `json:"tool_use_id"`
			IsError   bool   `json:"is_error"`
			Content   string `json:"content"`
		}
		json.Unmarshal(line, &toolResult)

		if taskToolCallIDs[toolResult.ToolUseID] {
			delete(taskToolCallIDs, toolResult.ToolUseID)
			return Event{
				Timestamp: timestamp,
				Type:      EventTypeTaskNotification,
				TaskNotification: &TaskNotificationEvent{
					ToolCallID: toolResult.ToolUseID,
					IsError:    toolResult.IsError,
					Output:     toolResult.Content,
				},
			}, nil
		}

		return Event{
			Timestamp: timestamp,
			Type:      EventTypeToolResult,
			ToolResult: &ToolResultEvent{
				ID:      toolResult.ToolUseID,
				IsError: toolResult.IsError,
				Output:  toolResult.Content,
			},
		}, nil
	default:
		return Event{
			Timestamp: timestamp,
			Type:      EventTypeOutput,
			Output:    &OutputEvent{Raw: json.RawMessage(append([]byte(nil), line...))},
		}, nil
	}
}

func parseResultEvent(timestamp time.Time, line []byte) (Event, error) {
	var result struct {
		CostUSD          float64 `json:"cost_usd"`
		InputTokens      int64   `json:"input_tokens"`
		OutputTokens     int64   `json:"output_tokens"`
		CacheReadTokens  int64   `json:"cache_read_input_tokens"`
		CacheWriteTokens int64   `json:"cache_creation_input_tokens"`
		DurationSeconds  float64 `json:"duration_seconds"`
		DurationMS       float64 `json:"duration_ms"`
		TurnCount        int64   `json:"num_turns"`
		Subtype          string  `json:"subtype"`
	}
	json.Unmarshal(line, &result)

	durationSeconds := result.DurationSeconds
	if durationSeconds == 0 && result.DurationMS > 0 {
		durationSeconds = result.DurationMS / 1000.0
	}

	return Event{
		Timestamp: timestamp,
		Type:      EventTypeMetric,
		Metric: &MetricEvent{
			InputTokens:      result.InputTokens,
			OutputTokens:     result.OutputTokens,
			CacheReadTokens:  result.CacheReadTokens,
			CacheWriteTokens: result.CacheWriteTokens,
			CostUSD:          result.CostUSD,
			DurationSeconds:  durationSeconds,
			TurnCount:        result.TurnCount,
			Status:           result.Subtype,
		},
	}, nil
}

func extractStringField(data []byte, field string) string {
	var parsed map[string]json.RawMessage
	if json.Unmarshal(data, &parsed) != nil {
		return ""
	}
	raw, ok := parsed[field]
	if !ok {
		return ""
	}
	var value string
	if json.Unmarshal(raw, &value) != nil {
		return ""
	}
	return value
}
