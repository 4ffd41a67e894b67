// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package permissionmcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// Serve runs the stdio MCP server Claude Code's CLI spawns per
// --mcp-config: it reads newline-delimited JSON-RPC requests from in,
// answers "initialize" and "tools/list" locally, and forwards every
// "tools/call" for ToolName to the daemon over the Unix socket at
// socketPath, session-correlated by sessionID. Blocks until in returns
// EOF (the CLI closes the pipe when the turn ends and the subprocess is
// torn down).
func Serve(in io.Reader, out io.Writer, socketPath, sessionID string) error {
	reader := bufio.NewReaderSize(in, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if handleErr := handleLine(out, line, socketPath, sessionID); handleErr != nil {
				return handleErr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("permissionmcp: reading request: %w", err)
		}
	}
}

func handleLine(out io.Writer, line []byte, socketPath, sessionID string) error {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return nil // not a JSON-RPC line (e.g. stray whitespace) — ignore
	}

	switch req.Method {
	case "initialize":
		return writeResponse(out, req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": ServerName, "version": "1.0.0"},
		}, nil)
	case "notifications/initialized":
		return nil // no response for a notification
	case "tools/list":
		return writeResponse(out, req.ID, map[string]any{
			"tools": []map[string]any{{
				"name":        ToolName,
				"description": "Approve or deny a tool call via the remotecode chat's Permission Arbiter",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tool_name": map[string]any{"type": "string"},
						"input":     map[string]any{"type": "object"},
					},
					"required": []string{"tool_name", "input"},
				},
			}},
		}, nil)
	case "tools/call":
		return handleToolCall(out, req, socketPath, sessionID)
	default:
		if len(req.ID) == 0 {
			return nil // a notification this server doesn't recognize — ignore
		}
		return writeResponse(out, req.ID, nil, &rpcError{Code: -32601, Message: "method not found: " + req.Method})
	}
}

func handleToolCall(out io.Writer, req rpcRequest, socketPath, sessionID string) error {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name != ToolName {
		return writeResponse(out, req.ID, nil, &rpcError{Code: -32602, Message: "unknown tool"})
	}

	var args approvalArguments
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return writeResponse(out, req.ID, nil, &rpcError{Code: -32602, Message: "invalid arguments: " + err.Error()})
	}

	decision, err := dialGate(socketPath, GateRequest{
		SessionID:  sessionID,
		ToolName:   args.ToolName,
		ArgSummary: summarizeInput(args.Input),
	})
	if err != nil {
		// The daemon is unreachable (crashed, or the socket path is
		// stale) — fail closed rather than letting a tool run
		// unsupervised.
		decision = GateResponse{Allow: false, Message: "permission gate unreachable: " + err.Error()}
	}

	payload := approvalPayload{Behavior: "deny", Message: decision.Message}
	if decision.Allow {
		payload = approvalPayload{Behavior: "allow", UpdatedInput: args.Input}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return writeResponse(out, req.ID, nil, &rpcError{Code: -32603, Message: err.Error()})
	}

	return writeResponse(out, req.ID, toolCallResult{
		Content: []toolResultContent{{Type: "text", Text: string(encoded)}},
	}, nil)
}

// dialGate sends one GateRequest to the daemon's permission socket and
// waits for its GateResponse. Each call is a fresh connection: tool
// calls from one Claude Code turn arrive one at a time in practice, and
// a fresh connection keeps the protocol trivial (one request, one
// response, close).
func dialGate(socketPath string, req GateRequest) (GateResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return GateResponse{}, fmt.Errorf("dialing permission gate: %w", err)
	}
	defer conn.Close()

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return GateResponse{}, fmt.Errorf("sending request: %w", err)
	}

	var resp GateResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&resp); err != nil {
		return GateResponse{}, fmt.Errorf("reading response: %w", err)
	}
	return resp, nil
}

// summarizeInput extracts the argument the Arbiter's static rules
// prefix-match against (a shell command, a file path, a glob) from a
// tool call's raw input, falling back to the compact JSON encoding for
// tools whose input shape isn't one of the common ones.
func summarizeInput(input json.RawMessage) string {
	var fields map[string]json.RawMessage
	if json.Unmarshal(input, &fields) != nil {
		return string(input)
	}
	for _, key := range []string{"command", "file_path", "path", "pattern", "url"} {
		if raw, ok := fields[key]; ok {
			var value string
			if json.Unmarshal(raw, &value) == nil {
				return value
			}
		}
	}
	return string(input)
}

func writeResponse(out io.Writer, id json.RawMessage, result any, rpcErr *rpcError) error {
	if len(id) == 0 && rpcErr == nil {
		return nil // notification, no response expected
	}
	resp := rpcResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("permissionmcp: encoding response: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s\n", encoded)
	return err
}
