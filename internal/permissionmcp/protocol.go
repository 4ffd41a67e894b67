// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package permissionmcp implements the two halves of Claude Code's
// --permission-prompt-tool mechanism: a stdio MCP JSON-RPC server
// (Serve) that the "claude" subprocess itself spawns per the
// --mcp-config it's given, and a Unix-socket Gate the long-running
// remotecode daemon listens on so that server subprocess can consult
// the live Permission Arbiter for a real decision instead of guessing.
//
// Claude Code talks to an MCP server over newline-delimited JSON-RPC
// 2.0 on the server's stdin/stdout. When the CLI is started with
// --permission-prompt-tool naming a tool this server exposes, every
// tool call the Agent wants to make is first routed through a
// "tools/call" request for that tool, with arguments
// {"tool_name", "input"}; the tool's single text content block must be
// a JSON string {"behavior":"allow"|"deny", ...}. This package's Serve
// is the process Claude Code spawns for that; Gate is what it talks to
// to get a real answer, since the MCP server subprocess itself has no
// access to the daemon's in-memory Arbiter state.
package permissionmcp

import "encoding/json"

// ToolName is the MCP tool name this server exposes via --mcp-config,
// and the value passed to --permission-prompt-tool. The
// "mcp__<server>__<tool>" shape matches how Claude Code namespaces
// tools contributed by a configured MCP server.
const ToolName = "mcp__remotecode__approval_prompt"

// ServerName is this MCP server's name within --mcp-config.
const ServerName = "remotecode"

// rpcRequest and rpcResponse are newline-delimited JSON-RPC 2.0
// envelopes, the wire format Claude Code's MCP stdio transport uses.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams is the "params" of a "tools/call" request.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// approvalArguments is the shape of the approval_prompt tool's
// arguments, as Claude Code's CLI calls it.
type approvalArguments struct {
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input"`
}

// approvalPayload is the JSON string Claude Code expects as the tool
// result's single text content block.
type approvalPayload struct {
	Behavior     string          `json:"behavior"` // "allow" or "deny"
	Message      string          `json:"message,omitempty"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
}

// toolResultContent is one block of an MCP tool call result.
type toolResultContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// toolCallResult is the "result" of a successful "tools/call" response.
type toolCallResult struct {
	Content []toolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// GateRequest is what Serve sends over the Unix socket to Gate for a
// live decision: everything the Arbiter's cascade needs, correlated to
// one running session by SessionID.
type GateRequest struct {
	SessionID  string `json:"session_id"`
	ToolName   string `json:"tool_name"`
	ArgSummary string `json:"arg_summary"`
}

// GateResponse is Gate's answer, reduced to the allow/deny/message shape
// Serve needs to build the MCP tool result.
type GateResponse struct {
	Allow   bool   `json:"allow"`
	Message string `json:"message,omitempty"`
}
