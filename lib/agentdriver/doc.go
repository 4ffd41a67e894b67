// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentdriver is the low-level boundary between the session
// orchestrator and the Agent's subprocess: spawning it, parsing its
// stream-json output into structured events, and requesting a graceful
// interrupt. It knows nothing about chat or session-switch policy — it
// only runs one process and turns its stdout into an Event channel. The
// one exception is live permission gating: DriverConfig's
// PermissionSocketPath, when set, wires the Agent's tool calls through
// internal/permissionmcp's stdio MCP mechanism rather than leaving them
// ungated until a record file is read after the fact.
//
//   - Driver: the interface a concrete Agent runtime implements
//     (currently Claude Code, via ClaudeDriver in this package).
//
//   - Event: the structured event stream emitted by ParseOutput —
//     tool calls, tool results, responses, metrics, system events, and
//     sub-agent task lifecycle, all with a common timestamp/type
//     envelope.
//
//   - SessionLogWriter: an optional JSONL mirror of the Event stream,
//     used by the Agent Channel to keep a local audit trail independent
//     of the Agent's own conversation record file.
//
// internal/agentchannel builds session lifecycle (turn serialization,
// resume, staleness) on top of this package's process-level primitives.
package agentdriver
