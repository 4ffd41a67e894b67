// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package permissionmcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
)

// Decide is how a Gate resolves one live tool-call request into an
// allow/deny answer — wired by main to a closure that calls the
// Permission Arbiter with the session's registered chat and working
// directory.
type Decide func(ctx context.Context, req GateRequest) (GateResponse, error)

// Gate listens on a Unix domain socket for GateRequests from
// permissionmcp Serve subprocesses (one per live Agent turn that has a
// PermissionSocketPath configured) and answers each with Decide.
type Gate struct {
	listener net.Listener
	decide   Decide
	log      *slog.Logger
}

// Listen creates (or replaces) the Unix socket at path and returns a
// Gate ready to Run. A stale socket file left behind by a daemon that
// crashed without cleanup is removed first.
func Listen(path string, decide Decide, log *slog.Logger) (*Gate, error) {
	if log == nil {
		log = slog.Default()
	}
	_ = os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Gate{listener: listener, decide: decide, log: log}, nil
}

// Addr returns the socket path the Gate is listening on.
func (g *Gate) Addr() string { return g.listener.Addr().String() }

// Run accepts connections until ctx is cancelled or Close is called.
func (g *Gate) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		g.listener.Close()
	}()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return err
		}
		go g.handle(ctx, conn)
	}
}

// Close stops accepting new connections and removes the socket file.
func (g *Gate) Close() error {
	path := g.Addr()
	err := g.listener.Close()
	_ = os.Remove(path)
	return err
}

func (g *Gate) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req GateRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		g.log.Warn("permission gate: decoding request", "error", err)
		return
	}

	resp, err := g.decide(ctx, req)
	if err != nil {
		g.log.Error("permission gate: deciding", "session", req.SessionID, "tool", req.ToolName, "error", err)
		resp = GateResponse{Allow: false, Message: "decision failed: " + err.Error()}
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		g.log.Warn("permission gate: writing response", "error", err)
	}
}
