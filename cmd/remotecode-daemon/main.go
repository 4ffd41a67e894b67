// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command remotecode-daemon is the long-running process that owns the
// session orchestrator: it holds one Agent Channel per active session,
// arbitrates tool-call permissions, tails the active session's
// conversation record file for third-party writes, and periodically
// scans every project for sessions waiting on a decision elsewhere.
//
// It never implements a chat wire protocol itself — main wires in
// whatever chat.Transport the build links against. This binary ships
// only chat.MemoryTransport for local development; a production
// Telegram (or other) transport is a separate package outside this
// module's scope.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/remotecode/internal/chat"
	"github.com/bureau-foundation/remotecode/internal/convstore"
	"github.com/bureau-foundation/remotecode/internal/daemonconfig"
	"github.com/bureau-foundation/remotecode/internal/orchestrator"
	"github.com/bureau-foundation/remotecode/internal/permission"
	"github.com/bureau-foundation/remotecode/internal/permissionmcp"
	"github.com/bureau-foundation/remotecode/internal/scanner"
	"github.com/bureau-foundation/remotecode/internal/sessionid"
	"github.com/bureau-foundation/remotecode/lib/agentdriver"
	"github.com/bureau-foundation/remotecode/lib/clock"
)

// mcpPermissionServerFlag is a hidden re-exec mode: the daemon binary
// spawns itself under this flag as the MCP server Claude Code's CLI
// talks to for --permission-prompt-tool (see internal/permissionmcp and
// writePermissionMCPConfig in lib/agentdriver). It never reaches the
// long-running daemon code path below.
const mcpPermissionServerFlag = "--mcp-permission-server"

func main() {
	if len(os.Args) > 1 && os.Args[1] == mcpPermissionServerFlag {
		if err := runPermissionMCPServer(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "remotecode-daemon: permission mcp server:", err)
			os.Exit(1)
		}
		return
	}

	home := pflag.String("home", defaultHome(), "remotecode home directory (registry, logs, static policy files)")
	foreground := pflag.Bool("foreground", false, "log to stderr instead of the daemon log file")
	pflag.Parse()

	log := newLogger(*home, *foreground)

	if err := run(*home, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// runPermissionMCPServer parses the re-exec argv
// ("<socketPath> --session <id>") and runs the stdio MCP server on this
// process's own stdin/stdout until Claude Code closes the pipe.
func runPermissionMCPServer(args []string) error {
	flags := pflag.NewFlagSet("mcp-permission-server", pflag.ContinueOnError)
	session := flags.String("session", "", "session id this permission server answers on behalf of")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return fmt.Errorf("usage: %s <socket-path> --session <id>", mcpPermissionServerFlag)
	}
	return permissionmcp.Serve(os.Stdin, os.Stdout, flags.Arg(0), *session)
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".remotecode"
	}
	return filepath.Join(home, ".remotecode")
}

func newLogger(home string, foreground bool) *slog.Logger {
	if foreground {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	if err := os.MkdirAll(home, 0o700); err == nil {
		logPath := filepath.Join(home, "remotecode.log")
		_ = daemonconfig.RotateIfNeeded(logPath)
		if file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
			return slog.New(slog.NewJSONHandler(file, nil))
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

func run(home string, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := daemonconfig.Load(home)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	defer cfg.Close()

	staticRules, err := loadStaticPolicy(home)
	if err != nil {
		return fmt.Errorf("loading static policy: %w", err)
	}

	clk := clock.Real()
	arbiter := permission.New(staticRules, clk)

	transport := chat.NewMemoryTransport(64)
	driver := &agentdriver.ClaudeDriver{}
	store := convstore.Open(filepath.Join(filepath.Dir(home), ".claude", "projects"))
	orch := orchestrator.New(transport, arbiter, driver, store, home, log)

	if err := os.MkdirAll(home, 0o700); err != nil {
		return fmt.Errorf("creating home directory: %w", err)
	}
	gate, err := permissionmcp.Listen(filepath.Join(home, "permission.sock"), orch.DecideLive, log)
	if err != nil {
		return fmt.Errorf("listening on permission gate socket: %w", err)
	}
	defer gate.Close()
	orch.SetPermissionSocketPath(gate.Addr())

	scan := scanner.New(store, clk, orch.IsSessionActive, func(found []scanner.PendingSession) {
		for _, p := range found {
			id, err := sessionid.Parse(p.Session.SessionID)
			if err != nil {
				log.Warn("pending permission with unparseable session id", "session", p.Session.SessionID, "error", err)
				continue
			}
			orch.HandlePendingPermission(ctx, id, p.ToolName, "")
		}
	})

	errCh := make(chan error, 3)
	go func() { errCh <- orch.Run(ctx) }()
	go func() { errCh <- scan.Run(ctx) }()
	go func() { errCh <- gate.Run(ctx) }()

	log.Info("remotecode daemon started", "home", home)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err == context.Canceled {
			return nil
		}
		return err
	}
}

// loadStaticPolicy parses the global policy file at
// <home>/settings.json if present. An absent file is not an error — it
// means every tool call falls through to an interactive dialog.
func loadStaticPolicy(home string) (permission.Index, error) {
	path := filepath.Join(home, "settings.json")
	rules, err := permission.ParsePolicyFile(path)
	if os.IsNotExist(err) {
		return permission.NewIndex(nil), nil
	}
	if err != nil {
		return permission.Index{}, err
	}
	return permission.NewIndex(rules), nil
}
