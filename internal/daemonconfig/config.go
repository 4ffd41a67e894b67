// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemonconfig loads the daemon's own KEY=VALUE config file
// (<home>/config) and the chat bot token it references, keeping the
// token in locked, zero-on-close memory for as long as the daemon holds
// it.
package daemonconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/remotecode/lib/secret"
)

// Config is the daemon's static configuration, loaded once at startup.
type Config struct {
	// BotToken is kept in a locked, zeroed-on-close buffer since it
	// authenticates as the chat bot to the (out of scope) transport.
	BotToken *secret.Buffer
}

// Close releases the token buffer. Safe to call on a zero Config.
func (c *Config) Close() error {
	if c == nil || c.BotToken == nil {
		return nil
	}
	return c.BotToken.Close()
}

// Load reads <home>/config, a # comment / KEY=VALUE file with a single
// recognized key, BOT_TOKEN_FILE, naming a path to read the token
// secret from (itself via secret.ReadFromPath, so the token never
// touches an unlocked Go string longer than necessary).
func Load(home string) (*Config, error) {
	path := filepath.Join(home, "config")
	values, err := readKeyValueFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, err
	}

	tokenFile := values["BOT_TOKEN_FILE"]
	if tokenFile == "" {
		return &Config{}, nil
	}

	token, err := secret.ReadFromPath(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("daemonconfig: reading bot token from %q: %w", tokenFile, err)
	}
	return &Config{BotToken: token}, nil
}

func readKeyValueFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("daemonconfig: %s:%d: expected KEY=VALUE, got %q", path, lineNumber, line)
		}
		values[strings.TrimSpace(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("daemonconfig: reading %q: %w", path, err)
	}
	return values, nil
}
