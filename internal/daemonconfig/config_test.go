// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemonconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingConfigReturnsEmpty(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotToken != nil {
		t.Error("expected nil token for a home directory with no config file")
	}
}

func TestLoadReadsBotToken(t *testing.T) {
	home := t.TempDir()
	tokenPath := filepath.Join(home, "token")
	if err := os.WriteFile(tokenPath, []byte("secret-token-value\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	configPath := filepath.Join(home, "config")
	if err := os.WriteFile(configPath, []byte("BOT_TOKEN_FILE="+tokenPath+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer cfg.Close()

	if cfg.BotToken == nil {
		t.Fatal("expected a token buffer")
	}
	if cfg.BotToken.String() != "secret-token-value" {
		t.Errorf("got %q", cfg.BotToken.String())
	}
}
