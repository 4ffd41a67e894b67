// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// policyFileShape mirrors the Agent's own settings.json
// permissions.allow/deny list convention: each entry is either a bare
// tool name ("Bash") or "ToolName(prefix*)".
type policyFileShape struct {
	Permissions struct {
		Allow []string `json:"allow"`
		Deny  []string `json:"deny"`
	} `json:"permissions"`
}

// ParsePolicyFile reads a global or project settings.json and returns
// its rules in file order (allow entries first, then deny, matching the
// Agent's own settings.json layout). Returns the file's os.IsNotExist
// error unchanged so callers can treat a missing file as "no rules".
func ParsePolicyFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var shape policyFileShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("permission: parsing %q: %w", path, err)
	}

	var rules []Rule
	for _, entry := range shape.Permissions.Allow {
		rules = append(rules, parseRuleEntry(entry, true))
	}
	for _, entry := range shape.Permissions.Deny {
		rules = append(rules, parseRuleEntry(entry, false))
	}
	return rules, nil
}

// parseRuleEntry parses "ToolName" or "ToolName(prefix*)" into a Rule.
func parseRuleEntry(entry string, allow bool) Rule {
	name, rest, found := strings.Cut(entry, "(")
	if !found {
		return Rule{ToolName: name, Allow: allow}
	}
	prefix := strings.TrimSuffix(strings.TrimSuffix(rest, ")"), "*")
	return Rule{ToolName: name, Prefix: prefix, Allow: allow}
}
