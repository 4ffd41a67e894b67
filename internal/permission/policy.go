// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package permission implements the Permission Arbiter: the cascade of
// checks that decides whether a tool call the Agent wants to run may
// proceed without asking, must be denied outright, or needs an
// interactive chat dialog. The cascade order, cheapest and most
// specific first, is:
//
//  1. Sticky deny-all flag (a /cancel or busy-dialog-interrupt pending)
//  2. Suppression (session pushed to the background by a switch — auto-allow)
//  3. AskUserQuestion (always answered via dialog, never auto-resolved)
//  4. Session yolo mode (session-scoped blanket allow)
//  5. Per-session allow-list (tool accumulated "allow always" answers)
//  6. Static policy files (global and project-level allow/deny rules)
//  7. Interactive dialog (fall-through — ask the user)
//
// This is a cascaded authorization evaluator: a pure function returning
// a Decision plus a match trace for auditing, built around tool-name
// patterns instead of principal/action/resource triples. The cascade's
// session-state steps (suppression, yolo, deny-all) live in arbiter.go;
// this file holds the pure, stateless tool-name/argument rule matching.
package permission

import (
	"fmt"
	"strings"
)

// Decision is the outcome of evaluating the cascade up to (and
// including) static policy files. DecisionAsk means no earlier step
// resolved the call — an interactive dialog is required.
type Decision int

const (
	DecisionAsk Decision = iota
	DecisionAllow
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "ask"
	}
}

// Reason records which cascade step produced a Decision, for the audit
// log line the Orchestrator writes alongside every tool call.
type Reason string

const (
	// ReasonDenied marks the sticky deny-all flag a /cancel or a
	// busy-with-open-dialog interrupt sets on a session.
	ReasonDenied          Reason = "denied"
	ReasonSuppressed      Reason = "suppressed"
	ReasonAskUserQuestion Reason = "ask_user_question"
	ReasonYolo            Reason = "session_yolo"
	ReasonAllowList       Reason = "allow_list"
	ReasonStaticAllow     Reason = "static_allow"
	ReasonStaticDeny      Reason = "static_deny"
	ReasonDialog          Reason = "dialog"
)

// Result is the outcome of one cascade evaluation.
type Result struct {
	Decision Decision
	Reason   Reason
	// MatchedRule is the rule text that produced the decision, empty for
	// cascade steps that aren't rule-based (suppression, yolo, dialog).
	MatchedRule string
}

// Rule is one line of a static policy file: a tool-name pattern plus
// whether it allows or denies matching calls. "Bash" matches the exact
// tool name; a policy-file entry "Bash(git*)" is parsed into ToolName
// "Bash" and Prefix "git", matching calls whose argument starts with
// that prefix.
type Rule struct {
	ToolName string
	Prefix   string // "" means match any input
	Allow    bool
}

// Index is a parsed, ready-to-query set of static rules, built
// separately for the global policy file and each project's policy
// files, then merged with project rules taking precedence.
type Index struct {
	rules []Rule
}

// NewIndex builds an Index from rules in file order. Later rules in the
// same Index take precedence over earlier ones with the same ToolName,
// following a last-matching-rule-wins cascade discipline.
func NewIndex(rules []Rule) Index {
	return Index{rules: rules}
}

// Merge returns an Index combining base and override, with override's
// rules evaluated after (and therefore able to supersede) base's. Used
// to layer project rules on top of global rules.
func Merge(base, override Index) Index {
	merged := make([]Rule, 0, len(base.rules)+len(override.rules))
	merged = append(merged, base.rules...)
	merged = append(merged, override.rules...)
	return Index{rules: merged}
}

// Evaluate checks a tool call's name and argument summary against the
// Index's rules, last match wins. Returns DecisionAsk with ReasonDialog
// if nothing matches.
func (idx Index) Evaluate(toolName, argSummary string) Result {
	result := Result{Decision: DecisionAsk, Reason: ReasonDialog}
	for _, rule := range idx.rules {
		if !ruleMatches(rule, toolName, argSummary) {
			continue
		}
		if rule.Allow {
			result = Result{Decision: DecisionAllow, Reason: ReasonStaticAllow, MatchedRule: ruleText(rule)}
		} else {
			result = Result{Decision: DecisionDeny, Reason: ReasonStaticDeny, MatchedRule: ruleText(rule)}
		}
	}
	return result
}

func ruleMatches(rule Rule, toolName, argSummary string) bool {
	if rule.ToolName != toolName {
		return false
	}
	if rule.Prefix == "" {
		return true
	}
	return strings.HasPrefix(argSummary, rule.Prefix)
}

func ruleText(rule Rule) string {
	verb := "allow"
	if !rule.Allow {
		verb = "deny"
	}
	if rule.Prefix == "" {
		return fmt.Sprintf("%s %s", verb, rule.ToolName)
	}
	return fmt.Sprintf("%s %s(%s*)", verb, rule.ToolName, rule.Prefix)
}
