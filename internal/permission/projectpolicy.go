// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"os"
	"path/filepath"
	"time"
)

// cachedFile remembers a parsed policy file's rules alongside the
// mtime they were parsed at, so a session's project rules are only
// re-read when the file actually changes: cache by mtime, reload only
// on change.
type cachedFile struct {
	modTime time.Time
	rules   []Rule
}

// projectFileNames are checked in order within a working directory;
// settings.local.json (gitignored, developer-specific) takes
// precedence over settings.json (checked in).
var projectFileNames = []string{"settings.json", "settings.local.json"}

// ProjectRules returns the merged rule Index for a working directory's
// `.remotecode/settings.json` and `.remotecode/settings.local.json`
// files, layered on top of the Arbiter's global static rules. Missing
// files are simply absent from the merge; a parse error is logged by
// the caller's choice, not here — ProjectRules degrades to "no project
// rules" on any read/parse failure so one malformed project file can't
// take down permission evaluation for every session.
func (a *Arbiter) ProjectRules(workingDir string) Index {
	if workingDir == "" {
		return a.staticRules
	}

	merged := a.staticRules
	for _, name := range projectFileNames {
		path := filepath.Join(workingDir, ".remotecode", name)
		rules := a.cachedProjectFile(path)
		merged = Merge(merged, NewIndex(rules))
	}
	return merged
}

func (a *Arbiter) cachedProjectFile(path string) []Rule {
	info, statErr := os.Stat(path)

	a.mu.Lock()
	cached, ok := a.projectFiles[path]
	a.mu.Unlock()

	if statErr != nil {
		return nil
	}
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.rules
	}

	rules, err := ParsePolicyFile(path)
	if err != nil {
		return nil
	}

	a.mu.Lock()
	a.projectFiles[path] = cachedFile{modTime: info.ModTime(), rules: rules}
	a.mu.Unlock()
	return rules
}
