// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package convstore

import (
	"os"
	"time"

	"github.com/bureau-foundation/remotecode/lib/codec"
)

// indexCache is the on-disk shape of the recent-session index cache: a
// snapshot of ListProjects/ListSessions results tagged with the store
// root's modification time at the moment the snapshot was taken.
// LoadCachedIndex does not compare that time against the current root,
// so a snapshot is returned as saved even if the store has changed
// since.
type indexCache struct {
	RootModTime time.Time     `cbor:"root_mod_time"`
	Projects    []Project     `cbor:"projects"`
	Sessions    [][]SessionFile `cbor:"sessions"`
}

// LoadCachedIndex reads a previously saved index cache from path. A
// missing or unreadable file returns ok=false rather than an error —
// callers should fall back to a full walk.
func LoadCachedIndex(path string) (projects []Project, sessions [][]SessionFile, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, false
	}
	var cache indexCache
	if err := codec.Unmarshal(data, &cache); err != nil {
		return nil, nil, false
	}
	return cache.Projects, cache.Sessions, true
}

// SaveCachedIndex writes projects and their sessions to path as CBOR,
// tagged with rootModTime. The tag is stored only; LoadCachedIndex
// neither checks nor returns it.
func SaveCachedIndex(path string, rootModTime time.Time, projects []Project, sessions [][]SessionFile) error {
	cache := indexCache{RootModTime: rootModTime, Projects: projects, Sessions: sessions}
	data, err := codec.Marshal(cache)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// RootModTime returns the store root directory's modification time, or
// the zero time if it doesn't exist yet.
func (s *Store) RootModTime() time.Time {
	info, err := os.Stat(s.root)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
