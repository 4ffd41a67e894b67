// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentchannel

import "github.com/zeebo/blake3"

// ContentHash is a content-addressed fingerprint of a rendered chat
// body. The Watcher and the Orchestrator both compute this over the
// text they are about to forward to chat; if it matches the most
// recently sent hash for the session, the text is assumed to be an
// echo of a turn the Orchestrator itself already rendered rather than
// new third-party output, and is dropped. Byte-offset tracking alone
// cannot make this distinction when a turn's last record and the
// Watcher's tail race to the same boundary.
type ContentHash [32]byte

// HashText computes the ContentHash of a chat body.
func HashText(text string) ContentHash {
	return ContentHash(blake3.Sum256([]byte(text)))
}

// RecordSent stores hash as the most recently sent content hash for
// this channel, for later comparison via WasRecentlySent.
func (c *Channel) RecordSent(hash ContentHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTextSum = hash
	c.hasLastSum = true
}

// WasRecentlySent reports whether hash matches the most recently
// recorded sent-content hash.
func (c *Channel) WasRecentlySent(hash ContentHash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasLastSum && c.lastTextSum == hash
}
