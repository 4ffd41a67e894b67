// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentchannel

import "os"

// killSignal returns the signal used to force-terminate a Channel's
// process once the graceful-interrupt grace period has elapsed.
func killSignal() os.Signal { return os.Kill }
