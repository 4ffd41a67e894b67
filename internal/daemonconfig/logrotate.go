// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemonconfig

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// MaxLogSize is the size boundary at which RotateIfNeeded compresses
// the current log file to a .gz sibling and truncates it.
const MaxLogSize = 5 * 1024 * 1024

// RotateIfNeeded compresses path to path+".old.gz" and truncates it if
// it has grown past MaxLogSize. Call this before opening the log file
// for appending at daemon startup; the daemon does not rotate mid-run.
func RotateIfNeeded(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("daemonconfig: stat %q: %w", path, err)
	}
	if info.Size() < MaxLogSize {
		return nil
	}

	source, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("daemonconfig: opening %q for rotation: %w", path, err)
	}
	defer source.Close()

	dest, err := os.Create(path + ".old.gz")
	if err != nil {
		return fmt.Errorf("daemonconfig: creating rotated log: %w", err)
	}
	defer dest.Close()

	writer := gzip.NewWriter(dest)
	if _, err := io.Copy(writer, source); err != nil {
		return fmt.Errorf("daemonconfig: compressing rotated log: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("daemonconfig: finalizing rotated log: %w", err)
	}

	return os.Truncate(path, 0)
}
