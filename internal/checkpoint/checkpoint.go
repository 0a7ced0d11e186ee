// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package checkpoint atomically persists the event scheduler's tick
// watermark to disk: fsync before rename prevents a half-written
// checkpoint from being read after a crash.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/renameio/v2"
)

// Status is the watermark written after every scheduler tick.
type Status struct {
	TickAt       time.Time `json:"tick_at"`
	EventsClaimed int      `json:"events_claimed"`
	EventsSkipped int      `json:"events_skipped"`
}

// Write atomically replaces the file at path with status, encoded as
// JSON. A crash mid-write leaves the previous checkpoint intact.
func Write(path string, status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("checkpoint: create pending file: %w", err)
	}
	defer pendingFile.Cleanup()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("checkpoint: write: %w", err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("checkpoint: atomically replace: %w", err)
	}

	return nil
}
