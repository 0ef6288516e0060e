// Package db holds the snapshot store implementations. Every store reads and
// writes the whole state at once and a write is visible completely or not at all.
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// SnapshotStore is the whole-state persistence contract
type SnapshotStore interface {
	ReadAll(ctx context.Context) (models.Snapshot, error)
	WriteAll(ctx context.Context, s models.Snapshot) error
}

func encodeSnapshot(s models.Snapshot) ([]byte, error) {
	if s.Users == nil {
		s.Users = map[string]models.User{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// decodeSnapshot treats an empty payload as an empty state
func decodeSnapshot(b []byte) (models.Snapshot, error) {
	if len(b) == 0 {
		return models.NewSnapshot(), nil
	}
	var s models.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Users == nil {
		s.Users = map[string]models.User{}
	}
	return s, nil
}
