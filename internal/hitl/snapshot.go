package hitl

import (
	"context"
	"errors"
	"time"
)

// SnapshotVersion guards the persisted layout. A loaded snapshot with a
// different version is discarded rather than misread.
const SnapshotVersion = 1

type Snapshot struct {
	Version  int                 `json:"version"`
	SavedAt  time.Time           `json:"saved_at"`
	Requests []ApprovalRequest   `json:"requests"`
	Settings map[string]Settings `json:"settings"`
}

// ErrNoSnapshot is returned by stores when nothing has been persisted yet.
var ErrNoSnapshot = errors.New("no snapshot")

// SnapshotStore is the persistence port. The ledger writes through on
// every mutation and reads back exactly once, at startup.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}
