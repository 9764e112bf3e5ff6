package store

import (
	"context"

	"github.com/dmaksimv/roomcast-server/internal/proto"
)

// HistoryStore persists the bounded message log, one record per room.
// Put is a wholesale overwrite of the stored sequence, never an
// incremental append; that is only safe because each room has exactly
// one writer (its room actor).
type HistoryStore interface {
	// Get returns the stored message sequence for a room in arrival
	// order, or an empty sequence if nothing was recorded.
	Get(ctx context.Context, roomID string) ([]proto.Message, error)

	// Put replaces the stored sequence for a room.
	Put(ctx context.Context, roomID string, messages []proto.Message) error

	// Close closes the underlying database connection.
	Close() error
}
