package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dmaksimv/roomcast-server/internal/store"
)

// Hub resolves a room id to its single live Room actor.
type Hub struct {
	store store.HistoryStore
	log   *zerolog.Logger

	// Every room actor runs under baseCtx, cancelled by Run on
	// shutdown; rooms created before Run starts get the same lifetime.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub creates a hub. A nil store disables persistence.
func NewHub(st store.HistoryStore, logger *zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:   st,
		log:     logger,
		baseCtx: ctx,
		cancel:  cancel,
		rooms:   make(map[string]*Room),
	}
}

// Run blocks until ctx is cancelled, then stops all room actors.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.cancel()
}

// Room returns the live actor for id, creating and starting it on first
// use. At most one actor ever runs per id.
func (h *Hub) Room(id string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[id]; ok {
		return room
	}

	room := NewRoom(id, h.store, h.log)
	h.rooms[id] = room
	go room.run(h.baseCtx)
	return room
}
