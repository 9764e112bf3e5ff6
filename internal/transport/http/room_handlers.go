package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dmaksimv/roomcast-server/internal/core"
)

// RoomHandlers provides HTTP handlers for room endpoints.
type RoomHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub *core.Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		hub: hub,
		log: logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Messages returns the room's current bounded history as a JSON array.
// GET /api/rooms/:room/messages
func (h *RoomHandlers) Messages(c *gin.Context) {
	roomID := c.Param("room")

	msgs, err := h.hub.Room(roomID).History(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Str("room", roomID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, msgs)
}
