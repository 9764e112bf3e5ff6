package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dmaksimv/roomcast-server/internal/core"
	"github.com/dmaksimv/roomcast-server/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to room sessions.
type WSHandler struct {
	hub      *core.Hub
	log      *zerolog.Logger
	msgLimit int
}

// NewWSHandler builds a new WebSocket handler. msgLimit caps inbound
// frames per connection per minute; zero disables limiting.
func NewWSHandler(hub *core.Hub, logger *zerolog.Logger, msgLimit int) *WSHandler {
	return &WSHandler{hub: hub, log: logger, msgLimit: msgLimit}
}

// Handle serves GET /ws/:room?username=...
func (h *WSHandler) Handle(c *gin.Context) {
	roomID := c.Param("room")
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		// Rejected before the upgrade; the only hard client-visible
		// failure in the connect path.
		c.String(stdhttp.StatusBadRequest, "username required")
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	session := core.NewSession(utils.NewID(), username)
	room := h.hub.Room(roomID)
	room.Join(session)
	defer room.Disconnect(session)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, room, session)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("room", roomID).Str("user", username).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, room *core.Room, session *core.Session) error {
	limiter := newRateLimiter(h.msgLimit)
	limiter.startReset(session.Done())

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if !limiter.allow() {
			h.log.Debug().Str("session_id", session.ID).Msg("rate limit exceeded, dropping frame")
			continue
		}
		room.Incoming(session, raw)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for {
		select {
		case frame := <-session.Outbound():
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				h.log.Error().Err(err).Str("session_id", session.ID).Msg("write ws frame")
				return err
			}
		case <-session.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
