package core

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dmaksimv/roomcast-server/internal/proto"
	"github.com/dmaksimv/roomcast-server/internal/store"
)

// HistoryLimit is the maximum number of messages kept in a room's
// durable log.
const HistoryLimit = 100

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdIncoming
	cmdDisconnect
	cmdHistory
	cmdSessions
)

type command struct {
	kind    commandKind
	session *Session
	raw     []byte
	history chan historyReply
	count   chan int
}

type historyReply struct {
	messages []proto.Message
	err      error
}

// Room is the single coordinating actor for one chat room. All registry
// and history mutations happen on its run goroutine, which processes
// commands strictly in arrival order; that single-writer rule is what
// makes the whole-log read/append/trim/write persistence safe.
type Room struct {
	id       string
	store    store.HistoryStore
	log      zerolog.Logger
	sessions map[*Session]struct{}
	commands chan command
	done     chan struct{}
}

// NewRoom constructs a room with an empty registry. A nil store disables
// persistence; a nil logger disables logging.
func NewRoom(id string, st store.HistoryStore, logger *zerolog.Logger) *Room {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("room", id).Logger()
	}
	return &Room{
		id:       id,
		store:    st,
		log:      l,
		sessions: make(map[*Session]struct{}),
		commands: make(chan command, 64),
		done:     make(chan struct{}),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Join registers the session, sends it the history snapshot, then
// announces the join to every other session.
func (r *Room) Join(s *Session) {
	r.enqueue(command{kind: cmdJoin, session: s})
}

// Incoming hands a raw frame from the session's connection to the actor.
// Malformed or unrecognized frames are dropped.
func (r *Room) Incoming(s *Session, raw []byte) {
	r.enqueue(command{kind: cmdIncoming, session: s, raw: raw})
}

// Disconnect removes the session and announces the leave. Calling it for
// a session that is already gone is a no-op.
func (r *Room) Disconnect(s *Session) {
	r.enqueue(command{kind: cmdDisconnect, session: s})
}

// History returns the room's bounded log. The read is served by the
// actor goroutine so it observes a consistent point in the command
// order.
func (r *Room) History(ctx context.Context) ([]proto.Message, error) {
	reply := make(chan historyReply, 1)
	select {
	case r.commands <- command{kind: cmdHistory, history: reply}:
	case <-r.done:
		return nil, ErrRoomClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.messages, res.err
	case <-r.done:
		return nil, ErrRoomClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SessionCount reports the current registry size.
func (r *Room) SessionCount(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case r.commands <- command{kind: cmdSessions, count: reply}:
	case <-r.done:
		return 0, ErrRoomClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-reply:
		return n, nil
	case <-r.done:
		return 0, ErrRoomClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Room) enqueue(cmd command) {
	select {
	case r.commands <- cmd:
	case <-r.done:
	}
}

// run processes commands until ctx is cancelled. The hub starts exactly
// one run goroutine per room id.
func (r *Room) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			for s := range r.sessions {
				delete(r.sessions, s)
				s.Close()
			}
			return
		case cmd := <-r.commands:
			switch cmd.kind {
			case cmdJoin:
				r.handleJoin(ctx, cmd.session)
			case cmdIncoming:
				r.handleIncoming(ctx, cmd.session, cmd.raw)
			case cmdDisconnect:
				r.handleDisconnect(cmd.session)
			case cmdHistory:
				cmd.history <- r.readHistory(ctx)
			case cmdSessions:
				cmd.count <- len(r.sessions)
			}
		}
	}
}

func (r *Room) handleJoin(ctx context.Context, s *Session) {
	r.sessions[s] = struct{}{}
	s.activate()

	frame, err := json.Marshal(proto.HistoryOutbound{Type: proto.TypeHistory, Data: r.loadHistory(ctx)})
	if err != nil {
		r.log.Error().Err(err).Msg("encode history snapshot")
	} else {
		r.deliver(s, frame)
	}

	r.announce(proto.TypeJoin, s.Username, s)
	r.log.Debug().Str("user", s.Username).Int("sessions", len(r.sessions)).Msg("session joined")
}

func (r *Room) handleIncoming(ctx context.Context, s *Session, raw []byte) {
	if _, ok := r.sessions[s]; !ok {
		return
	}

	var in proto.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		r.log.Debug().Err(err).Str("user", s.Username).Msg("dropping malformed frame")
		return
	}

	switch in.Type {
	case proto.TypeMessage:
		r.handleMessage(ctx, s, in.Content)
	case proto.TypeHistory:
		frame, err := json.Marshal(proto.HistoryOutbound{Type: proto.TypeHistory, Data: r.loadHistory(ctx)})
		if err != nil {
			r.log.Error().Err(err).Msg("encode history snapshot")
			return
		}
		r.deliver(s, frame)
	default:
		r.log.Debug().Str("type", in.Type).Str("user", s.Username).Msg("dropping unknown frame type")
	}
}

func (r *Room) handleMessage(ctx context.Context, s *Session, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	msg := proto.Message{
		ID:        uuid.NewString(),
		Username:  s.Username,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}

	// Persist before broadcast. A persistence failure is logged and the
	// broadcast proceeds, trading durability of this message for
	// availability.
	r.persist(ctx, msg)

	frame, err := json.Marshal(proto.MessageOutbound{Type: proto.TypeMessage, Data: msg})
	if err != nil {
		r.log.Error().Err(err).Msg("encode message")
		return
	}
	// Chat messages go to every session, sender included.
	r.broadcast(frame, nil)
}

func (r *Room) handleDisconnect(s *Session) {
	if _, ok := r.sessions[s]; !ok {
		s.Close()
		return
	}
	delete(r.sessions, s)
	s.Close()

	r.announce(proto.TypeLeave, s.Username, nil)
	r.log.Debug().Str("user", s.Username).Int("sessions", len(r.sessions)).Msg("session left")
}

// persist appends msg to the durable log, trims to the newest
// HistoryLimit entries, and writes the whole log back as one overwrite.
func (r *Room) persist(ctx context.Context, msg proto.Message) {
	if r.store == nil {
		return
	}

	msgs, err := r.store.Get(ctx, r.id)
	if err != nil {
		// Skip the write rather than clobber the stored log with a
		// partial view.
		r.log.Warn().Err(err).Msg("history read failed, message not persisted")
		return
	}

	msgs = append(msgs, msg)
	if len(msgs) > HistoryLimit {
		msgs = msgs[len(msgs)-HistoryLimit:]
	}

	if err := r.store.Put(ctx, r.id, msgs); err != nil {
		r.log.Warn().Err(err).Msg("history write failed, message not persisted")
	}
}

// loadHistory reads the log for a snapshot, degrading to an empty
// snapshot on store failure.
func (r *Room) loadHistory(ctx context.Context) []proto.Message {
	if r.store == nil {
		return []proto.Message{}
	}
	msgs, err := r.store.Get(ctx, r.id)
	if err != nil {
		r.log.Warn().Err(err).Msg("history read failed, sending empty snapshot")
		return []proto.Message{}
	}
	if msgs == nil {
		msgs = []proto.Message{}
	}
	return msgs
}

// readHistory serves the REST history query; unlike snapshots it
// surfaces store errors to the caller.
func (r *Room) readHistory(ctx context.Context) historyReply {
	if r.store == nil {
		return historyReply{messages: []proto.Message{}}
	}
	msgs, err := r.store.Get(ctx, r.id)
	if msgs == nil {
		msgs = []proto.Message{}
	}
	return historyReply{messages: msgs, err: err}
}

// announce broadcasts a join or leave event, excluding the acting
// session for joins.
func (r *Room) announce(kind, username string, exclude *Session) {
	frame, err := json.Marshal(proto.PresenceOutbound{
		Type:      kind,
		Username:  username,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		r.log.Error().Err(err).Str("kind", kind).Msg("encode presence event")
		return
	}
	r.broadcast(frame, exclude)
}

// broadcast delivers one pre-serialized frame to every live session
// except exclude. Per-session delivery is independent; a session that
// cannot accept the frame is evicted from the registry and closed, with
// no leave announcement.
func (r *Room) broadcast(frame []byte, exclude *Session) {
	var failed []*Session
	for s := range r.sessions {
		if s == exclude {
			continue
		}
		if !s.trySend(frame) {
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		delete(r.sessions, s)
		s.Close()
		r.log.Debug().Str("user", s.Username).Msg("evicted undeliverable session")
	}
}

// deliver sends a frame to a single session, evicting it on failure.
func (r *Room) deliver(s *Session, frame []byte) {
	if !s.trySend(frame) {
		delete(r.sessions, s)
		s.Close()
		r.log.Debug().Str("user", s.Username).Msg("evicted undeliverable session")
	}
}
