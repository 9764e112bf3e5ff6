package proto

// Message is a chat message as it travels on the wire and as it sits in
// the durable history log. Timestamp is milliseconds since the epoch.
type Message struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Envelope types shared by both directions of the connection.
const (
	TypeMessage = "message"
	TypeHistory = "history"
	TypeJoin    = "join"
	TypeLeave   = "leave"
)

// Inbound is the envelope for frames coming from the client.
// {type:"message", content:"..."} sends a chat message;
// {type:"history"} re-requests the history snapshot.
type Inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// MessageOutbound wraps one chat message broadcast to the room.
type MessageOutbound struct {
	Type string  `json:"type"`
	Data Message `json:"data"`
}

// HistoryOutbound delivers the bounded history snapshot to one session.
type HistoryOutbound struct {
	Type string    `json:"type"`
	Data []Message `json:"data"`
}

// PresenceOutbound announces a join or leave to the room.
type PresenceOutbound struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}
