package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmaksimv/roomcast-server/internal/proto"
)

var errStoreDown = errors.New("store down")

// frame is the decoded superset of every outbound envelope.
type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Username  string          `json:"username"`
	Timestamp int64           `json:"timestamp"`
}

// mustFrame waits for the next frame of the given type, skipping frames
// of other types.
func mustFrame(t *testing.T, s *Session, kind string) frame {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-s.Outbound():
			var f frame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			if f.Type == kind {
				return f
			}
		case <-deadline:
			t.Fatalf("expected frame %q not received", kind)
		}
	}
}

// nextFrame waits for the next frame of any type.
func nextFrame(t *testing.T, s *Session) frame {
	t.Helper()

	select {
	case raw := <-s.Outbound():
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("expected a frame, got none")
		return frame{}
	}
}

// quietFor fails if the session receives any frame within d.
func quietFor(t *testing.T, s *Session, d time.Duration) {
	t.Helper()

	select {
	case raw := <-s.Outbound():
		t.Fatalf("expected no frame, got %s", raw)
	case <-time.After(d):
	}
}

// drain discards the session's frames until it closes.
func drain(s *Session) {
	go func() {
		for {
			select {
			case <-s.Outbound():
			case <-s.Done():
				return
			}
		}
	}()
}

func decodeHistory(t *testing.T, f frame) []proto.Message {
	t.Helper()

	var msgs []proto.Message
	if err := json.Unmarshal(f.Data, &msgs); err != nil {
		t.Fatalf("decode history data: %v", err)
	}
	return msgs
}

func decodeMessage(t *testing.T, f frame) proto.Message {
	t.Helper()

	var msg proto.Message
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatalf("decode message data: %v", err)
	}
	return msg
}

func messageFrame(t *testing.T, content string) []byte {
	t.Helper()

	raw, err := json.Marshal(proto.Inbound{Type: proto.TypeMessage, Content: content})
	if err != nil {
		t.Fatalf("marshal inbound: %v", err)
	}
	return raw
}

func startTestRoom(t *testing.T, st *memStore) *Room {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var room *Room
	if st == nil {
		room = NewRoom("test-room", nil, nil)
	} else {
		room = NewRoom("test-room", st, nil)
	}
	go room.run(ctx)
	return room
}

// memStore is an in-memory HistoryStore with switchable failure modes.
type memStore struct {
	mu      sync.Mutex
	logs    map[string][]proto.Message
	failGet bool
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{logs: make(map[string][]proto.Message)}
}

func (m *memStore) Get(ctx context.Context, roomID string) ([]proto.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errStoreDown
	}
	msgs := m.logs[roomID]
	out := make([]proto.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *memStore) Put(ctx context.Context, roomID string, messages []proto.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errStoreDown
	}
	out := make([]proto.Message, len(messages))
	copy(out, messages)
	m.logs[roomID] = out
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) setFailPut(fail bool) {
	m.mu.Lock()
	m.failPut = fail
	m.mu.Unlock()
}
