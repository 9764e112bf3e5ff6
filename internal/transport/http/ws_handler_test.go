package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/dmaksimv/roomcast-server/internal/config"
	"github.com/dmaksimv/roomcast-server/internal/core"
	"github.com/dmaksimv/roomcast-server/internal/proto"
	"github.com/dmaksimv/roomcast-server/internal/store/sqlite"
)

type outboundFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Username  string          `json:"username"`
	Timestamp int64           `json:"timestamp"`
}

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return startTestServerWithLimit(t, 0)
}

func startTestServerWithLimit(t *testing.T, msgLimit int) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	hub := core.NewHub(st, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
		MessageRateLimit:  msgLimit,
	}, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

func dialRoom(t *testing.T, ts *httptest.Server, ctx context.Context, room, username string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/" + room + "?username=" + username
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s as %s: %v", room, username, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) outboundFrame {
	t.Helper()

	var f outboundFrame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestMissingUsernameRejectedBeforeUpgrade(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/ws/general")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp, err = ts.Client().Get(ts.URL + "/ws/general?username=%20%20")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 for blank username, got %d", resp.StatusCode)
	}
}

func TestChatFlow(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dialRoom(t, ts, ctx, "general", "alice")

	// Alice's snapshot arrives first and is empty.
	snap := readFrame(t, ctx, alice)
	if snap.Type != proto.TypeHistory {
		t.Fatalf("expected history first, got %q", snap.Type)
	}
	var history []proto.Message
	if err := json.Unmarshal(snap.Data, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(history))
	}

	bob := dialRoom(t, ts, ctx, "general", "bob")
	if f := readFrame(t, ctx, bob); f.Type != proto.TypeHistory {
		t.Fatalf("expected history for bob, got %q", f.Type)
	}

	// Alice sees Bob join; Bob does not see his own join.
	join := readFrame(t, ctx, alice)
	if join.Type != proto.TypeJoin || join.Username != "bob" {
		t.Fatalf("unexpected join frame: %+v", join)
	}

	if err := wsjson.Write(ctx, alice, proto.Inbound{Type: proto.TypeMessage, Content: "hi there"}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		f := readFrame(t, ctx, conn)
		if f.Type != proto.TypeMessage {
			t.Fatalf("%s: expected message frame, got %q", name, f.Type)
		}
		var msg proto.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			t.Fatalf("%s: decode message: %v", name, err)
		}
		if msg.Username != "alice" || msg.Content != "hi there" {
			t.Fatalf("%s: unexpected message: %+v", name, msg)
		}
	}
}

func TestHistoryEndpointReturnsPersistedLog(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dialRoom(t, ts, ctx, "general", "alice")
	readFrame(t, ctx, alice) // snapshot

	if err := wsjson.Write(ctx, alice, proto.Inbound{Type: proto.TypeMessage, Content: "persisted"}); err != nil {
		t.Fatalf("send message: %v", err)
	}
	// Persistence happens before the broadcast, so once the echo is back
	// the REST endpoint must see the message.
	readFrame(t, ctx, alice)

	resp, err := ts.Client().Get(ts.URL + "/api/rooms/general/messages")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	var msgs []proto.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		t.Fatalf("decode body %q: %v", body, err)
	}
	if len(msgs) != 1 || msgs[0].Content != "persisted" || msgs[0].Username != "alice" {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestHistoryEndpointEmptyRoom(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/rooms/ghost/messages")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("expected empty array, got %q", body)
	}
}

func TestRateLimitedFramesDroppedWithoutClosing(t *testing.T) {
	ts := startTestServerWithLimit(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dialRoom(t, ts, ctx, "general", "alice")
	readFrame(t, ctx, alice) // snapshot

	for i := 1; i <= 5; i++ {
		if err := wsjson.Write(ctx, alice, proto.Inbound{Type: proto.TypeMessage, Content: fmt.Sprintf("msg-%d", i)}); err != nil {
			t.Fatalf("send message %d: %v", i, err)
		}
	}

	// Only the first two frames made it past the limiter.
	for i := 1; i <= 2; i++ {
		f := readFrame(t, ctx, alice)
		if f.Type != proto.TypeMessage {
			t.Fatalf("expected message frame, got %q", f.Type)
		}
		var msg proto.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Content != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("expected msg-%d, got %q", i, msg.Content)
		}
	}

	// Bob's snapshot shows exactly the two messages that got through.
	bob := dialRoom(t, ts, ctx, "general", "bob")
	snap := readFrame(t, ctx, bob)
	var msgs []proto.Message
	if err := json.Unmarshal(snap.Data, &msgs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(msgs))
	}

	// Alice's connection is still open: she sees Bob join and his
	// message, with none of her dropped frames in between.
	if f := readFrame(t, ctx, alice); f.Type != proto.TypeJoin || f.Username != "bob" {
		t.Fatalf("unexpected frame after drop: %+v", f)
	}

	if err := wsjson.Write(ctx, bob, proto.Inbound{Type: proto.TypeMessage, Content: "after"}); err != nil {
		t.Fatalf("bob send: %v", err)
	}

	f := readFrame(t, ctx, alice)
	if f.Type != proto.TypeMessage {
		t.Fatalf("expected message frame, got %q", f.Type)
	}
	var msg proto.Message
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Username != "bob" || msg.Content != "after" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestHistoryRequestOverSocket(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dialRoom(t, ts, ctx, "general", "alice")
	readFrame(t, ctx, alice) // initial snapshot

	if err := wsjson.Write(ctx, alice, proto.Inbound{Type: proto.TypeMessage, Content: "hello"}); err != nil {
		t.Fatalf("send message: %v", err)
	}
	readFrame(t, ctx, alice) // broadcast echo

	if err := wsjson.Write(ctx, alice, proto.Inbound{Type: proto.TypeHistory}); err != nil {
		t.Fatalf("request history: %v", err)
	}

	f := readFrame(t, ctx, alice)
	if f.Type != proto.TypeHistory {
		t.Fatalf("expected history frame, got %q", f.Type)
	}
	var msgs []proto.Message
	if err := json.Unmarshal(f.Data, &msgs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("unexpected snapshot: %+v", msgs)
	}
}
