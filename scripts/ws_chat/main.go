// Command ws_chat is a terminal chat client for a roomcast server.
// Lines typed on stdin are sent as messages; "/history" re-requests the
// snapshot. It reconnects automatically when the server goes away.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dmaksimv/roomcast-server/internal/client"
	"github.com/dmaksimv/roomcast-server/internal/proto"
)

func main() {
	if err := run(); err != nil && err != context.Canceled {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080", "server base URL")
	user := flag.String("user", "cli-user", "display name")
	room := flag.String("room", "general", "room to join")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*addr, *room, *user, nil)
	c.OnEvent = printEvent
	c.OnDisconnect = func(err error) {
		fmt.Println("* disconnected, retrying...")
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(ctx)
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var err error
			if line == "/history" {
				err = c.RequestHistory(ctx)
			} else {
				err = c.Send(ctx, line)
			}
			if err == client.ErrNotConnected {
				fmt.Println("* not connected, message discarded")
			} else if err != nil {
				fmt.Printf("* send failed: %v\n", err)
			}
		}
		stop()
	}()

	return <-runErr
}

func printEvent(raw []byte) {
	var envelope struct {
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Username  string          `json:"username"`
		Timestamp int64           `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		fmt.Printf("* unreadable frame: %v\n", err)
		return
	}

	switch envelope.Type {
	case proto.TypeMessage:
		var msg proto.Message
		if err := json.Unmarshal(envelope.Data, &msg); err != nil {
			return
		}
		fmt.Printf("<%s> %s\n", msg.Username, msg.Content)
	case proto.TypeHistory:
		var msgs []proto.Message
		if err := json.Unmarshal(envelope.Data, &msgs); err != nil {
			return
		}
		fmt.Printf("* history (%d messages)\n", len(msgs))
		for _, msg := range msgs {
			fmt.Printf("  <%s> %s\n", msg.Username, msg.Content)
		}
	case proto.TypeJoin:
		fmt.Printf("* %s joined\n", envelope.Username)
	case proto.TypeLeave:
		fmt.Printf("* %s left\n", envelope.Username)
	default:
		fmt.Printf("* %s\n", string(raw))
	}
}
