package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHub(t *testing.T, authorize func(string) bool) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(authorize, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitForGroup(t *testing.T, hub *Hub, group string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, g := range hub.GetActiveGroups() {
			if g == group {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("group %s never became active", group)
}

func TestJoinAndNudge(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn := dial(t, srv, "u1")

	connected := read(t, conn)
	if connected.Type != TypeSystem || connected.Event != EventConnected || connected.UserID != "u1" {
		t.Fatalf("unexpected connected message: %+v", connected)
	}

	if err := conn.WriteMessage(websocket.TextMessage, JoinGroupMessage("p1", 7)); err != nil {
		t.Fatal(err)
	}
	ack := read(t, conn)
	if ack.Type != TypeAck || ack.AckID == nil || *ack.AckID != 7 || ack.Success == nil || !*ack.Success {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	waitForGroup(t, hub, "p1")

	hub.Nudge("p2", 1) // not joined
	hub.Nudge("p1", 42)

	msg := read(t, conn)
	if msg.Type != TypeMessage || msg.Data == nil {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Data.PartyID != "p1" || msg.Data.EventID != 42 {
		t.Errorf("unexpected nudge: %+v", msg.Data)
	}
}

func TestPing(t *testing.T) {
	_, srv := startHub(t, nil)
	conn := dial(t, srv, "u1")
	read(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, PingMessage()); err != nil {
		t.Fatal(err)
	}
	if msg := read(t, conn); msg.Type != TypePong {
		t.Errorf("expected pong, got %+v", msg)
	}
}

func TestJoinWithoutGroupIsRejected(t *testing.T) {
	_, srv := startHub(t, nil)
	conn := dial(t, srv, "u1")
	read(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, JoinGroupMessage("", 1)); err != nil {
		t.Fatal(err)
	}
	ack := read(t, conn)
	if ack.Success == nil || *ack.Success {
		t.Errorf("expected failed ack, got %+v", ack)
	}
}

func TestServeWSRequiresToken(t *testing.T) {
	_, srv := startHub(t, func(token string) bool { return token == "good" })
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	for _, url := range []string{base, base + "?access_token=bad"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("expected dial to %s to fail", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401 for %s, got %v", url, resp)
		}
	}
}

func TestLeaveGroup(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn := dial(t, srv, "u1")
	read(t, conn)

	conn.WriteMessage(websocket.TextMessage, JoinGroupMessage("p1", 1))
	read(t, conn)
	waitForGroup(t, hub, "p1")

	conn.WriteMessage(websocket.TextMessage, LeaveGroupMessage("p1"))
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.GetActiveGroups()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("group still active after leave")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
