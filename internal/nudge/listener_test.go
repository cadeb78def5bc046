package nudge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/trigger"
	"github.com/coderaid/partysync/internal/ws"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListenerRepublishesNudges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(nil, zap.NewNop())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	bus := trigger.New(zap.NewNop())
	sub := bus.Subscribe("p1")
	defer sub.Close()

	l := New(wsURL(srv), "u1", bus, zap.NewNop())
	l.Join("p1")

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitFor(t, func() bool { return len(hub.GetActiveGroups()) == 1 })
	hub.Nudge("p1", 9)

	select {
	case sig := <-sub.C():
		if sig.PartyID != "p1" || sig.EventID != 9 {
			t.Errorf("unexpected signal: %+v", sig)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("nudge never reached the bus")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerJoinAfterConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(nil, zap.NewNop())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	l := New(wsURL(srv), "u1", trigger.New(zap.NewNop()), zap.NewNop())
	go l.Run(ctx)

	waitFor(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.conn != nil
	})
	l.Join("p2")
	waitFor(t, func() bool { return len(hub.GetActiveGroups()) == 1 })

	l.Leave("p2")
	waitFor(t, func() bool { return len(hub.GetActiveGroups()) == 0 })
}

func TestListenerReconnectsAndRejoins(t *testing.T) {
	var (
		mu    sync.Mutex
		joins []string
		conns int
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		conns++
		mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := ws.ParseMessage(data)
		if err == nil && msg.Type == ws.TypeJoinGroup {
			mu.Lock()
			joins = append(joins, msg.Group)
			mu.Unlock()
		}
		// drop the connection to force a reconnect
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(wsURL(srv), "u1", trigger.New(zap.NewNop()), zap.NewNop())
	l.minDelay = 10 * time.Millisecond
	l.maxDelay = 20 * time.Millisecond
	l.Join("p1")
	go l.Run(ctx)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conns >= 3 && len(joins) >= 3
	})

	mu.Lock()
	defer mu.Unlock()
	for _, g := range joins {
		if g != "p1" {
			t.Errorf("unexpected join for %q", g)
		}
	}
}

func TestListenerRetriesFailedDial(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	l := New("ws://127.0.0.1:1/party/ws", "u1", trigger.New(zap.NewNop()), zap.NewNop())
	l.minDelay = 5 * time.Millisecond
	l.maxDelay = 10 * time.Millisecond

	if err := l.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
