package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/party"
)

func TestListEvents_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer test-token" {
			t.Errorf("expected Bearer test-token, got %s", auth)
		}

		expectedPath := "/party/p1/events"
		if r.URL.Path != expectedPath {
			t.Errorf("expected path %s, got %s", expectedPath, r.URL.Path)
		}
		if got := r.URL.Query().Get("cursor"); got != "10" {
			t.Errorf("expected cursor 10, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"event_id": 12, "user_id": "u2", "data": {"type": "user_chat_message", "message": "second"}},
			{"event_id": 11, "user_id": "u1", "data": {"type": "user_codes_submitted", "user_id": "u1", "codes": ["1234"]}}
		]`)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "test-token", 0, 5*time.Second, logger)

	events, err := client.ListEvents(context.Background(), "p1", party.Cursor(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventID != 11 || events[1].EventID != 12 {
		t.Errorf("expected events sorted ascending, got %d, %d", events[0].EventID, events[1].EventID)
	}
	codes, ok := events[0].Data.(party.CodesSubmitted)
	if !ok || len(codes.Codes) != 1 || codes.Codes[0] != "1234" {
		t.Errorf("unexpected payload: %#v", events[0].Data)
	}
}

func TestListEvents_NoCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("cursor") {
			t.Error("initial request must not carry a cursor")
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0, 5*time.Second, zap.NewNop())
	events, err := client.ListEvents(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestListEvents_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      error
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited, true},
		{"not found", http.StatusNotFound, ErrNotFound, false},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, ErrUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(server.URL, "t", 0, 5*time.Second, zap.NewNop())
			_, err := client.ListEvents(context.Background(), "p1", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("expected transient=%v for %v", tt.transient, err)
			}
		})
	}
}

func TestListEvents_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "t", 0, 5*time.Second, zap.NewNop())
	_, err := client.ListEvents(context.Background(), "p1", nil)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusBadGateway || se.Body != "boom" {
		t.Errorf("unexpected status error: %+v", se)
	}
	if !IsTransient(err) {
		t.Error("5xx must be transient")
	}
}

func TestListEvents_BadRequestNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, "t", 0, 5*time.Second, zap.NewNop())
	_, err := client.ListEvents(context.Background(), "p1", nil)
	if err == nil || IsTransient(err) {
		t.Errorf("expected non-transient error, got %v", err)
	}
}

func TestListEvents_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client := NewClient(addr, "t", 0, time.Second, zap.NewNop())
	_, err := client.ListEvents(context.Background(), "p1", nil)
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	if !IsTransient(err) {
		t.Errorf("connection failures must be transient, got %v", err)
	}
}

func TestSubmitEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get(IdempotencyHeader); got != "key-1" {
			t.Errorf("expected idempotency key, got %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body["type"] != party.TypeChatMessage || body["message"] != "hello" {
			t.Errorf("unexpected body: %v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"event_id": 7, "party_id": "p1", "user_id": "u1", "data": {"type": "user_chat_message", "message": "hello"}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "t", 0, 5*time.Second, zap.NewNop())
	event, err := client.SubmitEvent(context.Background(), "p1", party.ChatMessage{Message: "hello"}, "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.EventID != 7 || event.Type() != party.TypeChatMessage {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestClientRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, "t", 0, 5*time.Second, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ListEvents(ctx, "p1", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
