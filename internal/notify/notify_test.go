package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/config"
	"github.com/coderaid/partysync/internal/prefetch"
)

func TestSendSuccess(t *testing.T) {
	var gotPath, gotTitle, gotTags, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	client := NewClient(config.NotifyConfig{
		Enabled:  true,
		Server:   srv.URL + "/",
		Topic:    "parties",
		Priority: "default",
		Tags:     "tada",
		Token:    "tk",
	}, zap.NewNop())

	result := &prefetch.BatchResult{Total: 3, Synced: 2, Empty: 1, Events: 42}
	if err := client.SendSuccess(context.Background(), result, 90*time.Second); err != nil {
		t.Fatal(err)
	}

	if gotPath != "/parties" {
		t.Errorf("expected /parties, got %s", gotPath)
	}
	if gotTitle != "Sync Complete: 3 parties" {
		t.Errorf("unexpected title %q", gotTitle)
	}
	if gotTags != "tada,white_check_mark" {
		t.Errorf("unexpected tags %q", gotTags)
	}
	if gotAuth != "Bearer tk" {
		t.Errorf("unexpected auth %q", gotAuth)
	}
	if !strings.Contains(gotBody, "Events: 42") || !strings.Contains(gotBody, "Duration: 1m30s") {
		t.Errorf("unexpected body:\n%s", gotBody)
	}
}

func TestSendFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Priority") != "high" {
			t.Errorf("expected high priority for failures, got %q", r.Header.Get("Priority"))
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(config.NotifyConfig{Server: srv.URL, Topic: "t", Priority: "low"}, zap.NewNop())
	err := client.SendFailure(context.Background(), &prefetch.BatchResult{Total: 1, Failed: 1}, time.Second, errors.New("boom"))
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestFormatFailureMessageListsErrors(t *testing.T) {
	result := &prefetch.BatchResult{
		Total:  5,
		Failed: 5,
		Errors: []string{"a", "b", "c", "d", "e"},
	}
	msg := FormatFailureMessage(result, time.Second, errors.New("batch failed"))

	for _, want := range []string{"Failed: 5", "Error: batch failed", "- a", "- c", "... and 2 more errors"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in message:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "- d") {
		t.Errorf("expected only three errors listed:\n%s", msg)
	}
}

func TestNewDisabledIsNoop(t *testing.T) {
	n := New(config.NotifyConfig{}, zap.NewNop())
	if _, ok := n.(NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", n)
	}
	if err := n.SendSuccess(context.Background(), &prefetch.BatchResult{}, 0); err != nil {
		t.Error(err)
	}
}
