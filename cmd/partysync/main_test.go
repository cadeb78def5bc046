package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/coderaid/partysync/internal/party"
	"github.com/coderaid/partysync/internal/views"
)

func sampleEvents() []party.Event {
	return []party.Event{
		{EventID: 1, UserID: party.SystemUserID, Data: party.PartyCreated{OwnerID: "alice"}},
		{EventID: 2, UserID: "alice", Data: party.JoinLeave{UserID: "alice", IsJoin: true}},
		{EventID: 3, UserID: "alice", Data: party.CodesSubmitted{Codes: []string{"1111", "2222"}}},
		{EventID: 4, UserID: "bob", Data: party.ChatMessage{Message: "hello"}},
		{EventID: 5, UserID: "alice", Data: party.SettingChanged{Setting: "private", Value: json.RawMessage(`true`)}},
	}
}

func TestRenderViews(t *testing.T) {
	lists := []views.CodeList{{Name: "Sequential Numbers", Codes: []string{"1111", "2222", "3333", "4444"}}}

	tests := []struct {
		view string
		want []string
	}{
		{viewLog, []string{"#1", "created the party for alice", "tried 1111, 2222"}},
		{viewProgress, []string{"2 / 4", "50.0%", "next", "3333"}},
		{viewLeaderboard, []string{"1.", "alice", "2"}},
		{viewChat, []string{"bob", "hello"}},
		{viewSettings, []string{"private", "true"}},
		{viewOrder, []string{"Sequential Numbers", "forward"}},
		{viewMembers, []string{"owner", "alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.view, func(t *testing.T) {
			var buf bytes.Buffer
			if err := renderView(&buf, tt.view, sampleEvents(), lists); err != nil {
				t.Fatal(err)
			}
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("expected %q in output:\n%s", want, buf.String())
				}
			}
		})
	}
}

func TestRenderUnknownView(t *testing.T) {
	if err := renderView(&bytes.Buffer{}, "nope", nil, nil); err == nil {
		t.Error("expected error for unknown view")
	}
}

func TestWriteJSONLFillsPartyID(t *testing.T) {
	var buf bytes.Buffer
	n, err := writeJSONL(&buf, "p1", sampleEvents()[:2])
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 lines written, got %d", n)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var e party.Event
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatal(err)
	}
	if e.PartyID != "p1" || e.EventID != 2 {
		t.Errorf("unexpected decoded event: %+v", e)
	}
}

func TestDescribeUnknown(t *testing.T) {
	got := describe(party.UnknownData{Kind: "party_poll_created"})
	if got != "(party_poll_created)" {
		t.Errorf("unexpected description %q", got)
	}
}
