package party

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SystemUserID marks events authored by the server rather than a member.
const SystemUserID = "system"

// Event is a server-assigned record in a party's append-only log.
// Only EventID and UserID matter to synchronization; Data is carried through.
type Event struct {
	EventID   uint64    `json:"event_id"`
	PartyID   string    `json:"party_id,omitempty"`
	UserID    string    `json:"user_id"`
	Data      EventData `json:"-"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type eventWire struct {
	EventID   uint64          `json:"event_id"`
	PartyID   string          `json:"party_id,omitempty"`
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	data, err := MarshalData(e.Data)
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", e.EventID, err)
	}
	return json.Marshal(eventWire{
		EventID:   e.EventID,
		PartyID:   e.PartyID,
		UserID:    e.UserID,
		Data:      data,
		CreatedAt: e.CreatedAt,
	})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w eventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	data, err := UnmarshalData(w.Data)
	if err != nil {
		return fmt.Errorf("event %d: %w", w.EventID, err)
	}
	*e = Event{
		EventID:   w.EventID,
		PartyID:   w.PartyID,
		UserID:    w.UserID,
		Data:      data,
		CreatedAt: w.CreatedAt,
	}
	return nil
}

// Type returns the wire discriminator of the event payload.
func (e Event) Type() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.Type()
}

// Equal reports whether two events carry the same values, payload included.
func (e Event) Equal(o Event) bool {
	if e.EventID != o.EventID || e.PartyID != o.PartyID || e.UserID != o.UserID || !e.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	a, errA := MarshalData(e.Data)
	b, errB := MarshalData(o.Data)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// EqualEvents compares two event slices element by element.
func EqualEvents(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
