package ws

import (
	"encoding/json"
	"fmt"
)

// Message types on the nudge channel.
const (
	TypeSystem     = "system"
	TypeAck        = "ack"
	TypeMessage    = "message"
	TypePong       = "pong"
	TypeJoinGroup  = "joinGroup"
	TypeLeaveGroup = "leaveGroup"
	TypePing       = "ping"

	EventConnected = "connected"
)

// Message is the single JSON envelope used in both directions. Groups are
// party ids.
type Message struct {
	Type         string  `json:"type"`
	Event        string  `json:"event,omitempty"`
	ConnectionID string  `json:"connectionId,omitempty"`
	UserID       string  `json:"userId,omitempty"`
	Group        string  `json:"group,omitempty"`
	AckID        *uint64 `json:"ackId,omitempty"`
	Success      *bool   `json:"success,omitempty"`
	Data         *Nudge  `json:"data,omitempty"`
}

// Nudge announces that a party has a new event.
type Nudge struct {
	PartyID string `json:"party_id"`
	EventID uint64 `json:"event_id"`
}

func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}

func encode(msg Message) []byte {
	data, _ := json.Marshal(msg)
	return data
}

func buildConnectedMessage(connID, userID string) []byte {
	return encode(Message{Type: TypeSystem, Event: EventConnected, ConnectionID: connID, UserID: userID})
}

func buildAckMessage(ackID uint64, success bool) []byte {
	return encode(Message{Type: TypeAck, AckID: &ackID, Success: &success})
}

func buildNudgeMessage(partyID string, eventID uint64) []byte {
	return encode(Message{Type: TypeMessage, Group: partyID, Data: &Nudge{PartyID: partyID, EventID: eventID}})
}

func buildPongMessage() []byte {
	return encode(Message{Type: TypePong})
}

// JoinGroupMessage builds the upstream request to follow a party.
func JoinGroupMessage(partyID string, ackID uint64) []byte {
	return encode(Message{Type: TypeJoinGroup, Group: partyID, AckID: &ackID})
}

// LeaveGroupMessage builds the upstream request to stop following a party.
func LeaveGroupMessage(partyID string) []byte {
	return encode(Message{Type: TypeLeaveGroup, Group: partyID})
}

func PingMessage() []byte {
	return encode(Message{Type: TypePing})
}
