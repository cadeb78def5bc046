package party

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire discriminators for event payloads.
const (
	TypePartyCreated     = "party_created"
	TypeOwnerChanged     = "party_owner_changed"
	TypeJoinLeave        = "user_join_leave"
	TypeCodesSubmitted   = "user_codes_submitted"
	TypeCursorUpdate     = "user_cursor_update"
	TypeChatMessage      = "user_chat_message"
	TypeListOrderChanged = "party_list_order_changed"
	TypeSettingChanged   = "party_setting_changed"
)

var ErrMissingType = errors.New("event data has no type")

// EventData is the payload of an Event. The set of implementations is closed;
// kinds this client does not know about decode into UnknownData.
type EventData interface {
	Type() string
	eventData()
}

type PartyCreated struct {
	OwnerID string `json:"owner_id"`
}

type OwnerChanged struct {
	OwnerID string `json:"owner_id"`
}

type JoinLeave struct {
	UserID string `json:"user_id"`
	IsJoin bool   `json:"is_join"`
}

type CodesSubmitted struct {
	UserID string   `json:"user_id"`
	Codes  []string `json:"codes"`
}

type CursorUpdate struct {
	UserID string `json:"user_id"`
	Cursor string `json:"cursor"`
	Size   uint32 `json:"size"`
}

type ChatMessage struct {
	Message string `json:"message"`
}

// ListEntry names a code list and whether it is walked in reverse.
type ListEntry struct {
	Name    string `json:"name"`
	Reverse bool   `json:"reverse"`
}

type ListOrderChanged struct {
	Order []ListEntry `json:"order"`
}

type SettingChanged struct {
	Setting string          `json:"setting"`
	Value   json.RawMessage `json:"value"`
}

// UnknownData preserves payloads of kinds added to the server after this
// client was built. Raw is the complete payload object, type field included.
type UnknownData struct {
	Kind string
	Raw  json.RawMessage
}

func (PartyCreated) Type() string     { return TypePartyCreated }
func (OwnerChanged) Type() string     { return TypeOwnerChanged }
func (JoinLeave) Type() string        { return TypeJoinLeave }
func (CodesSubmitted) Type() string   { return TypeCodesSubmitted }
func (CursorUpdate) Type() string     { return TypeCursorUpdate }
func (ChatMessage) Type() string      { return TypeChatMessage }
func (ListOrderChanged) Type() string { return TypeListOrderChanged }
func (SettingChanged) Type() string   { return TypeSettingChanged }
func (u UnknownData) Type() string    { return u.Kind }

func (PartyCreated) eventData()     {}
func (OwnerChanged) eventData()     {}
func (JoinLeave) eventData()        {}
func (CodesSubmitted) eventData()   {}
func (CursorUpdate) eventData()     {}
func (ChatMessage) eventData()      {}
func (ListOrderChanged) eventData() {}
func (SettingChanged) eventData()   {}
func (UnknownData) eventData()      {}

// MarshalData encodes a payload as a flat object with a "type" field.
func MarshalData(d EventData) ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	if u, ok := d.(UnknownData); ok {
		if len(u.Raw) == 0 {
			return json.Marshal(map[string]string{"type": u.Kind})
		}
		return u.Raw, nil
	}

	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", d.Type(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s: %w", d.Type(), err)
	}
	typ, _ := json.Marshal(d.Type())
	fields["type"] = typ
	return json.Marshal(fields)
}

// UnmarshalData decodes a payload by its "type" discriminator.
func UnmarshalData(b []byte) (EventData, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("decode data type: %w", err)
	}
	if head.Type == "" {
		return nil, ErrMissingType
	}

	var (
		d   EventData
		err error
	)
	switch head.Type {
	case TypePartyCreated:
		d, err = decodeAs[PartyCreated](b)
	case TypeOwnerChanged:
		d, err = decodeAs[OwnerChanged](b)
	case TypeJoinLeave:
		d, err = decodeAs[JoinLeave](b)
	case TypeCodesSubmitted:
		d, err = decodeAs[CodesSubmitted](b)
	case TypeCursorUpdate:
		d, err = decodeAs[CursorUpdate](b)
	case TypeChatMessage:
		d, err = decodeAs[ChatMessage](b)
	case TypeListOrderChanged:
		d, err = decodeAs[ListOrderChanged](b)
	case TypeSettingChanged:
		d, err = decodeAs[SettingChanged](b)
	default:
		raw := make(json.RawMessage, len(b))
		copy(raw, b)
		return UnknownData{Kind: head.Type, Raw: raw}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return d, nil
}

func decodeAs[T EventData](b []byte) (EventData, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
