package channel

import (
	"encoding/json"
	"fmt"

	"github.com/lfelipesv/talkd/internal/model"
)

// Wire event types. Inbound and outbound events share the same envelope
// shape: a type discriminator plus a type-specific payload.
const (
	TypeNewMessage  = "new_message"
	TypeTyping      = "typing"
	TypeOnline      = "online"
	TypeMessageSeen = "message_seen"
	TypeSeen        = "seen"
)

// Envelope is the tagged union carried on the push channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Parse decodes a raw frame into an envelope.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type discriminator")
	}
	return &env, nil
}

// Decode unpacks the payload into its concrete type based on the
// discriminator. Unknown types return an error so callers can log and skip
// them without dropping the connection.
func (e *Envelope) Decode() (any, error) {
	switch e.Type {
	case TypeNewMessage:
		var m model.Message
		if err := json.Unmarshal(e.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		if m.ID == "" || m.ConversationID == "" {
			return nil, fmt.Errorf("decode %s: missing id or conversation id", e.Type)
		}
		m.Status = model.StatusConfirmed
		return &m, nil
	case TypeTyping:
		var t model.TypingStatus
		if err := json.Unmarshal(e.Payload, &t); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		return &t, nil
	case TypeOnline:
		var o model.OnlineStatus
		if err := json.Unmarshal(e.Payload, &o); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		return &o, nil
	case TypeMessageSeen:
		var s model.SeenEvent
		if err := json.Unmarshal(e.Payload, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// TypingEvent builds an outbound advisory typing notification.
func TypingEvent(ts model.TypingStatus) (*Envelope, error) {
	return outbound(TypeTyping, ts)
}

// SeenEvent builds an outbound advisory seen receipt.
func SeenEvent(messageID, userID string) (*Envelope, error) {
	return outbound(TypeSeen, map[string]string{
		"messageId": messageID,
		"userId":    userID,
	})
}

func outbound(typ string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return &Envelope{Type: typ, Payload: data}, nil
}
