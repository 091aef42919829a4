// Package gateway is the live delivery layer: authenticated websocket
// connections grouped into one room per conversation, with messages
// persisted through the message service and fanned out to the room.
//
// Frames are JSON envelopes {"event": name, "data": payload}.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// Event names.
const (
	EventConnected      = "connected"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
	EventPing           = "ping"
	EventPong           = "pong"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessage is the client payload of send_message. Any sender field a
// client adds is ignored; the role comes from the connection.
type SendMessage struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// Delivery is the payload of receive_message.
type Delivery struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	SenderRole     domain.Role `json:"senderRole"`
	SentAt         time.Time   `json:"sentAt"`
	MessageID      string      `json:"messageId"`
}

// NewDelivery builds the broadcast payload for m.
func NewDelivery(m domain.Message) Delivery {
	return Delivery{
		ConversationID: m.ConversationID,
		Content:        m.Content,
		SenderRole:     m.SenderRole,
		SentAt:         m.SentAt,
		MessageID:      m.ID,
	}
}

// ErrorEvent is sent to the originating connection only.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Connected acknowledges a successful handshake.
type Connected struct {
	ConnectionID string           `json:"connectionId"`
	Principal    domain.Principal `json:"principal"`
	Rooms        []string         `json:"rooms"`
}

// Encode marshals data into an envelope for event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
