package commons

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/burntcarrot/otpad/document"
)

// Message represents the message sent over the wire.
type Message struct {
	// Type represents the message type.
	Type MessageType `json:"type"`

	// Payload is decoded according to Type.
	Payload json.RawMessage `json:"payload"`
}

// MessageType represents the type of the message.
type MessageType string

// Currently, otpad supports 3 message types:
// - handshake (joining a document, and the server's reply)
// - operation (an operation sent by a client, or broadcast by the server)
// - caret (a client's caret position, relayed to the other clients)

const (
	HandshakeMessage MessageType = "handshake"
	OperationMessage MessageType = "operation"
	CaretMessage     MessageType = "caret"
)

// Close codes sent by the server when it drops a connection.
const (
	CloseMissingDocument = 4400
	CloseUnknownDocument = 4404
	CloseRejected        = 4409
)

// Handshake is sent by a client to join a document, and echoed back by the server
// with the authoritative revision.
type Handshake struct {
	Document string `json:"document"`
	UserID   string `json:"userId"`
	Rev      int    `json:"rev"`

	// Data seeds a new document when sent by the first client, and carries the
	// current snapshot in the server's reply to everyone else.
	Data *document.Snapshot `json:"data,omitempty"`
}

// Caret is a client's caret position. Index is a serialized index.
type Caret struct {
	Document string `json:"document"`
	UserID   string `json:"userId"`
	Index    string `json:"index"`
}

// NewMessage wraps payload in a Message of type t.
func NewMessage(t MessageType, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, errors.Wrapf(err, "encode %s payload", t)
	}
	return Message{Type: t, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.Errorf("%s message without payload", m.Type)
	}
	return errors.Wrapf(json.Unmarshal(m.Payload, v), "decode %s payload", m.Type)
}
