// Package domain contains core concepts of the chat relay.
// This file defines the routed Envelope and its type discriminant.
// Envelopes are transient: built per inbound frame, dropped after routing.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessagePrivate    MessageType = "PRIVATE"
	MessageBroadcast  MessageType = "BROADCAST"
	MessageFileOffer  MessageType = "FILE_OFFER"
	MessageFileAccept MessageType = "FILE_ACCEPT"
	MessageFileReject MessageType = "FILE_REJECT"
	MessagePresence   MessageType = "PRESENCE"
)

// PublicRecipient is the broadcast address of the legacy protocol.
// It is reserved and never resolves to an identity.
const PublicRecipient = "public"

// IsDirect reports whether the type addresses exactly one recipient.
func (t MessageType) IsDirect() bool {
	switch t {
	case MessagePrivate, MessageFileOffer, MessageFileAccept, MessageFileReject:
		return true
	}
	return false
}

// IsFileSignal reports whether the type belongs to the file transfer handshake.
func (t MessageType) IsFileSignal() bool {
	return t == MessageFileOffer || t == MessageFileAccept || t == MessageFileReject
}

// IsRoutable reports whether a client may submit this type to the router.
// PRESENCE is server-originated only.
func (t MessageType) IsRoutable() bool {
	return t.IsDirect() || t == MessageBroadcast
}

// Envelope represents a single routed message unit.
// Recipient is empty for BROADCAST and holds an identity ID otherwise.
// Payload is opaque and forwarded verbatim.
type Envelope struct {
	ID        uuid.UUID       `validate:"required"`
	Type      MessageType     `validate:"required,max=32"`
	Sender    Identity
	Recipient string          `validate:"omitempty,max=64"`
	Payload   json.RawMessage `validate:"max=1048576"`
	Timestamp time.Time
}

func (e Envelope) HasRecipient() bool {
	return e.Recipient != ""
}
