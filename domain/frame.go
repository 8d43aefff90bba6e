// Package domain contains core concepts of the chat relay.
// This file defines the logical wire frames exchanged with clients.
package domain

import (
	"encoding/json"
	"time"
)

type FrameType string

const (
	FrameLogin       FrameType = "LOGIN"
	FrameLogout      FrameType = "LOGOUT"
	FrameAuthOK      FrameType = "AUTH_OK"
	FrameAuthFail    FrameType = "AUTH_FAIL"
	FrameDeliverFail FrameType = "DELIVER_FAIL"
	FramePresence    FrameType = FrameType(MessagePresence)
)

// InboundFrame is what a client sends. Which fields matter depends on Type.
type InboundFrame struct {
	Type            string          `json:"type"`
	Recipient       string          `json:"recipient,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Username        string          `json:"username,omitempty"`
	CredentialProof string          `json:"credentialProof,omitempty"`
	PublicKey       string          `json:"publicKey,omitempty"`
}

func (f InboundFrame) IsLogin() bool  { return FrameType(f.Type) == FrameLogin }
func (f InboundFrame) IsLogout() bool { return FrameType(f.Type) == FrameLogout }

// OutboundFrame is what the relay pushes to a client.
type OutboundFrame struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Sender       *Identity       `json:"sender,omitempty"`
	Recipient    string          `json:"recipient,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    *time.Time      `json:"timestamp,omitempty"`
	Identity     *Identity       `json:"identity,omitempty"`
	Token        string          `json:"token,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Message      string          `json:"message,omitempty"`
	OriginalType string          `json:"originalType,omitempty"`
	Users        []PresenceEntry `json:"users,omitempty"`
}

// NewDeliverFrame builds the frame forwarded to recipients of an envelope.
// Every recipient of one envelope receives the same frame.
func NewDeliverFrame(e Envelope) OutboundFrame {
	sender := e.Sender
	at := e.Timestamp
	return OutboundFrame{
		Type:      string(e.Type),
		ID:        e.ID.String(),
		Sender:    &sender,
		Recipient: e.Recipient,
		Payload:   e.Payload,
		Timestamp: &at,
	}
}

func NewDeliverFailFrame(reason, originalType, recipient string) OutboundFrame {
	return OutboundFrame{
		Type:         string(FrameDeliverFail),
		Reason:       reason,
		OriginalType: originalType,
		Recipient:    recipient,
	}
}

func NewPresenceFrame(users []PresenceEntry) OutboundFrame {
	return OutboundFrame{Type: string(FramePresence), Users: users}
}

func NewAuthOKFrame(identity Identity, token string) OutboundFrame {
	return OutboundFrame{Type: string(FrameAuthOK), Identity: &identity, Token: token}
}

func NewAuthFailFrame(reason, message string) OutboundFrame {
	return OutboundFrame{Type: string(FrameAuthFail), Reason: reason, Message: message}
}
