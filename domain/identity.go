// Package domain contains core concepts of the chat relay.
// This file defines the authenticated Identity and the presence view of it.
// No runtime, network, or storage logic should be added here.
package domain

// Identity is the authenticated user reference used as the key for presence
// and routing. It is created once by the identity store and never mutated.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// PresenceEntry is one line of a presence snapshot as pushed to clients.
// PublicKey is opaque to the relay and only republished.
type PresenceEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PublicKey   string `json:"publicKey,omitempty"`
}
