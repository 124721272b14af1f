// Package domain contains entities without logic, just meta-data.
package domain

import (
	"time"

	"github.com/google/uuid"
)

const MaxNameLen = 36

type (
	// SessionID identifies a shared browsing session.
	SessionID string
	// ClientID identifies one live connection and doubles as the
	// participant identity once the connection joins a session.
	ClientID string
)

func NewSessionID() SessionID { return SessionID(uuid.NewString()) }
func NewClientID() ClientID   { return ClientID(uuid.NewString()) }

// Participant is an identity joined to a session. The session keeps only
// this back-reference; it never owns the transport.
type Participant struct {
	ID   ClientID `json:"userId"`
	Name string   `json:"userName,omitempty"`
}

// Session is a time-bounded group of participants sharing sync and
// signaling traffic.
type Session struct {
	ID        SessionID      `json:"sessionId"`
	HostID    ClientID       `json:"hostId"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// CleanName truncates a user-supplied display name to the allowed length.
func CleanName(raw string) string {
	if len(raw) > MaxNameLen {
		return raw[:MaxNameLen]
	}
	return raw
}
