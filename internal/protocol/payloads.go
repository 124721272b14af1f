package protocol

import (
	"time"

	json "github.com/goccy/go-json"
)

// EventType discriminates sync event payloads.
type EventType string

const (
	EventNavigate      EventType = "NAVIGATE"
	EventReaction      EventType = "REACTION"
	EventScrollRequest EventType = "SCROLL_REQUEST"
	EventCartUpdate    EventType = "CART_UPDATE"
	// EventSessionJoin is the client-side join handshake variant.
	EventSessionJoin EventType = "SESSION_JOIN"
)

var knownEvents = map[EventType]struct{}{
	EventNavigate:      {},
	EventReaction:      {},
	EventScrollRequest: {},
	EventCartUpdate:    {},
	EventSessionJoin:   {},
}

type CreateSessionPayload struct {
	UserName string         `json:"userName,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type JoinSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserName  string `json:"userName,omitempty"`
}

type LeaveSessionPayload struct {
	SessionID string `json:"sessionId,omitempty"`
}

type HeartbeatPayload struct{}

// SyncEventPayload carries one application event. Fields travels flattened
// next to eventType on the wire; the router only reads the discriminator
// and stamps sourceId/timestamp before fan-out.
type SyncEventPayload struct {
	EventType EventType      `json:"eventType"`
	Fields    map[string]any `json:"-"`
}

func decodeSyncEvent(env Envelope) (*SyncEventPayload, error) {
	var fields map[string]any
	if err := json.Unmarshal(env.Payload, &fields); err != nil {
		return nil, &DecodeError{Kind: env.Kind, Reason: err.Error()}
	}
	et, _ := fields["eventType"].(string)
	if _, ok := knownEvents[EventType(et)]; !ok {
		return nil, &DecodeError{Kind: env.Kind, Reason: "unknown eventType"}
	}
	delete(fields, "eventType")
	return &SyncEventPayload{EventType: EventType(et), Fields: fields}, nil
}

// MarshalJSON flattens Fields next to the discriminator.
func (p SyncEventPayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+1)
	for k, v := range p.Fields {
		out[k] = v
	}
	out["eventType"] = p.EventType
	return json.Marshal(out)
}

// Signal is one WebRTC negotiation message. The relay never interprets
// SDP or candidate contents.
type Signal struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type SignalPayload struct {
	// TargetID routes to one participant; empty means broadcast to the
	// whole session.
	TargetID string `json:"targetId,omitempty"`
	// SourceID is stamped by the relay from the connection identity,
	// never trusted from the sender.
	SourceID string `json:"sourceId,omitempty"`
	Signal   Signal `json:"signal"`
}

func decodeSignal(env Envelope) (*SignalPayload, error) {
	p, err := decodePayload[SignalPayload](env)
	if err != nil {
		return nil, err
	}
	if p.Signal.Type == "" {
		return nil, &DecodeError{Kind: env.Kind, Reason: "missing signal type"}
	}
	return p, nil
}

// Server-originated payloads.

type ClientIDPayload struct {
	ClientID string `json:"clientId"`
}

type SessionCreatedPayload struct {
	SessionID  string    `json:"sessionId"`
	InviteLink string    `json:"inviteLink"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type ParticipantInfo struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type SessionJoinedPayload struct {
	SessionID    string            `json:"sessionId"`
	Participants []ParticipantInfo `json:"participants"`
}

type SessionLeftPayload struct {
	SessionID string `json:"sessionId"`
}

type ParticipantJoinedPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type ParticipantLeftPayload struct {
	UserID string `json:"userId"`
}

// SyncBroadcast is the server-stamped form of a sync event.
type SyncBroadcast struct {
	EventType EventType      `json:"eventType"`
	SourceID  string         `json:"sourceId"`
	Timestamp int64          `json:"timestamp"`
	Fields    map[string]any `json:"-"`
}

func (p SyncBroadcast) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+3)
	for k, v := range p.Fields {
		out[k] = v
	}
	out["eventType"] = p.EventType
	out["sourceId"] = p.SourceID
	out["timestamp"] = p.Timestamp
	return json.Marshal(out)
}

// UnmarshalJSON keeps unknown fields so clients can re-read event bodies.
func (p *SyncBroadcast) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if et, ok := fields["eventType"].(string); ok {
		p.EventType = EventType(et)
	}
	if src, ok := fields["sourceId"].(string); ok {
		p.SourceID = src
	}
	if ts, ok := fields["timestamp"].(float64); ok {
		p.Timestamp = int64(ts)
	}
	delete(fields, "eventType")
	delete(fields, "sourceId")
	delete(fields, "timestamp")
	p.Fields = fields
	return nil
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type HeartbeatAckPayload struct {
	Timestamp int64 `json:"timestamp"`
}
