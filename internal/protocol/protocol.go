// Package protocol defines the wire envelope exchanged over the sync
// websocket and the typed payloads behind each kind. Payloads are decoded
// at the transport boundary; handlers never see raw JSON.
package protocol

import (
	"fmt"

	json "github.com/goccy/go-json"
)

type Kind string

// Client to server.
const (
	KindCreateSession Kind = "CREATE_SESSION"
	KindJoinSession   Kind = "JOIN_SESSION"
	KindLeaveSession  Kind = "LEAVE_SESSION"
	KindSyncEvent     Kind = "SYNC_EVENT"
	KindSignal        Kind = "SIGNAL"
	KindHeartbeat     Kind = "HEARTBEAT"
)

// Server to client.
const (
	KindClientID          Kind = "CLIENT_ID"
	KindSessionCreated    Kind = "SESSION_CREATED"
	KindSessionJoined     Kind = "SESSION_JOINED"
	KindSessionLeft       Kind = "SESSION_LEFT"
	KindParticipantJoined Kind = "PARTICIPANT_JOINED"
	KindParticipantLeft   Kind = "PARTICIPANT_LEFT"
	KindError             Kind = "ERROR"
	KindHeartbeatAck      Kind = "HEARTBEAT_ACK"
)

// Envelope is the bidirectional wire frame: {"kind": ..., "payload": {...}}.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeError reports a malformed envelope or payload. It maps to an
// ERROR reply; the connection stays open.
type DecodeError struct {
	Kind   Kind
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("bad envelope: %s", e.Reason)
	}
	return fmt.Sprintf("bad %s payload: %s", e.Kind, e.Reason)
}

// Message is one decoded inbound frame: exactly one of the typed payload
// fields is set, matching Kind.
type Message struct {
	Kind      Kind
	Create    *CreateSessionPayload
	Join      *JoinSessionPayload
	Leave     *LeaveSessionPayload
	Sync      *SyncEventPayload
	Signal    *SignalPayload
	Heartbeat *HeartbeatPayload
}

// Decode parses an inbound frame into its tagged representation.
func Decode(data []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	if env.Kind == "" {
		return nil, &DecodeError{Reason: "missing kind"}
	}

	msg := &Message{Kind: env.Kind}
	var err error
	switch env.Kind {
	case KindCreateSession:
		msg.Create, err = decodePayload[CreateSessionPayload](env)
	case KindJoinSession:
		msg.Join, err = decodePayload[JoinSessionPayload](env)
		if err == nil && msg.Join.SessionID == "" {
			err = &DecodeError{Kind: env.Kind, Reason: "missing sessionId"}
		}
	case KindLeaveSession:
		msg.Leave, err = decodePayload[LeaveSessionPayload](env)
	case KindSyncEvent:
		msg.Sync, err = decodeSyncEvent(env)
	case KindSignal:
		msg.Signal, err = decodeSignal(env)
	case KindHeartbeat:
		msg.Heartbeat = &HeartbeatPayload{}
	default:
		return nil, &DecodeError{Kind: env.Kind, Reason: "unknown kind"}
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodePayload[T any](env Envelope) (*T, error) {
	var p T
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, &DecodeError{Kind: env.Kind, Reason: err.Error()}
		}
	}
	return &p, nil
}

// Marshal wraps a payload into an envelope frame.
func Marshal(kind Kind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: kind, Payload: raw})
}
