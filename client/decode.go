package client

import (
	json "github.com/goccy/go-json"

	"github.com/tandemshop/tandem/internal/protocol"
)

// serverMessage is one decoded server-to-client frame.
type serverMessage struct {
	Kind protocol.Kind

	ClientID     *protocol.ClientIDPayload
	Created      *protocol.SessionCreatedPayload
	Joined       *protocol.SessionJoinedPayload
	Left         *protocol.SessionLeftPayload
	PeerJoined   *protocol.ParticipantJoinedPayload
	PeerLeft     *protocol.ParticipantLeftPayload
	Sync         *protocol.SyncBroadcast
	Signal       *protocol.SignalPayload
	Err          *protocol.ErrorPayload
	HeartbeatAck *protocol.HeartbeatAckPayload
}

func decodeServer(data []byte) (*serverMessage, error) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &protocol.DecodeError{Reason: err.Error()}
	}
	msg := &serverMessage{Kind: env.Kind}

	var dst any
	switch env.Kind {
	case protocol.KindClientID:
		msg.ClientID = &protocol.ClientIDPayload{}
		dst = msg.ClientID
	case protocol.KindSessionCreated:
		msg.Created = &protocol.SessionCreatedPayload{}
		dst = msg.Created
	case protocol.KindSessionJoined:
		msg.Joined = &protocol.SessionJoinedPayload{}
		dst = msg.Joined
	case protocol.KindSessionLeft:
		msg.Left = &protocol.SessionLeftPayload{}
		dst = msg.Left
	case protocol.KindParticipantJoined:
		msg.PeerJoined = &protocol.ParticipantJoinedPayload{}
		dst = msg.PeerJoined
	case protocol.KindParticipantLeft:
		msg.PeerLeft = &protocol.ParticipantLeftPayload{}
		dst = msg.PeerLeft
	case protocol.KindSyncEvent:
		msg.Sync = &protocol.SyncBroadcast{}
		dst = msg.Sync
	case protocol.KindSignal:
		msg.Signal = &protocol.SignalPayload{}
		dst = msg.Signal
	case protocol.KindError:
		msg.Err = &protocol.ErrorPayload{}
		dst = msg.Err
	case protocol.KindHeartbeatAck:
		msg.HeartbeatAck = &protocol.HeartbeatAckPayload{}
		dst = msg.HeartbeatAck
	default:
		return nil, &protocol.DecodeError{Kind: env.Kind, Reason: "unknown kind"}
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, dst); err != nil {
			return nil, &protocol.DecodeError{Kind: env.Kind, Reason: err.Error()}
		}
	}
	return msg, nil
}
