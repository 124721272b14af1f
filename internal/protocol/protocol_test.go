package protocol

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJoin(t *testing.T) {
	msg, err := Decode([]byte(`{"kind":"JOIN_SESSION","payload":{"sessionId":"s1","userName":"Ann"}}`))
	require.NoError(t, err)
	require.Equal(t, KindJoinSession, msg.Kind)
	require.NotNil(t, msg.Join)
	assert.Equal(t, "s1", msg.Join.SessionID)
	assert.Equal(t, "Ann", msg.Join.UserName)
}

func TestDecodeJoinMissingSessionID(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"JOIN_SESSION","payload":{}}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, KindJoinSession, de.Kind)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"TELEPORT","payload":{}}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Error(), "unknown kind")
}

func TestDecodeMalformedEnvelope(t *testing.T) {
	for _, raw := range []string{`{`, `{"payload":{}}`, `[]`} {
		_, err := Decode([]byte(raw))
		var de *DecodeError
		assert.ErrorAs(t, err, &de, "input %q", raw)
	}
}

func TestDecodeSyncEventKeepsFields(t *testing.T) {
	msg, err := Decode([]byte(`{"kind":"SYNC_EVENT","payload":{"eventType":"CART_UPDATE","cart":[{"id":"p1"}]}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Sync)
	assert.Equal(t, EventCartUpdate, msg.Sync.EventType)
	assert.Contains(t, msg.Sync.Fields, "cart")
	assert.NotContains(t, msg.Sync.Fields, "eventType")
}

func TestDecodeSyncEventUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"SYNC_EVENT","payload":{"eventType":"EXPLODE"}}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestDecodeSignalRequiresType(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"SIGNAL","payload":{"signal":{}}}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	msg, err := Decode([]byte(`{"kind":"SIGNAL","payload":{"targetId":"b","signal":{"type":"offer","sdp":"v=0"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "b", msg.Signal.TargetID)
	assert.Equal(t, "offer", msg.Signal.Signal.Type)
}

func TestSyncBroadcastRoundTrip(t *testing.T) {
	out := SyncBroadcast{
		EventType: EventNavigate,
		SourceID:  "a",
		Timestamp: 1234,
		Fields:    map[string]any{"url": "/products/42"},
	}
	raw, err := json.Marshal(out)
	require.NoError(t, err)

	var in SyncBroadcast
	require.NoError(t, json.Unmarshal(raw, &in))
	assert.Equal(t, EventNavigate, in.EventType)
	assert.Equal(t, "a", in.SourceID)
	assert.Equal(t, int64(1234), in.Timestamp)
	assert.Equal(t, "/products/42", in.Fields["url"])
}

func TestMarshalEnvelope(t *testing.T) {
	raw, err := Marshal(KindError, ErrorPayload{Message: "boom"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, KindError, env.Kind)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "boom", p.Message)
}

func TestHeartbeatNeedsNoPayload(t *testing.T) {
	msg, err := Decode([]byte(`{"kind":"HEARTBEAT"}`))
	require.NoError(t, err)
	assert.NotNil(t, msg.Heartbeat)
}
