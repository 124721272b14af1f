package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemshop/tandem/internal/protocol"
)

// fakeServer speaks just enough of the wire protocol to drive the engine:
// it pushes CLIENT_ID on accept and routes every later frame to onFrame.
type fakeServer struct {
	srv     *httptest.Server
	onFrame func(conn *websocket.Conn, env protocol.Envelope)

	serial  int64
	writeMu sync.Mutex
}

func newFakeServer(t *testing.T, onFrame func(conn *websocket.Conn, env protocol.Envelope)) *fakeServer {
	t.Helper()
	f := &fakeServer{onFrame: onFrame}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt64(&f.serial, 1)
		f.write(conn, protocol.KindClientID, protocol.ClientIDPayload{ClientID: fmt.Sprintf("c-%d", n)})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			if f.onFrame != nil {
				f.onFrame(conn, env)
			}
		}
	}))
	t.Cleanup(f.stop)
	return f
}

func (f *fakeServer) write(conn *websocket.Conn, kind protocol.Kind, payload any) {
	frame, err := protocol.Marshal(kind, payload)
	if err != nil {
		return
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// stop drops live websocket conns first so handlers return and Close does
// not block on them.
func (f *fakeServer) stop() {
	f.srv.CloseClientConnections()
	f.srv.Close()
}

func testConfig(url string) Config {
	return Config{
		URL:             url,
		BackoffBase:     5 * time.Millisecond,
		BackoffCap:      20 * time.Millisecond,
		MaxAttempts:     2,
		CallTimeout:     time.Second,
		LeaveTimeout:    100 * time.Millisecond,
		HeartbeatPeriod: time.Hour,
	}
}

func TestBackoffDelayDoublesUpToCap(t *testing.T) {
	cfg := Config{BackoffBase: time.Second, BackoffCap: 10 * time.Second}
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 10 * time.Second, 10 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, backoffDelay(cfg, i+1), "attempt %d", i+1)
	}
}

func TestBackoffDelayBaseAboveCap(t *testing.T) {
	cfg := Config{BackoffBase: time.Minute, BackoffCap: 10 * time.Second}
	assert.Equal(t, 10*time.Second, backoffDelay(cfg, 1))
}

func TestConnectAssignsClientID(t *testing.T) {
	f := newFakeServer(t, nil)
	e := New(testConfig(f.url()))
	defer e.Disconnect()

	require.NoError(t, e.Connect(context.Background()))
	assert.Equal(t, StateConnected, e.State())
	assert.Equal(t, "c-1", e.ClientID())

	// connecting again while connected is a no-op
	require.NoError(t, e.Connect(context.Background()))
}

func TestConnectFailsWhenServerUnreachable(t *testing.T) {
	f := newFakeServer(t, nil)
	url := f.url()
	f.stop()

	e := New(testConfig(url))
	require.Error(t, e.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, e.State())
}

func TestCreateSessionRoundTrip(t *testing.T) {
	var f *fakeServer
	f = newFakeServer(t, func(conn *websocket.Conn, env protocol.Envelope) {
		if env.Kind == protocol.KindCreateSession {
			f.write(conn, protocol.KindSessionCreated, protocol.SessionCreatedPayload{
				SessionID:  "s-1",
				InviteLink: "http://shop.test/join/s-1",
				ExpiresAt:  time.Now().Add(30 * time.Minute),
			})
		}
	})
	e := New(testConfig(f.url()))
	defer e.Disconnect()
	require.NoError(t, e.Connect(context.Background()))

	info, err := e.CreateSession(context.Background(), "Ann", map[string]any{"shop": "demo"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", info.SessionID)
	assert.Equal(t, "http://shop.test/join/s-1", info.InviteLink)
	assert.Equal(t, "s-1", e.SessionID())
}

func TestJoinSessionServerErrorRejectsCall(t *testing.T) {
	var f *fakeServer
	f = newFakeServer(t, func(conn *websocket.Conn, env protocol.Envelope) {
		if env.Kind == protocol.KindJoinSession {
			f.write(conn, protocol.KindError, protocol.ErrorPayload{Message: "session not found"})
		}
	})
	e := New(testConfig(f.url()))
	defer e.Disconnect()
	require.NoError(t, e.Connect(context.Background()))

	_, err := e.JoinSession(context.Background(), "missing", "Ben")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
	assert.Empty(t, e.SessionID())
}

func TestCallTimesOutWhenServerIsSilent(t *testing.T) {
	f := newFakeServer(t, nil)
	cfg := testConfig(f.url())
	cfg.CallTimeout = 50 * time.Millisecond
	e := New(cfg)
	defer e.Disconnect()
	require.NoError(t, e.Connect(context.Background()))

	_, err := e.CreateSession(context.Background(), "Ann", nil)
	assert.ErrorIs(t, err, ErrCallTimeout)
}

func TestLeaveResolvesWithoutAck(t *testing.T) {
	var f *fakeServer
	f = newFakeServer(t, func(conn *websocket.Conn, env protocol.Envelope) {
		if env.Kind == protocol.KindJoinSession {
			f.write(conn, protocol.KindSessionJoined, protocol.SessionJoinedPayload{SessionID: "s-1"})
		}
		// LEAVE_SESSION is deliberately ignored
	})
	e := New(testConfig(f.url()))
	defer e.Disconnect()
	require.NoError(t, e.Connect(context.Background()))

	_, err := e.JoinSession(context.Background(), "s-1", "Ann")
	require.NoError(t, err)

	require.NoError(t, e.LeaveSession(context.Background()))
	assert.Empty(t, e.SessionID())

	// already out of session: no-op
	require.NoError(t, e.LeaveSession(context.Background()))
}

func TestSendSyncRequiresConnection(t *testing.T) {
	e := New(testConfig("ws://127.0.0.1:0"))
	err := e.SendSync(protocol.EventNavigate, map[string]any{"url": "/p"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPushEventsReachSubscribers(t *testing.T) {
	var conn *websocket.Conn
	var connMu sync.Mutex
	f := newFakeServer(t, func(c *websocket.Conn, env protocol.Envelope) {
		connMu.Lock()
		conn = c
		connMu.Unlock()
	})
	e := New(testConfig(f.url()))
	defer e.Disconnect()

	syncs := make(chan *protocol.SyncBroadcast, 1)
	e.Subscribe(TopicSync, func(ev Event) { syncs <- ev.Sync })
	joined := make(chan *protocol.ParticipantInfo, 1)
	e.Subscribe(TopicParticipantJoined, func(ev Event) { joined <- ev.Participant })

	require.NoError(t, e.Connect(context.Background()))
	require.NoError(t, e.SendSync(protocol.EventNavigate, nil)) // make server capture the conn

	require.Eventually(t, func() bool {
		connMu.Lock()
		defer connMu.Unlock()
		return conn != nil
	}, time.Second, 5*time.Millisecond)

	connMu.Lock()
	f.write(conn, protocol.KindParticipantJoined, protocol.ParticipantJoinedPayload{UserID: "peer", UserName: "Ben"})
	f.write(conn, protocol.KindSyncEvent, protocol.SyncBroadcast{
		EventType: protocol.EventCartUpdate,
		SourceID:  "peer",
		Timestamp: 42,
		Fields:    map[string]any{"cart": []any{}},
	})
	connMu.Unlock()

	select {
	case p := <-joined:
		assert.Equal(t, "peer", p.UserID)
		assert.Equal(t, "Ben", p.UserName)
	case <-time.After(time.Second):
		t.Fatal("participant event not delivered")
	}
	select {
	case s := <-syncs:
		assert.Equal(t, protocol.EventCartUpdate, s.EventType)
		assert.Equal(t, "peer", s.SourceID)
	case <-time.After(time.Second):
		t.Fatal("sync event not delivered")
	}
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	f := newFakeServer(t, nil)
	e := New(testConfig(f.url()))

	states := make(chan State, 16)
	e.Subscribe(TopicState, func(ev Event) { states <- ev.State })
	errs := make(chan error, 4)
	e.Subscribe(TopicError, func(ev Event) { errs <- ev.Err })

	require.NoError(t, e.Connect(context.Background()))
	f.stop() // every redial now fails

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrReconnectFailed)
	case <-time.After(5 * time.Second):
		t.Fatal("terminal reconnect error never surfaced")
	}
	assert.Equal(t, StateDisconnected, e.State())

	var seen []State
	for len(states) > 0 {
		seen = append(seen, <-states)
	}
	assert.Contains(t, seen, StateReconnecting)
}

func TestDisconnectDoesNotReconnect(t *testing.T) {
	f := newFakeServer(t, nil)
	e := New(testConfig(f.url()))

	errs := make(chan error, 4)
	e.Subscribe(TopicError, func(ev Event) { errs <- ev.Err })

	require.NoError(t, e.Connect(context.Background()))
	e.Disconnect()

	require.Eventually(t, func() bool {
		return e.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)

	select {
	case err := <-errs:
		t.Fatalf("unexpected error event after manual disconnect: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduledTaskCancel(t *testing.T) {
	fired := make(chan struct{}, 1)
	tk := schedule(10*time.Millisecond, func() { fired <- struct{}{} })
	tk.Cancel()
	select {
	case <-fired:
		t.Fatal("canceled task fired")
	case <-time.After(50 * time.Millisecond):
	}

	var nilTask *task
	nilTask.Cancel() // must not panic
}
