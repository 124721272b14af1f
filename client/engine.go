// Package client is the Tandem sync engine: connection lifecycle with
// bounded reconnection, request/response correlation over the websocket,
// and typed event subscription. Hosting applications construct their own
// Engine; multiple independent instances can coexist in one process.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/protocol"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

var (
	ErrNotConnected      = errors.New("not connected")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrCallTimeout       = errors.New("call timed out")
	// ErrReconnectFailed is the terminal error after the last reconnect
	// attempt; the caller must invoke Connect again to resume.
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
)

type Config struct {
	// URL of the sync websocket endpoint (ws:// or wss://).
	URL string

	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int

	CallTimeout     time.Duration
	LeaveTimeout    time.Duration
	HeartbeatPeriod time.Duration
}

func (c *Config) defaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.LeaveTimeout <= 0 {
		c.LeaveTimeout = 5 * time.Second
	}
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = 25 * time.Second
	}
}

// SessionInfo is the resolved result of a create or join call.
type SessionInfo struct {
	SessionID    string
	InviteLink   string
	ExpiresAt    time.Time
	Participants []protocol.ParticipantInfo
}

type callResult struct {
	msg *serverMessage
	err error
}

// pendingCall is a one-shot listener for an expected success kind; the
// generic ERROR event or a timeout rejects it instead.
type pendingCall struct {
	expect protocol.Kind
	ch     chan callResult
}

type Engine struct {
	cfg Config
	bus *bus

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	state     State
	clientID  string
	sessionID string
	pending   []*pendingCall
	attempts  int
	retry     *task
	dialing   bool
	closing   bool

	writeMu sync.Mutex
}

func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg, bus: newBus(), state: StateDisconnected}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) ClientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientID
}

func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Subscribe registers a listener for a topic and returns its remover.
func (e *Engine) Subscribe(topic Topic, h Handler) func() {
	return e.bus.subscribe(topic, h)
}

// Connect dials the server and resolves once the assigned identity
// arrives. Concurrent calls are rejected while one is in flight.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.dialing {
		e.mu.Unlock()
		return ErrConnectInProgress
	}
	if e.state == StateConnected {
		e.mu.Unlock()
		return nil
	}
	e.dialing = true
	e.closing = false
	e.attempts = 0
	e.mu.Unlock()

	e.setState(StateConnecting)
	if err := e.dial(ctx); err != nil {
		e.mu.Lock()
		e.dialing = false
		e.mu.Unlock()
		e.setState(StateDisconnected)
		return err
	}
	return nil
}

// Disconnect closes the transport and cancels any pending reconnect.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	e.closing = true
	retry := e.retry
	e.retry = nil
	conn := e.conn
	e.mu.Unlock()

	retry.Cancel()
	if conn != nil {
		_ = conn.Close()
	} else {
		e.setState(StateDisconnected)
	}
}

func (e *Engine) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, e.cfg.URL, nil)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.conn = conn
	e.done = done
	e.mu.Unlock()

	waiter := e.addPending(protocol.KindClientID)
	go e.readLoop(conn)
	go e.heartbeatLoop(done)

	msg, err := e.await(ctx, waiter, e.cfg.CallTimeout)
	if err != nil {
		_ = conn.Close()
		return err
	}

	e.mu.Lock()
	e.clientID = msg.ClientID.ClientID
	e.attempts = 0
	e.dialing = false
	e.mu.Unlock()
	e.setState(StateConnected)
	log.Info().Str("module", "client").Str("cid", msg.ClientID.ClientID).Msg("connected")
	return nil
}

func (e *Engine) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			e.onDisconnect(conn)
			return
		}
		msg, derr := decodeServer(data)
		if derr != nil {
			log.Warn().Err(derr).Str("module", "client").Msg("undecodable frame")
			continue
		}
		e.handle(msg)
	}
}

func (e *Engine) heartbeatLoop(done chan struct{}) {
	t := time.NewTicker(e.cfg.HeartbeatPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := e.send(protocol.KindHeartbeat, protocol.HeartbeatPayload{}); err != nil {
				return
			}
		}
	}
}

func (e *Engine) handle(msg *serverMessage) {
	switch msg.Kind {
	case protocol.KindClientID, protocol.KindSessionCreated,
		protocol.KindSessionJoined, protocol.KindSessionLeft:
		e.trackSession(msg)
		if !e.resolve(msg.Kind, msg) {
			log.Warn().Str("module", "client").Str("kind", string(msg.Kind)).Msg("unexpected reply")
		}
	case protocol.KindParticipantJoined:
		e.bus.publish(Event{Topic: TopicParticipantJoined, Participant: &protocol.ParticipantInfo{
			UserID: msg.PeerJoined.UserID, UserName: msg.PeerJoined.UserName,
		}})
	case protocol.KindParticipantLeft:
		e.bus.publish(Event{Topic: TopicParticipantLeft, Participant: &protocol.ParticipantInfo{
			UserID: msg.PeerLeft.UserID,
		}})
	case protocol.KindSyncEvent:
		e.bus.publish(Event{Topic: TopicSync, Sync: msg.Sync})
	case protocol.KindSignal:
		e.bus.publish(Event{Topic: TopicSignal, Signal: msg.Signal})
	case protocol.KindError:
		err := errors.New(msg.Err.Message)
		if !e.rejectOldest(err) {
			e.bus.publish(Event{Topic: TopicError, Err: err})
		}
	case protocol.KindHeartbeatAck:
		// keep-alive only
	}
}

func (e *Engine) trackSession(msg *serverMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch msg.Kind {
	case protocol.KindSessionCreated:
		e.sessionID = msg.Created.SessionID
	case protocol.KindSessionJoined:
		e.sessionID = msg.Joined.SessionID
	case protocol.KindSessionLeft:
		e.sessionID = ""
	}
}

// onDisconnect runs the transport-loss path: drain correlated calls, then
// either settle into DISCONNECTED (manual close) or start the bounded
// reconnect sequence.
func (e *Engine) onDisconnect(conn *websocket.Conn) {
	e.mu.Lock()
	if e.conn != conn {
		// stale generation
		e.mu.Unlock()
		return
	}
	e.conn = nil
	close(e.done)
	wasClosing := e.closing
	wasConnected := e.state == StateConnected
	e.mu.Unlock()

	e.drainPending(ErrNotConnected)

	if wasClosing {
		e.setState(StateDisconnected)
		return
	}
	if !wasConnected {
		// handshake still in flight; the dialer observes the drained
		// waiter and reports through its own path
		return
	}
	e.setState(StateReconnecting)
	e.scheduleReconnect()
}

func (e *Engine) scheduleReconnect() {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return
	}
	if e.attempts >= e.cfg.MaxAttempts {
		e.mu.Unlock()
		e.setState(StateDisconnected)
		e.bus.publish(Event{Topic: TopicError, Err: ErrReconnectFailed})
		return
	}
	e.attempts++
	attempt := e.attempts
	delay := backoffDelay(e.cfg, attempt)
	log.Info().Str("module", "client").Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
	e.retry = schedule(delay, func() {
		e.mu.Lock()
		if e.closing {
			e.mu.Unlock()
			return
		}
		e.dialing = true
		e.mu.Unlock()
		if err := e.dial(context.Background()); err != nil {
			e.mu.Lock()
			e.dialing = false
			e.mu.Unlock()
			e.scheduleReconnect()
		}
	})
	e.mu.Unlock()
}

// backoffDelay doubles the base per attempt, bounded by the cap.
func backoffDelay(cfg Config, attempt int) time.Duration {
	d := cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.BackoffCap {
			return cfg.BackoffCap
		}
	}
	if d > cfg.BackoffCap {
		return cfg.BackoffCap
	}
	return d
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()
	e.bus.publish(Event{Topic: TopicState, State: s})
}

// CreateSession issues the create command and waits for the correlated
// SESSION_CREATED reply.
func (e *Engine) CreateSession(ctx context.Context, userName string, metadata map[string]any) (*SessionInfo, error) {
	waiter := e.addPending(protocol.KindSessionCreated)
	if err := e.send(protocol.KindCreateSession, protocol.CreateSessionPayload{
		UserName: userName, Metadata: metadata,
	}); err != nil {
		e.removePending(waiter)
		return nil, err
	}
	msg, err := e.await(ctx, waiter, e.cfg.CallTimeout)
	if err != nil {
		return nil, err
	}
	return &SessionInfo{
		SessionID:  msg.Created.SessionID,
		InviteLink: msg.Created.InviteLink,
		ExpiresAt:  msg.Created.ExpiresAt,
	}, nil
}

// JoinSession issues the join command and waits for SESSION_JOINED.
func (e *Engine) JoinSession(ctx context.Context, sessionID, userName string) (*SessionInfo, error) {
	waiter := e.addPending(protocol.KindSessionJoined)
	if err := e.send(protocol.KindJoinSession, protocol.JoinSessionPayload{
		SessionID: sessionID, UserName: userName,
	}); err != nil {
		e.removePending(waiter)
		return nil, err
	}
	msg, err := e.await(ctx, waiter, e.cfg.CallTimeout)
	if err != nil {
		return nil, err
	}
	return &SessionInfo{
		SessionID:    msg.Joined.SessionID,
		Participants: msg.Joined.Participants,
	}, nil
}

// LeaveSession leaves the current session. It resolves even when the
// SESSION_LEFT acknowledgment never arrives.
func (e *Engine) LeaveSession(ctx context.Context) error {
	e.mu.Lock()
	sid := e.sessionID
	e.sessionID = ""
	e.mu.Unlock()
	if sid == "" {
		return nil
	}

	waiter := e.addPending(protocol.KindSessionLeft)
	if err := e.send(protocol.KindLeaveSession, protocol.LeaveSessionPayload{SessionID: sid}); err != nil {
		e.removePending(waiter)
		return err
	}
	if _, err := e.await(ctx, waiter, e.cfg.LeaveTimeout); err != nil && !errors.Is(err, ErrCallTimeout) {
		return err
	}
	return nil
}

// SendSync broadcasts an application event to the session peers.
func (e *Engine) SendSync(eventType protocol.EventType, fields map[string]any) error {
	return e.send(protocol.KindSyncEvent, protocol.SyncEventPayload{
		EventType: eventType, Fields: fields,
	})
}

// SendSignal relays one negotiation message; empty targetID broadcasts to
// the session.
func (e *Engine) SendSignal(targetID string, sig protocol.Signal) error {
	return e.send(protocol.KindSignal, protocol.SignalPayload{TargetID: targetID, Signal: sig})
}

func (e *Engine) send(kind protocol.Kind, payload any) error {
	frame, err := protocol.Marshal(kind, payload)
	if err != nil {
		return err
	}
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (e *Engine) addPending(expect protocol.Kind) *pendingCall {
	p := &pendingCall{expect: expect, ch: make(chan callResult, 1)}
	e.mu.Lock()
	e.pending = append(e.pending, p)
	e.mu.Unlock()
	return p
}

func (e *Engine) removePending(p *pendingCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, q := range e.pending {
		if q == p {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

// resolve completes the first pending call expecting this kind.
func (e *Engine) resolve(kind protocol.Kind, msg *serverMessage) bool {
	e.mu.Lock()
	for i, p := range e.pending {
		if p.expect == kind {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			e.mu.Unlock()
			p.ch <- callResult{msg: msg}
			return true
		}
	}
	e.mu.Unlock()
	return false
}

// rejectOldest fails the oldest pending call with a server error.
func (e *Engine) rejectOldest(err error) bool {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return false
	}
	p := e.pending[0]
	e.pending = e.pending[1:]
	e.mu.Unlock()
	p.ch <- callResult{err: err}
	return true
}

func (e *Engine) drainPending(err error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, p := range pending {
		p.ch <- callResult{err: err}
	}
}

func (e *Engine) await(ctx context.Context, p *pendingCall, timeout time.Duration) (*serverMessage, error) {
	select {
	case res := <-p.ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.msg, nil
	case <-time.After(timeout):
		e.removePending(p)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		e.removePending(p)
		return nil, ctx.Err()
	}
}
