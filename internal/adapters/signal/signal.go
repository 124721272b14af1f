// Package signal is the websocket message router and signaling relay: it
// assigns connection identities, decodes inbound envelopes, dispatches
// session and signaling commands, and fans events out to session members.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/app"
	"github.com/tandemshop/tandem/internal/config"
	"github.com/tandemshop/tandem/internal/core"
	"github.com/tandemshop/tandem/internal/domain"
	"github.com/tandemshop/tandem/internal/metrics"
	"github.com/tandemshop/tandem/internal/protocol"
	"github.com/tandemshop/tandem/internal/store"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Store    store.Repository
	Registry *app.Registry

	baseURL    string
	echoSender bool
	readLimit  int64
}

func NewController(repo store.Repository, reg *app.Registry, cfg *config.Config) *Controller {
	return &Controller{
		Store:      repo,
		Registry:   reg,
		baseURL:    cfg.BaseURL,
		echoSender: cfg.SyncEcho,
		readLimit:  cfg.ReadLimit,
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the transport, assigns a fresh connection identity,
// registers it and starts the pumps. The identity is pushed to the client
// as the first frame.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	cid := domain.NewClientID()
	conn := &wsConn{conn: ws, send: make(chan core.Frame, 32)}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(cid, conn, cancel)
	metrics.Connections.Inc()
	log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("new connection")

	go ctl.writePump(ctx, cid, conn)
	go ctl.readPump(ctx, cid, conn)

	ctl.reply(conn, protocol.KindClientID, protocol.ClientIDPayload{ClientID: string(cid)})
}

// reply encodes and queues one frame on a single connection.
func (ctl *Controller) reply(conn core.Conn, kind protocol.Kind, payload any) {
	frame, err := protocol.Marshal(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("kind", string(kind)).Msg("marshal reply")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("kind", string(kind)).Msg("drop reply")
	}
}

func (ctl *Controller) replyError(conn core.Conn, msg string) {
	ctl.reply(conn, protocol.KindError, protocol.ErrorPayload{Message: msg})
}

// broadcast fans one frame out to every live member of a session, at most
// once per currently-registered peer. The sender is skipped unless the
// echo option is on.
func (ctl *Controller) broadcast(sid domain.SessionID, from domain.ClientID, kind protocol.Kind, payload any) {
	frame, err := protocol.Marshal(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("kind", string(kind)).Msg("marshal broadcast")
		return
	}
	members := ctl.Registry.MembersOf(sid)
	n := 0
	for _, m := range members {
		if m.CID == from && !ctl.echoSender {
			continue
		}
		if err := m.Conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("cid", string(m.CID)).Msg("drop broadcast")
			continue
		}
		n++
	}
	metrics.BroadcastFanout.Observe(float64(n))
}

// dropConnection is the transport-close path: remove the participant from
// its session, tell the rest, forget the connection.
func (ctl *Controller) dropConnection(ctx context.Context, cid domain.ClientID) {
	if sid, ok := ctl.Registry.SessionOf(cid); ok {
		ctl.Registry.Detach(cid)
		if err := ctl.Store.RemoveParticipant(ctx, sid, cid); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("remove participant on close")
		}
		ctl.broadcast(sid, cid, protocol.KindParticipantLeft,
			protocol.ParticipantLeftPayload{UserID: string(cid)})
	}
	ctl.Registry.Unbind(cid)
	metrics.Connections.Dec()
}

func serverTimestamp() int64 { return time.Now().UnixMilli() }
