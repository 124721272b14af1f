package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/domain"
	"github.com/tandemshop/tandem/internal/metrics"
	"github.com/tandemshop/tandem/internal/protocol"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, cid domain.ClientID, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cid domain.ClientID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("connection closed")
		c.Close()
		ctl.dropConnection(ctx, cid)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, cid, c, data)
		}
	}
}

// dispatch decodes one inbound envelope and routes it to its handler.
// Malformed or unknown frames get an ERROR reply; the connection stays
// open.
func (ctl *Controller) dispatch(ctx context.Context, cid domain.ClientID, c *wsConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		var de *protocol.DecodeError
		metrics.ProtocolErrors.Inc()
		if errors.As(err, &de) {
			ctl.replyError(c, de.Error())
		} else {
			ctl.replyError(c, "malformed message")
		}
		return
	}
	metrics.MessagesRouted.WithLabelValues(string(msg.Kind)).Inc()

	switch msg.Kind {
	case protocol.KindCreateSession:
		ctl.handleCreate(ctx, cid, c, msg.Create)
	case protocol.KindJoinSession:
		ctl.handleJoin(ctx, cid, c, msg.Join)
	case protocol.KindLeaveSession:
		ctl.handleLeave(ctx, cid, c)
	case protocol.KindSyncEvent:
		ctl.handleSync(ctx, cid, c, msg.Sync)
	case protocol.KindSignal:
		ctl.handleSignal(cid, c, msg.Signal)
	case protocol.KindHeartbeat:
		ctl.handleHeartbeat(ctx, cid, c)
	}
}
