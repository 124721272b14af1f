package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/domain"
	"github.com/tandemshop/tandem/internal/protocol"
)

// handleSignal relays a WebRTC negotiation message. The relay never
// interprets the payload: it routes by target within the sender's session
// and stamps the true sender identity, irrespective of what the sender
// claims.
func (ctl *Controller) handleSignal(cid domain.ClientID, c *wsConn, p *protocol.SignalPayload) {
	sid, ok := ctl.Registry.SessionOf(cid)
	if !ok {
		ctl.replyError(c, "not in a session")
		return
	}

	out := protocol.SignalPayload{SourceID: string(cid), Signal: p.Signal}

	if p.TargetID == "" {
		ctl.broadcast(sid, cid, protocol.KindSignal, out)
		return
	}

	target := domain.ClientID(p.TargetID)
	tsid, ok := ctl.Registry.SessionOf(target)
	if !ok || tsid != sid {
		// Target gone or in another session: silent no-op by contract.
		return
	}
	conn, ok := ctl.Registry.Get(target)
	if !ok {
		return
	}
	frame, err := protocol.Marshal(protocol.KindSignal, out)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal signal")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", p.TargetID).Msg("drop signal")
	}
}
