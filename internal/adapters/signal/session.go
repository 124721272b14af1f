package signal

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/domain"
	"github.com/tandemshop/tandem/internal/metrics"
	"github.com/tandemshop/tandem/internal/protocol"
	"github.com/tandemshop/tandem/internal/store"
)

func (ctl *Controller) handleCreate(ctx context.Context, cid domain.ClientID, c *wsConn, p *protocol.CreateSessionPayload) {
	sess, err := ctl.Store.Create(ctx, cid, p.Metadata)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("create session")
		ctl.replyError(c, "could not create session")
		return
	}

	name := domain.CleanName(p.UserName)
	if _, err := ctl.Store.AddParticipant(ctx, sess.ID, domain.Participant{ID: cid, Name: name}); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add host participant")
		ctl.replyError(c, "could not create session")
		return
	}
	ctl.Registry.Attach(cid, sess.ID, name)
	metrics.SessionsCreated.Inc()
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("session", string(sess.ID)).Msg("session created")

	ctl.reply(c, protocol.KindSessionCreated, protocol.SessionCreatedPayload{
		SessionID:  string(sess.ID),
		InviteLink: store.InviteLink(sess.ID, ctl.baseURL),
		ExpiresAt:  sess.ExpiresAt,
	})
}

func (ctl *Controller) handleJoin(ctx context.Context, cid domain.ClientID, c *wsConn, p *protocol.JoinSessionPayload) {
	sid := domain.SessionID(p.SessionID)
	name := domain.CleanName(p.UserName)

	if _, err := ctl.Store.AddParticipant(ctx, sid, domain.Participant{ID: cid, Name: name}); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			ctl.replyError(c, "session not found")
		} else {
			log.Error().Err(err).Str("module", "signal").Str("session", p.SessionID).Msg("join session")
			ctl.replyError(c, "could not join session")
		}
		return
	}
	ctl.Registry.Attach(cid, sid, name)
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("session", p.SessionID).Msg("joined session")

	ctl.broadcast(sid, cid, protocol.KindParticipantJoined, protocol.ParticipantJoinedPayload{
		UserID:   string(cid),
		UserName: name,
	})

	participants, err := ctl.Store.Participants(ctx, sid)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("session", p.SessionID).Msg("list participants")
	}
	infos := make([]protocol.ParticipantInfo, 0, len(participants))
	for _, part := range participants {
		infos = append(infos, protocol.ParticipantInfo{UserID: string(part.ID), UserName: part.Name})
	}
	ctl.reply(c, protocol.KindSessionJoined, protocol.SessionJoinedPayload{
		SessionID:    p.SessionID,
		Participants: infos,
	})

	if err := ctl.Store.RefreshTTL(ctx, sid); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("session", p.SessionID).Msg("refresh ttl")
	}
}

func (ctl *Controller) handleLeave(ctx context.Context, cid domain.ClientID, c *wsConn) {
	sid, ok := ctl.Registry.SessionOf(cid)
	if !ok {
		ctl.replyError(c, "not in a session")
		return
	}
	if err := ctl.Store.RemoveParticipant(ctx, sid, cid); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("remove participant")
	}
	ctl.Registry.Detach(cid)
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("session", string(sid)).Msg("left session")

	ctl.broadcast(sid, cid, protocol.KindParticipantLeft,
		protocol.ParticipantLeftPayload{UserID: string(cid)})
	ctl.reply(c, protocol.KindSessionLeft, protocol.SessionLeftPayload{SessionID: string(sid)})
}

func (ctl *Controller) handleSync(ctx context.Context, cid domain.ClientID, c *wsConn, p *protocol.SyncEventPayload) {
	sid, ok := ctl.Registry.SessionOf(cid)
	if !ok {
		ctl.replyError(c, "not in a session")
		return
	}

	ctl.broadcast(sid, cid, protocol.KindSyncEvent, protocol.SyncBroadcast{
		EventType: p.EventType,
		SourceID:  string(cid),
		Timestamp: serverTimestamp(),
		Fields:    p.Fields,
	})

	if err := ctl.Store.RefreshTTL(ctx, sid); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("session", string(sid)).Msg("refresh ttl")
	}
}

func (ctl *Controller) handleHeartbeat(ctx context.Context, cid domain.ClientID, c *wsConn) {
	if sid, ok := ctl.Registry.SessionOf(cid); ok {
		if err := ctl.Store.RefreshTTL(ctx, sid); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("session", string(sid)).Msg("refresh ttl")
		}
	}
	ctl.reply(c, protocol.KindHeartbeatAck, protocol.HeartbeatAckPayload{Timestamp: serverTimestamp()})
}
