package rtc

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/protocol"
)

// PeerState tracks one remote participant's connection.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerNegotiating
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	}
	return "new"
}

// Peer wraps the pion connection to one remote participant: negotiation
// state, candidate buffering, bounded ICE restarts and the stats poller.
type Peer struct {
	id string
	pc *webrtc.PeerConnection
	m  *Manager

	mu       sync.Mutex
	state    PeerState
	buf      candidateBuffer
	restarts int
	restart  *time.Timer
	stopped  chan struct{}
	once     sync.Once

	// senders by media kind, kept so a muted (nil) track can be restored
	senders map[webrtc.RTPCodecType][]*webrtc.RTPSender
}

func (p *Peer) addSender(kind webrtc.RTPCodecType, s *webrtc.RTPSender) {
	p.mu.Lock()
	if p.senders == nil {
		p.senders = make(map[webrtc.RTPCodecType][]*webrtc.RTPSender)
	}
	p.senders[kind] = append(p.senders[kind], s)
	p.mu.Unlock()
}

func (p *Peer) sendersOf(kind webrtc.RTPCodecType) []*webrtc.RTPSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*webrtc.RTPSender, len(p.senders[kind]))
	copy(out, p.senders[kind])
	return out
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s PeerState) {
	p.mu.Lock()
	if p.state == s || p.state == PeerClosed {
		p.mu.Unlock()
		return
	}
	p.state = s
	p.mu.Unlock()
	if p.m.cfg.OnPeerState != nil {
		p.m.cfg.OnPeerState(p.id, s)
	}
}

func (p *Peer) bind() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := p.m.signaler.SendSignal(p.id, protocol.Signal{Type: "candidate", Candidate: raw}); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", p.id).Msg("send candidate")
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", p.id).Str("state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			p.mu.Lock()
			p.restarts = 0
			p.mu.Unlock()
			p.setState(PeerConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			p.scheduleRestart()
		case webrtc.PeerConnectionStateClosed:
			p.m.dropPeer(p.id)
		}
	})
}

// scheduleRestart arms a delayed ICE restart; after the attempt budget is
// spent the peer is torn down and the failure surfaced.
func (p *Peer) scheduleRestart() {
	p.mu.Lock()
	if p.state == PeerClosed || p.restart != nil {
		p.mu.Unlock()
		return
	}
	if p.restarts >= p.m.cfg.MaxRestarts {
		p.mu.Unlock()
		p.m.failPeer(p.id, ErrICEFailed)
		return
	}
	p.restarts++
	p.restart = time.AfterFunc(p.m.cfg.RestartDelay, func() {
		p.mu.Lock()
		p.restart = nil
		closed := p.state == PeerClosed
		p.mu.Unlock()
		if closed {
			return
		}
		if err := p.iceRestart(); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", p.id).Msg("ice restart")
			p.scheduleRestart()
		}
	})
	p.mu.Unlock()
}

func (p *Peer) iceRestart() error {
	p.setState(PeerNegotiating)
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return p.m.signaler.SendSignal(p.id, protocol.Signal{Type: "offer", SDP: offer.SDP})
}

// setRemote applies the remote description and replays buffered
// candidates.
func (p *Peer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	return p.buf.Open(p.pc.AddICECandidate)
}

func (p *Peer) addCandidate(c webrtc.ICECandidateInit) error {
	return p.buf.Add(c, p.pc.AddICECandidate)
}

// statsLoop polls connection statistics and the outbound audio level until
// the peer closes.
func (p *Peer) statsLoop() {
	t := time.NewTicker(p.m.cfg.StatsInterval)
	defer t.Stop()
	for {
		select {
		case <-p.stopped:
			return
		case <-t.C:
			report := p.pc.GetStats()
			stats := Stats{PeerID: p.id, Report: report}
			for _, s := range report {
				switch v := s.(type) {
				case webrtc.AudioSourceStats:
					stats.AudioLevel = v.AudioLevel
				case webrtc.ICECandidatePairStats:
					if v.State == webrtc.StatsICECandidatePairStateSucceeded {
						stats.RoundTripTime = v.CurrentRoundTripTime
					}
				}
			}
			if p.m.cfg.OnStats != nil {
				p.m.cfg.OnStats(stats)
			}
		}
	}
}

// close releases the pion connection, the restart timer and the stats
// poller. Idempotent.
func (p *Peer) close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.state = PeerClosed
		if p.restart != nil {
			p.restart.Stop()
			p.restart = nil
		}
		p.mu.Unlock()
		close(p.stopped)
		if err := p.pc.Close(); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", p.id).Msg("close peer")
		}
		if p.m.cfg.OnPeerState != nil {
			p.m.cfg.OnPeerState(p.id, PeerClosed)
		}
	})
}
