// Package rtc manages the client-side WebRTC peer connections: one pion
// connection per remote participant, fed by signal events from the sync
// engine.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/protocol"
)

var (
	ErrICEFailed    = errors.New("ice restart attempts exhausted")
	ErrNoActiveCall = errors.New("no active call")
)

// Signaler carries negotiation messages to a remote peer; the sync engine
// satisfies it.
type Signaler interface {
	SendSignal(targetID string, sig protocol.Signal) error
}

// MediaSource yields the local tracks shared by every peer connection.
// Acquisition may fail (permission denied).
type MediaSource interface {
	Tracks(ctx context.Context) ([]webrtc.TrackLocal, error)
}

// Stats is one poll of a peer's connection statistics.
type Stats struct {
	PeerID        string
	AudioLevel    float64
	RoundTripTime float64
	Report        webrtc.StatsReport
}

type Config struct {
	ICEServers    []webrtc.ICEServer
	RestartDelay  time.Duration
	MaxRestarts   int
	StatsInterval time.Duration

	OnStats     func(Stats)
	OnPeerState func(peerID string, s PeerState)
	// OnError surfaces negotiation failures as typed events; the call is
	// only torn down after ICE restarts are exhausted.
	OnError func(peerID string, err error)
}

func (c *Config) defaults() {
	if c.RestartDelay <= 0 {
		c.RestartDelay = 3 * time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 3
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 2 * time.Second
	}
	if len(c.ICEServers) == 0 {
		c.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
}

type Manager struct {
	cfg      Config
	signaler Signaler
	media    MediaSource

	mu     sync.Mutex
	peers  map[string]*Peer
	tracks []webrtc.TrackLocal
	active bool
}

func NewManager(signaler Signaler, media MediaSource, cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:      cfg,
		signaler: signaler,
		media:    media,
		peers:    make(map[string]*Peer),
	}
}

// StartCall acquires local media and offers to every listed peer.
func (m *Manager) StartCall(ctx context.Context, peerIDs []string) error {
	tracks, err := m.media.Tracks(ctx)
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}
	m.mu.Lock()
	m.tracks = tracks
	m.active = true
	m.mu.Unlock()

	for _, id := range peerIDs {
		p, created, err := m.ensurePeer(id)
		if err != nil {
			m.surfaceError(id, err)
			continue
		}
		if created {
			if err := m.attachTracks(p); err != nil {
				m.surfaceError(id, err)
				continue
			}
		}
		if err := m.offer(p); err != nil {
			m.surfaceError(id, err)
		}
	}
	return nil
}

// EndCall closes every peer and releases the shared local tracks.
func (m *Manager) EndCall() {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.peers = make(map[string]*Peer)
	m.tracks = nil
	m.active = false
	m.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

// HandleSignal feeds one relayed negotiation message into the peer state
// machine. An offer from an unknown peer creates that peer implicitly.
func (m *Manager) HandleSignal(sourceID string, sig protocol.Signal) {
	switch sig.Type {
	case "offer":
		m.handleOffer(sourceID, sig)
	case "answer":
		m.handleAnswer(sourceID, sig)
	case "candidate":
		m.handleCandidate(sourceID, sig)
	default:
		log.Warn().Str("module", "rtc").Str("type", sig.Type).Msg("unknown signal type")
	}
}

func (m *Manager) handleOffer(sourceID string, sig protocol.Signal) {
	p, created, err := m.ensurePeer(sourceID)
	if err != nil {
		m.surfaceError(sourceID, err)
		return
	}
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if created && active {
		if err := m.attachTracks(p); err != nil {
			m.surfaceError(sourceID, err)
			return
		}
	}

	p.setState(PeerNegotiating)
	if err := p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
		m.surfaceError(sourceID, fmt.Errorf("apply offer: %w", err))
		return
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		m.surfaceError(sourceID, err)
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		m.surfaceError(sourceID, err)
		return
	}
	if err := m.signaler.SendSignal(sourceID, protocol.Signal{Type: "answer", SDP: answer.SDP}); err != nil {
		m.surfaceError(sourceID, err)
	}
}

func (m *Manager) handleAnswer(sourceID string, sig protocol.Signal) {
	p, ok := m.peer(sourceID)
	if !ok {
		log.Warn().Str("module", "rtc").Str("peer", sourceID).Msg("answer from unknown peer")
		return
	}
	if err := p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}); err != nil {
		m.surfaceError(sourceID, fmt.Errorf("apply answer: %w", err))
	}
}

func (m *Manager) handleCandidate(sourceID string, sig protocol.Signal) {
	p, ok := m.peer(sourceID)
	if !ok {
		return
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(sig.Candidate, &init); err != nil {
		m.surfaceError(sourceID, fmt.Errorf("decode candidate: %w", err))
		return
	}
	if err := p.addCandidate(init); err != nil {
		m.surfaceError(sourceID, fmt.Errorf("add candidate: %w", err))
	}
}

// SetAudioEnabled mutes or unmutes the local audio senders on every peer
// by swapping the track out; no renegotiation happens.
func (m *Manager) SetAudioEnabled(enabled bool) error {
	return m.setKindEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

// SetVideoEnabled turns the local video senders on or off.
func (m *Manager) SetVideoEnabled(enabled bool) error {
	return m.setKindEnabled(webrtc.RTPCodecTypeVideo, enabled)
}

func (m *Manager) setKindEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	tracks := m.tracks
	m.mu.Unlock()

	repl := trackOfKind(tracks, kind)
	for _, p := range peers {
		for _, sender := range p.sendersOf(kind) {
			if enabled {
				if sender.Track() == nil && repl != nil {
					if err := sender.ReplaceTrack(repl); err != nil {
						return err
					}
				}
			} else if sender.Track() != nil {
				if err := sender.ReplaceTrack(nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ReplaceVideoTrack substitutes the outgoing video track on every peer,
// e.g. swapping the camera for a screen capture. Direct track
// replacement, not a new offer.
func (m *Manager) ReplaceVideoTrack(t webrtc.TrackLocal) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	for _, p := range peers {
		for _, sender := range p.sendersOf(webrtc.RTPCodecTypeVideo) {
			if err := sender.ReplaceTrack(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Peers lists the known remote participant ids.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

func (m *Manager) peer(id string) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	return p, ok
}

func (m *Manager) ensurePeer(id string) (*Peer, bool, error) {
	m.mu.Lock()
	if p, ok := m.peers[id]; ok {
		m.mu.Unlock()
		return p, false, nil
	}
	m.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, false, fmt.Errorf("new peer connection: %w", err)
	}
	p := &Peer{id: id, pc: pc, m: m, stopped: make(chan struct{})}
	p.bind()
	go p.statsLoop()

	m.mu.Lock()
	if existing, ok := m.peers[id]; ok {
		m.mu.Unlock()
		p.close()
		return existing, false, nil
	}
	m.peers[id] = p
	m.mu.Unlock()
	log.Info().Str("module", "rtc").Str("peer", id).Msg("peer created")
	return p, true, nil
}

func (m *Manager) attachTracks(p *Peer) error {
	m.mu.Lock()
	tracks := m.tracks
	m.mu.Unlock()
	for _, t := range tracks {
		sender, err := p.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add track: %w", err)
		}
		p.addSender(t.Kind(), sender)
	}
	return nil
}

func (m *Manager) offer(p *Peer) error {
	p.setState(PeerNegotiating)
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return m.signaler.SendSignal(p.id, protocol.Signal{Type: "offer", SDP: offer.SDP})
}

func (m *Manager) dropPeer(id string) {
	m.mu.Lock()
	p, ok := m.peers[id]
	if ok {
		delete(m.peers, id)
	}
	m.mu.Unlock()
	if ok {
		p.close()
	}
}

// failPeer tears a peer down after its restart budget is spent.
func (m *Manager) failPeer(id string, err error) {
	m.surfaceError(id, err)
	m.dropPeer(id)
}

func (m *Manager) surfaceError(id string, err error) {
	log.Error().Err(err).Str("module", "rtc").Str("peer", id).Msg("negotiation error")
	if m.cfg.OnError != nil {
		m.cfg.OnError(id, err)
	}
}

func trackOfKind(tracks []webrtc.TrackLocal, kind webrtc.RTPCodecType) webrtc.TrackLocal {
	for _, t := range tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}
