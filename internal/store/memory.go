package store

import (
	"context"
	"sync"
	"time"

	"github.com/tandemshop/tandem/internal/domain"
)

type memSession struct {
	session      domain.Session
	participants []domain.Participant
}

// Memory is the fallback store used when redis is unreachable at startup.
// Entries never expire on their own; hosts that care can call Sweep
// periodically, otherwise records live for the process lifetime.
type Memory struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[domain.SessionID]*memSession
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, sessions: make(map[domain.SessionID]*memSession)}
}

func (s *Memory) Create(_ context.Context, hostID domain.ClientID, metadata map[string]any) (*domain.Session, error) {
	now := time.Now()
	sess := domain.Session{
		ID:        domain.NewSessionID(),
		HostID:    hostID,
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = &memSession{session: sess}
	s.mu.Unlock()
	return &sess, nil
}

func (s *Memory) Get(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess := entry.session
	return &sess, nil
}

func (s *Memory) AddParticipant(_ context.Context, id domain.SessionID, p domain.Participant) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	found := false
	for i := range entry.participants {
		if entry.participants[i].ID == p.ID {
			found = true
			if p.Name != "" {
				entry.participants[i].Name = p.Name
			}
			break
		}
	}
	if !found {
		entry.participants = append(entry.participants, p)
	}
	entry.session.ExpiresAt = time.Now().Add(s.ttl)
	sess := entry.session
	return &sess, nil
}

func (s *Memory) RemoveParticipant(_ context.Context, id domain.SessionID, pid domain.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil
	}
	kept := entry.participants[:0]
	for _, p := range entry.participants {
		if p.ID != pid {
			kept = append(kept, p)
		}
	}
	entry.participants = kept
	if len(entry.participants) == 0 {
		delete(s.sessions, id)
	}
	return nil
}

func (s *Memory) RefreshTTL(_ context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	entry.session.ExpiresAt = time.Now().Add(s.ttl)
	return nil
}

func (s *Memory) Participants(_ context.Context, id domain.SessionID) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]domain.Participant, len(entry.participants))
	copy(out, entry.participants)
	return out, nil
}

// Sweep drops sessions whose expiry has passed and reports how many went.
func (s *Memory) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, entry := range s.sessions {
		if entry.session.ExpiresAt.Before(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
