// Package app holds the connection registry: the per-process cache of
// live transports, independent of session membership.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/core"
	"github.com/tandemshop/tandem/internal/domain"
)

type connEntry struct {
	Conn      core.Conn
	SessionID domain.SessionID
	Name      string
	Cancel    context.CancelFunc
}

// Registry owns transport handles keyed by client identity. Session
// attachment is a weak back-reference set on join and cleared on leave.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ClientID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ClientID]*connEntry)}
}

func (r *Registry) Bind(cid domain.ClientID, conn core.Conn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[cid] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("bound connection")
}

func (r *Registry) Unbind(cid domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("unbound connection")
}

func (r *Registry) Get(cid domain.ClientID) (core.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Attach records the session a connection joined, plus its display name.
func (r *Registry) Attach(cid domain.ClientID, sid domain.SessionID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return false
	}
	e.SessionID = sid
	e.Name = name
	return true
}

func (r *Registry) Detach(cid domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[cid]; ok {
		e.SessionID = ""
	}
}

func (r *Registry) SessionOf(cid domain.ClientID) (domain.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok || e.SessionID == "" {
		return "", false
	}
	return e.SessionID, true
}

func (r *Registry) NameOf(cid domain.ClientID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.Name
	}
	return ""
}

type Snap struct {
	CID  domain.ClientID
	Conn core.Conn
}

// MembersOf returns a snapshot of the live connections attached to a
// session. Broadcasts iterate this snapshot, so a peer joining mid-flight
// can miss that specific message.
func (r *Registry) MembersOf(sid domain.SessionID) []Snap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snap, 0, len(r.conns))
	for cid, e := range r.conns {
		if e.SessionID == sid {
			out = append(out, Snap{CID: cid, Conn: e.Conn})
		}
	}
	return out
}

// Cancel aborts the pump goroutines of one connection.
func (r *Registry) Cancel(cid domain.ClientID) bool {
	r.mu.RLock()
	e, ok := r.conns[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
