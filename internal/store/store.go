// Package store holds the session repository: CRUD plus TTL management
// over session records, behind one interface with two interchangeable
// backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// Repository is the session store contract. Implementations are selected
// once at construction and injected; the choice is never re-evaluated at
// runtime.
type Repository interface {
	Create(ctx context.Context, hostID domain.ClientID, metadata map[string]any) (*domain.Session, error)
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	AddParticipant(ctx context.Context, id domain.SessionID, p domain.Participant) (*domain.Session, error)
	// RemoveParticipant deletes the session entirely once the last
	// participant is gone.
	RemoveParticipant(ctx context.Context, id domain.SessionID, pid domain.ClientID) error
	RefreshTTL(ctx context.Context, id domain.SessionID) error
	Participants(ctx context.Context, id domain.SessionID) ([]domain.Participant, error)
}

// InviteLink builds the onboarding URL for a session.
func InviteLink(id domain.SessionID, baseURL string) string {
	return fmt.Sprintf("%s/join/%s", strings.TrimRight(baseURL, "/"), id)
}

// Select picks the backend once at process start: redis when reachable,
// otherwise the in-memory fallback. The degradation is logged exactly once
// and a backend that becomes reachable later is not adopted.
func Select(ctx context.Context, addr, password string, ttl time.Duration) Repository {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("module", "store").Str("addr", addr).
			Msg("redis unreachable, falling back to in-memory session store")
		_ = rdb.Close()
		return NewMemory(ttl)
	}
	log.Info().Str("module", "store").Str("addr", addr).Msg("using redis session store")
	return NewRedis(rdb, ttl)
}
