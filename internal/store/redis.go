package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tandemshop/tandem/internal/domain"
)

// Redis keeps each session under three keys sharing one TTL:
// session:<id> holds the serialized record, session:<id>:participants the
// ordered identity list, session:<id>:users the identity to display-name
// pairs.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func sessionKey(id domain.SessionID) string      { return fmt.Sprintf("session:%s", id) }
func participantsKey(id domain.SessionID) string { return fmt.Sprintf("session:%s:participants", id) }
func usersKey(id domain.SessionID) string        { return fmt.Sprintf("session:%s:users", id) }

func (s *Redis) Create(ctx context.Context, hostID domain.ClientID, metadata map[string]any) (*domain.Session, error) {
	now := time.Now()
	sess := &domain.Session{
		ID:        domain.NewSessionID(),
		HostID:    hostID,
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

func (s *Redis) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// AddParticipant appends to the participant list unless the identity is
// already present. The membership check and the push are two round-trips,
// so two concurrent joins can race and one addition can be lost; this
// read-modify-write window is a documented limitation.
func (s *Redis) AddParticipant(ctx context.Context, id domain.SessionID, p domain.Participant) (*domain.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := s.rdb.LRange(ctx, participantsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	present := false
	for _, existing := range ids {
		if existing == string(p.ID) {
			present = true
			break
		}
	}
	if !present {
		if err := s.rdb.RPush(ctx, participantsKey(id), string(p.ID)).Err(); err != nil {
			return nil, fmt.Errorf("add participant: %w", err)
		}
	}
	if p.Name != "" {
		if err := s.rdb.HSet(ctx, usersKey(id), string(p.ID), p.Name).Err(); err != nil {
			return nil, fmt.Errorf("store participant name: %w", err)
		}
	}
	if err := s.RefreshTTL(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Redis) RemoveParticipant(ctx context.Context, id domain.SessionID, pid domain.ClientID) error {
	if err := s.rdb.LRem(ctx, participantsKey(id), 0, string(pid)).Err(); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	_ = s.rdb.HDel(ctx, usersKey(id), string(pid)).Err()

	n, err := s.rdb.LLen(ctx, participantsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("count participants: %w", err)
	}
	if n == 0 {
		return s.rdb.Del(ctx, sessionKey(id), participantsKey(id), usersKey(id)).Err()
	}
	return nil
}

func (s *Redis) RefreshTTL(ctx context.Context, id domain.SessionID) error {
	exists, err := s.rdb.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("refresh ttl: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}
	pipe := s.rdb.Pipeline()
	pipe.Expire(ctx, sessionKey(id), s.ttl)
	pipe.Expire(ctx, participantsKey(id), s.ttl)
	pipe.Expire(ctx, usersKey(id), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Redis) Participants(ctx context.Context, id domain.SessionID) ([]domain.Participant, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	ids, err := s.rdb.LRange(ctx, participantsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	names, err := s.rdb.HGetAll(ctx, usersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load participant names: %w", err)
	}
	out := make([]domain.Participant, 0, len(ids))
	for _, pid := range ids {
		out = append(out, domain.Participant{ID: domain.ClientID(pid), Name: names[pid]})
	}
	return out, nil
}
