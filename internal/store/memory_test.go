package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemshop/tandem/internal/domain"
)

func newTestStore() *Memory {
	return NewMemory(1800 * time.Second)
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	meta := map[string]any{"shop": "demo", "page": "/products/1"}
	created, err := s.Create(ctx, "host-1", meta)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.ExpiresAt.After(created.CreatedAt), "expiry must be strictly after creation")

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, domain.ClientID("host-1"), got.HostID)
	assert.Equal(t, meta, got.Metadata)
}

func TestCreateUniqueIDs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	seen := make(map[domain.SessionID]bool)
	for i := 0; i < 50; i++ {
		sess, err := s.Create(ctx, "host", nil)
		require.NoError(t, err)
		require.False(t, seen[sess.ID], "duplicate session id %s", sess.ID)
		seen[sess.ID] = true
	}
}

func TestGetUnknownSession(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestParticipantCountFollowsJoinsAndLeaves(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	sess, err := s.Create(ctx, "host", nil)
	require.NoError(t, err)

	joins := []domain.ClientID{"a", "b", "c", "d"}
	for _, id := range joins {
		_, err := s.AddParticipant(ctx, sess.ID, domain.Participant{ID: id})
		require.NoError(t, err)
	}
	parts, err := s.Participants(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 4)

	require.NoError(t, s.RemoveParticipant(ctx, sess.ID, "b"))
	require.NoError(t, s.RemoveParticipant(ctx, sess.ID, "d"))
	parts, err = s.Participants(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestAddParticipantIsIdempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	sess, err := s.Create(ctx, "host", nil)
	require.NoError(t, err)

	_, err = s.AddParticipant(ctx, sess.ID, domain.Participant{ID: "a", Name: "Ann"})
	require.NoError(t, err)
	_, err = s.AddParticipant(ctx, sess.ID, domain.Participant{ID: "a", Name: "Ann again"})
	require.NoError(t, err)

	parts, err := s.Participants(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "Ann again", parts[0].Name)
}

func TestAddParticipantUnknownSession(t *testing.T) {
	s := newTestStore()
	_, err := s.AddParticipant(context.Background(), "missing", domain.Participant{ID: "a"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestParticipantsKeepJoinOrder(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	sess, err := s.Create(ctx, "host", nil)
	require.NoError(t, err)
	for _, id := range []domain.ClientID{"z", "a", "m"} {
		_, err := s.AddParticipant(ctx, sess.ID, domain.Participant{ID: id})
		require.NoError(t, err)
	}
	parts, err := s.Participants(ctx, sess.ID)
	require.NoError(t, err)
	got := make([]domain.ClientID, 0, len(parts))
	for _, p := range parts {
		got = append(got, p.ID)
	}
	assert.Equal(t, []domain.ClientID{"z", "a", "m"}, got)
}

func TestSessionDeletedWhenLastParticipantLeaves(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	sess, err := s.Create(ctx, "host", nil)
	require.NoError(t, err)
	_, err = s.AddParticipant(ctx, sess.ID, domain.Participant{ID: "a"})
	require.NoError(t, err)
	_, err = s.AddParticipant(ctx, sess.ID, domain.Participant{ID: "b"})
	require.NoError(t, err)

	require.NoError(t, s.RemoveParticipant(ctx, sess.ID, "a"))
	_, err = s.Get(ctx, sess.ID)
	require.NoError(t, err, "session must survive while participants remain")

	require.NoError(t, s.RemoveParticipant(ctx, sess.ID, "b"))
	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshTTLExtendsExpiry(t *testing.T) {
	s := NewMemory(time.Hour)
	ctx := context.Background()

	sess, err := s.Create(ctx, "host", nil)
	require.NoError(t, err)
	before := sess.ExpiresAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.RefreshTTL(ctx, sess.ID))
	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.After(before))

	err = s.RefreshTTL(ctx, "missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestSweepDropsExpiredOnly(t *testing.T) {
	s := NewMemory(time.Millisecond)
	ctx := context.Background()

	old, err := s.Create(ctx, "host", nil)
	require.NoError(t, err)

	swept := s.Sweep(time.Now().Add(time.Second))
	assert.Equal(t, 1, swept)
	_, err = s.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInviteLink(t *testing.T) {
	assert.Equal(t, "https://shop.example/join/abc",
		InviteLink("abc", "https://shop.example/"))
	assert.Equal(t, "https://shop.example/join/abc",
		InviteLink("abc", "https://shop.example"))
}
