package rtc

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateBufferQueuesUntilOpen(t *testing.T) {
	var b candidateBuffer
	var applied []string
	apply := func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		return nil
	}

	require.NoError(t, b.Add(webrtc.ICECandidateInit{Candidate: "one"}, apply))
	require.NoError(t, b.Add(webrtc.ICECandidateInit{Candidate: "two"}, apply))
	assert.Empty(t, applied, "nothing may be applied before the remote description")
	assert.Equal(t, 2, b.Pending())

	require.NoError(t, b.Open(apply))
	assert.Equal(t, []string{"one", "two"}, applied, "queued candidates replay in arrival order")
	assert.Zero(t, b.Pending())
}

func TestCandidateBufferAppliesDirectlyOnceOpen(t *testing.T) {
	var b candidateBuffer
	require.NoError(t, b.Open(func(webrtc.ICECandidateInit) error { return nil }))

	var applied int
	require.NoError(t, b.Add(webrtc.ICECandidateInit{Candidate: "late"}, func(webrtc.ICECandidateInit) error {
		applied++
		return nil
	}))
	assert.Equal(t, 1, applied)
	assert.Zero(t, b.Pending())
}

func TestCandidateBufferPropagatesApplyErrors(t *testing.T) {
	var b candidateBuffer
	boom := errors.New("pc closed")

	require.NoError(t, b.Add(webrtc.ICECandidateInit{Candidate: "one"}, nil))
	assert.ErrorIs(t, b.Open(func(webrtc.ICECandidateInit) error { return boom }), boom)

	assert.ErrorIs(t, b.Add(webrtc.ICECandidateInit{Candidate: "two"}, func(webrtc.ICECandidateInit) error {
		return boom
	}), boom)
}
