package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// StaticSource serves pre-built local tracks. Embedding glue that owns
// real capture implements MediaSource itself; this one covers tests and
// headless hosts.
type StaticSource struct {
	tracks []webrtc.TrackLocal
}

func NewStaticSource(tracks ...webrtc.TrackLocal) *StaticSource {
	return &StaticSource{tracks: tracks}
}

func (s *StaticSource) Tracks(context.Context) ([]webrtc.TrackLocal, error) {
	return s.tracks, nil
}

// NewAudioTrack builds an opus sample track with the given ids.
func NewAudioTrack(id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, streamID)
}

// NewVideoTrack builds a VP8 sample track with the given ids.
func NewVideoTrack(id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, streamID)
}
