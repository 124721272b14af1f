package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// candidateBuffer holds ICE candidates that arrive before the remote
// description is set. Applying them immediately would fail, so they are
// queued and replayed once SetRemoteDescription lands.
type candidateBuffer struct {
	mu      sync.Mutex
	ready   bool
	pending []webrtc.ICECandidateInit
}

// Add applies the candidate through fn when the buffer is open, otherwise
// queues it.
func (b *candidateBuffer) Add(c webrtc.ICECandidateInit, fn func(webrtc.ICECandidateInit) error) error {
	b.mu.Lock()
	if !b.ready {
		b.pending = append(b.pending, c)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return fn(c)
}

// Open marks the remote description as set and replays what was queued.
func (b *candidateBuffer) Open(fn func(webrtc.ICECandidateInit) error) error {
	b.mu.Lock()
	b.ready = true
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (b *candidateBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
