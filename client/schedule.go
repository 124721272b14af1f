package client

import (
	"sync"
	"time"
)

// task is a cancellable scheduled callback. A manual Disconnect cancels a
// pending reconnect deterministically through its handle.
type task struct {
	mu       sync.Mutex
	timer    *time.Timer
	canceled bool
}

func schedule(d time.Duration, fn func()) *task {
	t := &task{}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.canceled {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		fn()
	})
	return t
}

// Cancel stops the task if it has not fired yet.
func (t *task) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
	t.timer.Stop()
}
