package client

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/protocol"
)

// Topic keys event subscriptions on the engine.
type Topic string

const (
	TopicSync              Topic = "sync"
	TopicParticipantJoined Topic = "participant_joined"
	TopicParticipantLeft   Topic = "participant_left"
	TopicSignal            Topic = "signal"
	TopicState             Topic = "state"
	TopicError             Topic = "error"
)

// Event is one delivery to a subscriber. The field matching the topic is
// set, the rest are zero.
type Event struct {
	Topic       Topic
	Sync        *protocol.SyncBroadcast
	Participant *protocol.ParticipantInfo
	Signal      *protocol.SignalPayload
	State       State
	Err         error
}

type Handler func(Event)

// bus is a typed publish/subscribe table. Listener invocation is isolated:
// a panicking listener does not suppress delivery to the others.
type bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic]map[int]Handler
}

func newBus() *bus {
	return &bus{subs: make(map[Topic]map[int]Handler)}
}

// subscribe registers a handler and returns its remover.
func (b *bus) subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

func (b *bus) publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Topic]))
	for _, h := range b.subs[e.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("module", "client").Str("topic", string(e.Topic)).
						Interface("panic", r).Msg("recovered listener panic")
				}
			}()
			h(e)
		}()
	}
}
