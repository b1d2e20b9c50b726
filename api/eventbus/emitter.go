package eventbus

import (
	"sync"

	"github.com/cskr/pubsub/v2"
)

// EventHandler publishes events to topics and subscribes to them.
type EventHandler interface {
	// Publish publishes an event to the event stream.
	Publish(id uint, name string, data any)

	// Subscribe subscribes to an event from the event stream.
	Subscribe(id uint, name string) SubscriberID
}

// Subscriber channels buffer this many events. Events are dropped for
// subscribers whose buffer is full.
const eventBufferSize = 16

var emitter struct {
	handler EventHandler
	sync.RWMutex
}

func init() {
	RegisterEventHandler(DefaultHandler())
}

// RegisterEventHandler replaces the event handler used by Publish and Subscribe.
func RegisterEventHandler(eh EventHandler) {
	if eh == nil {
		return
	}

	emitter.Lock()
	defer emitter.Unlock()

	emitter.handler = eh
}

// DisableEvents drops every published event. Subscriptions made afterwards
// receive a closed channel.
func DisableEvents() {
	RegisterEventHandler(NilHandler())
}

// Publish sends data to the subscribers of the topic. Events without a topic are dropped.
func Publish(id EventID, data any) {
	if id == nil || id.Value() == 0 {
		return
	}

	handler().Publish(id.Value(), id.String(), data)
}

// Subscribe returns a subscription to the topic. Subscribing without a topic
// returns a closed channel.
func Subscribe(id EventID) SubscriberID {
	if id == nil || id.Value() == 0 {
		return NilHandler().Subscribe(0, "")
	}

	return handler().Subscribe(id.Value(), id.String())
}

func handler() EventHandler {
	emitter.RLock()
	defer emitter.RUnlock()

	return emitter.handler
}

// busHandler delivers events through an in-process publisher.
type busHandler struct {
	bus *pubsub.PubSub[uint, any]
}

// DefaultHandler returns an in-process event handler.
func DefaultHandler() EventHandler {
	return &busHandler{bus: pubsub.New[uint, any](eventBufferSize)}
}

func (b *busHandler) Publish(id uint, _ string, data any) {
	b.bus.TryPub(data, id)
}

func (b *busHandler) Subscribe(id uint, _ string) SubscriberID {
	ch := b.bus.Sub(id)

	return SubscriberID{
		C:      ch,
		active: true,
		// Synchronous: the channel is closed only after every event published
		// before the call is delivered, so a reader draining C until it is closed
		// sees all of them.
		unsub: func() { b.bus.Unsub(ch, id) },
	}
}

// nilHandler drops events.
type nilHandler struct{}

// NilHandler returns an event handler which drops every event.
func NilHandler() EventHandler {
	return nilHandler{}
}

func (nilHandler) Publish(uint, string, any) {}

func (nilHandler) Subscribe(uint, string) SubscriberID {
	ch := make(chan any)
	close(ch)

	return SubscriberID{C: ch}
}
