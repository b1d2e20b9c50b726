package eventbus

import (
	"github.com/agardelein/textoter/api/bluetooth"
)

// EventID describes an event topic.
type EventID interface {
	Value() uint
	String() string
}

// SubscriberID holds a subscription to an event topic.
type SubscriberID struct {
	C <-chan any

	active bool
	unsub  func()
}

// Unsubscribe stops the subscription. The channel is closed afterwards.
func (s *SubscriberID) Unsubscribe() {
	if !s.active || s.unsub == nil {
		return
	}

	s.active = false
	s.unsub()
}

// Emit publishes a typed event to its topic.
func Emit[T bluetooth.Events](id bluetooth.EventID, action bluetooth.EventAction, data T) {
	Publish(id, bluetooth.Event[T]{ID: id, Action: action, Data: data})
}

// Receive converts a value received from a subscription into a typed event.
func Receive[T bluetooth.Events](v any) (bluetooth.Event[T], bool) {
	ev, ok := v.(bluetooth.Event[T])
	return ev, ok
}
