package bluetooth

// EventID describes the kind of an emitted event.
type EventID uint

const (
	EventNone EventID = iota
	EventSession
	EventTransfer
	EventMessage
)

// EventAction describes what happened to the object an event refers to.
type EventAction string

const (
	EventActionAdded   EventAction = "added"
	EventActionUpdated EventAction = "updated"
	EventActionRemoved EventAction = "removed"
)

// Value returns the numeric topic of the event.
func (e EventID) Value() uint {
	return uint(e)
}

// String returns the name of the event.
func (e EventID) String() string {
	switch e {
	case EventSession:
		return "session"
	case EventTransfer:
		return "transfer"
	case EventMessage:
		return "message"
	}

	return "none"
}

// Event describes an emitted event with its payload.
type Event[T Events] struct {
	ID     EventID     `json:"event_id"`
	Action EventAction `json:"event_action"`
	Data   T           `json:"event"`
}

// Events lists the payloads which can be carried by an Event.
type Events interface {
	SessionData | TransferData | MessageEventData
}

// MessageEventData describes the outcome of a message submission.
type MessageEventData struct {
	Address MacAddress `json:"address"`
	Number  string     `json:"number"`
	Queued  bool       `json:"queued"`
}
