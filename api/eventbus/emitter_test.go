package eventbus

import (
	"testing"
	"time"

	"github.com/agardelein/textoter/api/bluetooth"
)

func TestEmitReceive(t *testing.T) {
	sub := Subscribe(bluetooth.EventTransfer)
	defer sub.Unsubscribe()

	Emit(bluetooth.EventTransfer, bluetooth.EventActionUpdated, bluetooth.TransferData{
		Path:   "/org/bluez/obex/client/session0/transfer0",
		Status: bluetooth.TransferActive,
	})

	select {
	case v := <-sub.C:
		ev, ok := Receive[bluetooth.TransferData](v)
		if !ok {
			t.Fatalf("unexpected event type %T", v)
		}
		if ev.ID != bluetooth.EventTransfer || ev.Action != bluetooth.EventActionUpdated || ev.Data.Status != bluetooth.TransferActive {
			t.Fatalf("unexpected event: %+v", ev)
		}

		if _, ok := Receive[bluetooth.SessionData](v); ok {
			t.Fatalf("expected a type mismatch")
		}

	case <-time.After(time.Second):
		t.Fatalf("event not received")
	}
}

func TestSubscribeNoneIsClosed(t *testing.T) {
	sub := Subscribe(bluetooth.EventNone)
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected a closed channel")
	}

	sub.Unsubscribe()
}

func TestDisableEvents(t *testing.T) {
	DisableEvents()
	defer RegisterEventHandler(DefaultHandler())

	sub := Subscribe(bluetooth.EventMessage)
	Emit(bluetooth.EventMessage, bluetooth.EventActionAdded, bluetooth.MessageEventData{Number: "1"})

	if _, ok := <-sub.C; ok {
		t.Fatalf("expected no events while disabled")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	sub := Subscribe(bluetooth.EventSession)
	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatalf("unexpected event after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after unsubscribe")
	}
}
