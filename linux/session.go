//go:build linux

package linux

import (
	"context"
	"slices"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/agardelein/textoter/api/codec"
	"github.com/agardelein/textoter/api/config"
	"github.com/agardelein/textoter/api/errorkinds"
	"github.com/agardelein/textoter/api/eventbus"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

// BluezSession talks to phones through the BlueZ Bluetooth and OBEX daemons.
type BluezSession struct {
	systemBus  *dbus.Conn
	sessionBus *dbus.Conn

	registry  *Registry
	sessions  *Manager
	transfers *Orchestrator

	sync.Mutex
}

// Start connects to the system bus, where the Bluetooth daemon lives, and to the
// session bus, where the OBEX daemon lives.
func (b *BluezSession) Start(cfg config.Configuration) error {
	b.Lock()
	defer b.Unlock()

	if b.sessions != nil {
		return nil
	}

	systemBus, err := dbus.ConnectSystemBus()
	if err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "connect-system-bus"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot connect to the system bus"),
		)
	}

	sessionBus, err := dbus.ConnectSessionBus()
	if err != nil {
		systemBus.Close()

		return fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "connect-session-bus"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot connect to the session bus"),
		)
	}

	b.systemBus, b.sessionBus = systemBus, sessionBus
	b.setup(cfg, busCaller{systemBus}, busCaller{sessionBus}, sdptool{path: cfg.WithDefaults().SdptoolPath})

	return nil
}

// setup builds the session components on top of the provided callers.
func (b *BluezSession) setup(cfg config.Configuration, system, session Caller, scanner Scanner) {
	cfg = cfg.WithDefaults()

	b.registry = NewRegistry(system, cfg.CallTimeout)
	b.sessions = NewManager(session, NewLocator(scanner), cfg)
	b.transfers = NewOrchestrator(session, b.sessions, cfg)
}

// Stop closes any open OBEX session and disconnects from the buses.
func (b *BluezSession) Stop() error {
	b.Lock()
	defer b.Unlock()

	if b.sessions == nil {
		return errorkinds.ErrSessionNotExist
	}

	err := b.sessions.Close(context.Background(), b.sessions.Active())

	for _, conn := range []*dbus.Conn{b.sessionBus, b.systemBus} {
		if conn != nil {
			conn.Close()
		}
	}

	b.systemBus, b.sessionBus = nil, nil
	b.registry, b.sessions, b.transfers = nil, nil, nil

	return err
}

// Devices returns the devices known to the Bluetooth daemon, sorted by address.
func (b *BluezSession) Devices(ctx context.Context) ([]bluetooth.DeviceData, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	known, err := b.registry.Devices(ctx)
	if err != nil {
		return nil, err
	}

	devices := make([]bluetooth.DeviceData, 0, len(known))
	for address, name := range known {
		devices = append(devices, bluetooth.DeviceData{Address: address, Name: name})
	}
	slices.SortFunc(devices, func(a, b bluetooth.DeviceData) int {
		return slices.Compare(a.Address[:], b.Address[:])
	})

	return devices, nil
}

// SendMessage pushes a message to the outbox of the device, and reports whether
// the device accepted it into its outbound queue.
func (b *BluezSession) SendMessage(ctx context.Context, address bluetooth.MacAddress, message bluetooth.Message, channel ...uint8) (bool, error) {
	if err := b.check(); err != nil {
		return false, err
	}

	var queued bool
	err := b.sessions.WithSession(ctx, address, bluetooth.MessageAccess, func(s *Session) error {
		var err error

		queued, err = b.transfers.PushMessage(ctx, s, codec.EncodeMessage(message.Number, message.Body))
		if err != nil {
			log.Info().Err(err).Str("number", message.Number).Msg("Message failed")
		}

		// Not emitted when no session could be opened, the returned error reports it.
		eventbus.Emit(bluetooth.EventMessage, bluetooth.EventActionAdded, bluetooth.MessageEventData{
			Address: address,
			Number:  message.Number,
			Queued:  queued,
		})

		return err
	}, channel...)

	return queued, err
}

// Contacts retrieves the main phonebook of the device.
func (b *BluezSession) Contacts(ctx context.Context, address bluetooth.MacAddress, channel ...uint8) ([]bluetooth.ContactRecord, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	var records []bluetooth.ContactRecord
	err := b.sessions.WithSession(ctx, address, bluetooth.PhonebookAccess, func(s *Session) error {
		var err error

		records, err = b.transfers.PullPhonebook(ctx, s)
		return err
	}, channel...)

	return records, err
}

// PhonebookEntries lists the entries of the main phonebook of the device.
func (b *BluezSession) PhonebookEntries(ctx context.Context, address bluetooth.MacAddress, channel ...uint8) ([]bluetooth.PhonebookEntry, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	var entries []bluetooth.PhonebookEntry
	err := b.sessions.WithSession(ctx, address, bluetooth.PhonebookAccess, func(s *Session) error {
		var err error

		entries, err = b.transfers.ListPhonebook(ctx, s)
		return err
	}, channel...)

	return entries, err
}

// Channel returns the channel last used for the target service on the device.
func (b *BluezSession) Channel(address bluetooth.MacAddress, target bluetooth.Capability) (uint8, bool) {
	if b.check() != nil {
		return 0, false
	}

	return b.sessions.Channel(address, target)
}

func (b *BluezSession) check() error {
	b.Lock()
	defer b.Unlock()

	if b.sessions == nil {
		return fault.Wrap(errorkinds.ErrSessionNotExist,
			ftag.With(ftag.InvalidArgument),
			fmsg.With("The session was not started"),
		)
	}

	return nil
}
