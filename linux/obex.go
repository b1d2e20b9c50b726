//go:build linux

package linux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/agardelein/textoter/api/config"
	"github.com/agardelein/textoter/api/errorkinds"
	"github.com/agardelein/textoter/api/eventbus"
	"github.com/godbus/dbus/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Session describes an open OBEX session with a device.
// A session is only usable until it is closed by its Manager.
type Session struct {
	bluetooth.SessionData

	id       int64
	closed   atomic.Bool
	cleanups []func()
}

// ID returns the identifier of the session, unique for its manager.
func (s *Session) ID() int64 {
	return s.id
}

// Closed reports whether the session was closed.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// check returns an error if the session cannot be used.
func (s *Session) check() error {
	if s == nil || s.closed.Load() {
		return fault.Wrap(errorkinds.ErrSessionNotExist,
			ftag.With(ftag.InvalidArgument),
			fmsg.With("The session is not open"),
		)
	}

	return nil
}

// onClose registers a function which is run when the session is closed.
func (s *Session) onClose(fn func()) {
	s.cleanups = append(s.cleanups, fn)
}

type channelKey struct {
	address bluetooth.MacAddress
	target  string
}

// Manager opens and closes OBEX sessions. Only one session can be open at a time.
type Manager struct {
	caller   Caller
	resolver ChannelResolver
	cfg      config.Configuration

	active *Session

	id       *xsync.Counter
	channels *xsync.MapOf[channelKey, uint8]

	sync.Mutex
}

// NewManager returns a session manager which calls the OBEX daemon through caller,
// and finds unknown channels with resolver.
func NewManager(caller Caller, resolver ChannelResolver, cfg config.Configuration) *Manager {
	return &Manager{
		caller:   caller,
		resolver: resolver,
		cfg:      cfg.WithDefaults(),
		id:       xsync.NewCounter(),
		channels: xsync.NewMapOf[channelKey, uint8](),
	}
}

// Open creates a session with the device for the target service. If a channel
// is provided it is used as is, otherwise the channel is resolved first.
//
// Opening a session while another one is open returns errorkinds.ErrSessionActive.
// If no channel could be found, errorkinds.ErrServiceNotFound is returned and no
// session is attempted. A device which cannot be reached returns
// errorkinds.ErrSessionCreate.
func (m *Manager) Open(ctx context.Context, address bluetooth.MacAddress, target bluetooth.Capability, channel ...uint8) (*Session, error) {
	m.Lock()
	defer m.Unlock()

	if m.active != nil {
		return nil, fault.Wrap(errorkinds.ErrSessionActive,
			fctx.With(ctx, "error_at", "open-session", "active", m.active.Path),
			ftag.With(ftag.AlreadyExists),
			fmsg.With("A session is already open"),
		)
	}

	var ch uint8
	if len(channel) > 0 {
		ch = channel[0]
	} else {
		resolved, err := m.resolver.ResolveChannel(ctx, address, target)
		if err != nil {
			return nil, err
		}

		ch = resolved
	}

	var path dbus.ObjectPath
	err := method{
		dest:    obexBusName,
		path:    obexPath,
		name:    obexClientIface + ".CreateSession",
		timeout: m.cfg.CallTimeout,
	}.callWith(ctx, m.caller, []any{
		address.String(),
		map[string]dbus.Variant{
			"Target":  dbus.MakeVariant(target.Target),
			"Channel": dbus.MakeVariant(ch),
		},
	}, &path)
	if err != nil {
		log.Info().
			Str("address", address.String()).
			Str("service", target.Name).
			Uint8("channel", ch).
			Msg("Cannot create session")

		return nil, fault.Wrap(fmt.Errorf("%w: %w", errorkinds.ErrSessionCreate, err),
			fctx.With(ctx, "error_at", "create-session", "address", address.String()),
			ftag.With(ftag.Internal),
			fmsg.WithDesc("cannot create session", "No connection with phone"),
		)
	}

	m.id.Inc()
	session := &Session{
		SessionData: bluetooth.SessionData{
			Path:    string(path),
			Address: address,
			Channel: ch,
			Target:  target,
		},
		id: m.id.Value(),
	}

	m.active = session
	m.channels.Store(channelKey{address, target.Target}, ch)

	log.Debug().
		Int64("session", session.ID()).
		Str("path", session.Path).
		Str("service", target.Name).
		Uint8("channel", ch).
		Msg("Session created")
	eventbus.Emit(bluetooth.EventSession, bluetooth.EventActionAdded, session.SessionData)

	return session, nil
}

// Close removes the session. Closing a nil or already closed session does nothing.
// Files produced by transfers of the session are not valid anymore once it is closed.
func (m *Manager) Close(ctx context.Context, session *Session) error {
	if session == nil || !session.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.Lock()
	if m.active == session {
		m.active = nil
	}
	m.Unlock()

	// The session must be removed even if the caller's context is done.
	ctx = context.WithoutCancel(ctx)

	err := method{
		dest:    obexBusName,
		path:    obexPath,
		name:    obexClientIface + ".RemoveSession",
		timeout: m.cfg.CallTimeout,
	}.callWith(ctx, m.caller, []any{dbus.ObjectPath(session.Path)})

	for i := len(session.cleanups) - 1; i >= 0; i-- {
		session.cleanups[i]()
	}
	session.cleanups = nil

	eventbus.Emit(bluetooth.EventSession, bluetooth.EventActionRemoved, session.SessionData)

	if err != nil {
		log.Warn().Err(err).Int64("session", session.ID()).Str("path", session.Path).Msg("Cannot remove session")
		return fault.Wrap(err,
			fctx.With(ctx, "error_at", "remove-session", "path", session.Path),
		)
	}

	return nil
}

// WithSession opens a session, calls fn with it and closes it on every return path.
func (m *Manager) WithSession(
	ctx context.Context,
	address bluetooth.MacAddress,
	target bluetooth.Capability,
	fn func(*Session) error,
	channel ...uint8,
) error {
	session, err := m.Open(ctx, address, target, channel...)
	if err != nil {
		return err
	}
	defer m.Close(ctx, session)

	return fn(session)
}

// Active returns the open session, if any.
func (m *Manager) Active() *Session {
	m.Lock()
	defer m.Unlock()

	return m.active
}

// Channel returns the channel last used to open a session for the target
// service on the device.
func (m *Manager) Channel(address bluetooth.MacAddress, target bluetooth.Capability) (uint8, bool) {
	return m.channels.Load(channelKey{address, target.Target})
}
