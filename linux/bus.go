//go:build linux

package linux

import (
	"context"
	"fmt"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/ftag"
	"github.com/agardelein/textoter/api/errorkinds"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	dbusIntrospectable = "org.freedesktop.DBus.Introspectable"
	dbusProperties     = "org.freedesktop.DBus.Properties"
	dbusObjectManager  = "org.freedesktop.DBus.ObjectManager"

	bluezBusName     = "org.bluez"
	bluezRootPath    = dbus.ObjectPath("/org/bluez")
	bluezDeviceIface = "org.bluez.Device1"

	obexBusName        = "org.bluez.obex"
	obexPath           = dbus.ObjectPath("/org/bluez/obex")
	obexClientIface    = "org.bluez.obex.Client1"
	obexMessageIface   = "org.bluez.obex.MessageAccess1"
	obexPhonebookIface = "org.bluez.obex.PhonebookAccess1"
	obexTransferIface  = "org.bluez.obex.Transfer1"
)

// Caller issues blocking method calls on a message bus.
// The call is bounded by the deadline of the provided context.
type Caller interface {
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) *dbus.Call
}

// busCaller calls methods on objects of a D-Bus connection.
type busCaller struct {
	conn *dbus.Conn
}

// Call calls a method on the object at path, owned by dest.
func (b busCaller) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
	return b.conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
}

// method describes a method call on a bus object.
type method struct {
	dest    string
	path    dbus.ObjectPath
	name    string
	timeout time.Duration
}

// callWith calls the method and stores its reply into the provided values.
// Transport errors and reply type mismatches are logged and returned
// as errorkinds.ErrMethodCall.
func (m method) callWith(ctx context.Context, c Caller, args []any, reply ...any) error {
	callctx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc

		callctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	call := c.Call(callctx, m.dest, m.path, m.name, args...)

	err := call.Err
	if err == nil && len(reply) > 0 {
		err = call.Store(reply...)
	}
	if err == nil {
		return nil
	}

	log.Debug().
		Err(err).
		Str("method", m.name).
		Str("path", string(m.path)).
		Msg("Method call failed")

	return fault.Wrap(fmt.Errorf("%w: %w", errorkinds.ErrMethodCall, err),
		fctx.With(ctx, "method", m.name, "path", string(m.path)),
		ftag.With(ftag.Internal),
	)
}

// variantString returns the string held by a property, or an empty string.
func variantString(props map[string]dbus.Variant, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}

	s, _ := v.Value().(string)

	return s
}
