//go:build linux

package linux

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/agardelein/textoter/api/errorkinds"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog/log"
)

// Registry lists the devices known to the Bluetooth daemon.
type Registry struct {
	caller  Caller
	timeout time.Duration
}

// NewRegistry returns a registry which calls the Bluetooth daemon through caller.
func NewRegistry(caller Caller, timeout time.Duration) *Registry {
	return &Registry{caller: caller, timeout: timeout}
}

// Devices returns the address and name of every known device.
// A device without a name is listed with an empty name.
func (r *Registry) Devices(ctx context.Context) (map[bluetooth.MacAddress]string, error) {
	devices, err := r.managedDevices(ctx)
	if err == nil {
		return devices, nil
	}

	log.Debug().Err(err).Msg("Cannot get managed objects, introspecting adapters")

	devices, ierr := r.introspectedDevices(ctx)
	if ierr != nil {
		return nil, fault.Wrap(fmt.Errorf("%w: %w", errorkinds.ErrLocatorUnavailable, ierr),
			fctx.With(ctx, "error_at", "list-devices"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot list devices"),
		)
	}

	return devices, nil
}

// managedDevices lists devices through the object manager of the daemon.
func (r *Registry) managedDevices(ctx context.Context) (map[bluetooth.MacAddress]string, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

	err := method{
		dest:    bluezBusName,
		path:    "/",
		name:    dbusObjectManager + ".GetManagedObjects",
		timeout: r.timeout,
	}.callWith(ctx, r.caller, nil, &objects)
	if err != nil {
		return nil, err
	}

	devices := make(map[bluetooth.MacAddress]string)
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDeviceIface]
		if !ok {
			continue
		}

		addDevice(devices, path, props)
	}

	return devices, nil
}

// introspectedDevices lists the devices of the first adapter by walking the
// object tree of the daemon.
func (r *Registry) introspectedDevices(ctx context.Context) (map[bluetooth.MacAddress]string, error) {
	root, err := r.introspect(ctx, bluezRootPath)
	if err != nil {
		return nil, err
	}

	var adapter string
	for _, child := range root.Children {
		if strings.HasPrefix(child.Name, "hci") {
			adapter = child.Name
			break
		}
	}

	devices := make(map[bluetooth.MacAddress]string)
	if adapter == "" {
		return devices, nil
	}

	adapterPath := bluezRootPath + dbus.ObjectPath("/"+adapter)
	node, err := r.introspect(ctx, adapterPath)
	if err != nil {
		return nil, err
	}

	for _, child := range node.Children {
		if !strings.HasPrefix(child.Name, "dev") {
			continue
		}

		path := adapterPath + dbus.ObjectPath("/"+child.Name)

		var props map[string]dbus.Variant
		err := method{
			dest:    bluezBusName,
			path:    path,
			name:    dbusProperties + ".GetAll",
			timeout: r.timeout,
		}.callWith(ctx, r.caller, []any{bluezDeviceIface}, &props)
		if err != nil {
			log.Debug().Err(err).Str("path", string(path)).Msg("Skipping device without properties")
			continue
		}

		addDevice(devices, path, props)
	}

	return devices, nil
}

func (r *Registry) introspect(ctx context.Context, path dbus.ObjectPath) (*introspect.Node, error) {
	var data string

	err := method{
		dest:    bluezBusName,
		path:    path,
		name:    dbusIntrospectable + ".Introspect",
		timeout: r.timeout,
	}.callWith(ctx, r.caller, nil, &data)
	if err != nil {
		return nil, err
	}

	var node introspect.Node
	if err := xml.NewDecoder(strings.NewReader(data)).Decode(&node); err != nil {
		return nil, err
	}

	return &node, nil
}

func addDevice(devices map[bluetooth.MacAddress]string, path dbus.ObjectPath, props map[string]dbus.Variant) {
	address, err := bluetooth.ParseMAC(variantString(props, "Address"))
	if err != nil || address.IsNil() {
		log.Debug().Err(err).Str("path", string(path)).Msg("Skipping device with invalid address")
		return
	}

	devices[address] = variantString(props, "Name")
}
