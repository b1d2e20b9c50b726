package bluetooth

import (
	"context"

	"github.com/agardelein/textoter/api/config"
)

// Phone describes a messaging session with phones reachable over Bluetooth.
type Phone interface {
	// Start attempts to connect to the system's Bluetooth and OBEX daemons.
	Start(cfg config.Configuration) error

	// Stop releases the connections opened by Start.
	Stop() error

	// Devices returns the list of devices known to the Bluetooth daemon.
	Devices(ctx context.Context) ([]DeviceData, error)

	// SendMessage pushes a message to the outbox of the device, and reports whether
	// the device accepted it into its outbound queue. If a channel is provided, the
	// service discovery step is skipped.
	SendMessage(ctx context.Context, address MacAddress, message Message, channel ...uint8) (bool, error)

	// Contacts retrieves the main phonebook of the device.
	Contacts(ctx context.Context, address MacAddress, channel ...uint8) ([]ContactRecord, error)

	// PhonebookEntries lists the entries of the main phonebook of the device.
	PhonebookEntries(ctx context.Context, address MacAddress, channel ...uint8) ([]PhonebookEntry, error)

	// Channel returns the channel last used for a capability on a device.
	Channel(address MacAddress, target Capability) (uint8, bool)
}
