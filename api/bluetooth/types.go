package bluetooth

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MacAddress holds a Bluetooth device address.
type MacAddress [6]byte

// ParseMAC parses a colon separated Bluetooth address.
func ParseMAC(address string) (MacAddress, error) {
	var mac MacAddress

	hw, err := net.ParseMAC(strings.TrimSpace(address))
	if err != nil {
		return mac, err
	}
	if len(hw) != len(mac) {
		return mac, fmt.Errorf("invalid bluetooth address: %q", address)
	}

	copy(mac[:], hw)

	return mac, nil
}

// String converts a MacAddress to the upper-case form used by BlueZ.
func (m MacAddress) String() string {
	return strings.ToUpper(net.HardwareAddr(m[:]).String())
}

// IsNil reports whether the address is unset.
func (m MacAddress) IsNil() bool {
	return m == MacAddress{}
}

// DeviceData describes a known remote device.
type DeviceData struct {
	Address MacAddress `json:"address"`
	Name    string     `json:"name,omitempty"`
}

// The Bluetooth base UUID, which 16 and 32-bit service identifiers expand into.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// ServiceUUID expands a 16 or 32-bit assigned number into a full service UUID.
func ServiceUUID(short uint32) uuid.UUID {
	u := baseUUID
	u[0] = byte(short >> 24)
	u[1] = byte(short >> 16)
	u[2] = byte(short >> 8)
	u[3] = byte(short)

	return u
}

// ParseServiceUUID parses either a hex encoded short identifier ("0x1132")
// or a full UUID string.
func ParseServiceUUID(value string) (uuid.UUID, error) {
	value = strings.TrimSpace(value)

	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		short, err := strconv.ParseUint(value[2:], 16, 32)
		if err != nil {
			return uuid.Nil, err
		}

		return ServiceUUID(uint32(short)), nil
	}

	return uuid.Parse(value)
}

// Capability describes an OBEX service which a session can be opened for.
type Capability struct {
	// Name is the human-readable name of the capability.
	Name string `json:"name"`

	// Target is the session target understood by obexd.
	Target string `json:"target"`

	// UUID is the service class advertised by the device.
	UUID uuid.UUID `json:"uuid"`
}

var (
	// MessageAccess is the Message Access Server service.
	MessageAccess = Capability{Name: "message-access", Target: "map", UUID: ServiceUUID(0x1132)}

	// PhonebookAccess is the Phonebook Access Server service.
	PhonebookAccess = Capability{Name: "phonebook-access", Target: "pbap", UUID: ServiceUUID(0x112f)}
)

// CapabilityByName returns a known capability from its name or target.
func CapabilityByName(name string) (Capability, bool) {
	for _, c := range []Capability{MessageAccess, PhonebookAccess} {
		if name == c.Name || name == c.Target {
			return c, true
		}
	}

	return Capability{}, false
}

// String returns the capability name.
func (c Capability) String() string {
	return c.Name
}

// SessionData describes an open OBEX session.
type SessionData struct {
	Path    string     `json:"path"`
	Address MacAddress `json:"address"`
	Channel uint8      `json:"channel"`
	Target  Capability `json:"target"`
}

// TransferStatus describes the state of an OBEX transfer.
type TransferStatus string

const (
	TransferQueued    TransferStatus = "queued"
	TransferActive    TransferStatus = "active"
	TransferSuspended TransferStatus = "suspended"
	TransferComplete  TransferStatus = "complete"
	TransferError     TransferStatus = "error"
)

// Pending reports whether the transfer has not finished yet.
func (t TransferStatus) Pending() bool {
	switch t {
	case TransferQueued, TransferActive, TransferSuspended:
		return true
	}

	return false
}

// TransferData describes an OBEX transfer.
// Filename is only valid while the session that created the transfer is open.
type TransferData struct {
	Path     string         `json:"path"`
	Status   TransferStatus `json:"status"`
	Filename string         `json:"filename,omitempty"`
}

// Message describes an outgoing text message.
type Message struct {
	Number string `json:"number"`
	Body   string `json:"body"`
}

// ContactRecord describes a single phonebook entry parsed from a vCard.
type ContactRecord struct {
	FormattedName string   `json:"name"`
	Telephones    []string `json:"telephones,omitempty"`
}

// Labels returns one "Name (number)" label per telephone number.
func (c ContactRecord) Labels() []string {
	labels := make([]string, 0, len(c.Telephones))
	for _, tel := range c.Telephones {
		labels = append(labels, c.FormattedName+" ("+tel+")")
	}

	return labels
}

// PhonebookEntry describes an entry returned by a phonebook listing.
type PhonebookEntry struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
}

// MarshalText implements encoding.TextMarshaler.
func (m MacAddress) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MacAddress) UnmarshalText(text []byte) error {
	mac, err := ParseMAC(string(text))
	if err != nil {
		return err
	}

	*m = mac

	return nil
}
