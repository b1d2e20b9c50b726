//go:build !linux

package platform

import (
	"context"

	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/agardelein/textoter/api/config"
	"github.com/agardelein/textoter/api/errorkinds"
)

// Session returns a platform-specific phone session handler.
// Only the BlueZ OBEX daemon is supported, so every call fails on other platforms.
func Session() (bluetooth.Phone, PlatformInfo) {
	return unsupported{}, NewPlatformInfo(UnsupportedStack)
}

type unsupported struct{}

func (unsupported) Start(config.Configuration) error {
	return errorkinds.ErrNotSupported
}

func (unsupported) Stop() error {
	return errorkinds.ErrNotSupported
}

func (unsupported) Devices(context.Context) ([]bluetooth.DeviceData, error) {
	return nil, errorkinds.ErrNotSupported
}

func (unsupported) SendMessage(context.Context, bluetooth.MacAddress, bluetooth.Message, ...uint8) (bool, error) {
	return false, errorkinds.ErrNotSupported
}

func (unsupported) Contacts(context.Context, bluetooth.MacAddress, ...uint8) ([]bluetooth.ContactRecord, error) {
	return nil, errorkinds.ErrNotSupported
}

func (unsupported) PhonebookEntries(context.Context, bluetooth.MacAddress, ...uint8) ([]bluetooth.PhonebookEntry, error) {
	return nil, errorkinds.ErrNotSupported
}

func (unsupported) Channel(bluetooth.MacAddress, bluetooth.Capability) (uint8, bool) {
	return 0, false
}
