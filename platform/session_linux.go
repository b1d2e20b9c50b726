//go:build linux

package platform

import (
	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/agardelein/textoter/linux"
)

// Session returns a platform-specific phone session handler.
func Session() (bluetooth.Phone, PlatformInfo) {
	return &linux.BluezSession{}, NewPlatformInfo(BluezStack)
}
