//go:build darwin

package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// CoreBluetooth applies its own dial timeout; the connect context bounds it.
func newDevice(time.Duration) (ble.Device, error) {
	return darwin.NewDevice()
}
