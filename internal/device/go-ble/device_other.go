//go:build !darwin && !linux

package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/bleserial/internal/device"
)

func newDevice(time.Duration) (ble.Device, error) {
	return nil, device.ErrUnsupported
}
