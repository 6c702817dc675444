//go:build linux

package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

var scanParams = cmd.LESetScanParameters{
	LEScanType:           1,    // Active scanning
	LEScanInterval:       0x10, // 10ms
	LEScanWindow:         0x10, // 10ms
	OwnAddressType:       0,    // Static
	ScanningFilterPolicy: 0,    // Accept all
}

func newDevice(dialTimeout time.Duration) (ble.Device, error) {
	return linux.NewDevice(ble.OptDialerTimeout(dialTimeout), ble.OptScanParams(scanParams))
}
