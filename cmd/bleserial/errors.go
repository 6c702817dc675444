package main

import (
	"errors"
	"fmt"

	"github.com/srg/bleserial/internal/device"
	"github.com/srg/bleserial/pkg/serial"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE link went down while a command was using it.
	// This is distinct from a ConnectError, which means the link was never established.
	ErrConnectionLost = errors.New("connection lost")

	// ErrDeviceNotFound indicates the requested address did not advertise a serial
	// service before the scan timeout.
	ErrDeviceNotFound = errors.New("device not found")
)

// FormatUserError turns library errors into a single line with a hint where one helps.
func FormatUserError(err error) string {
	var serr *serial.Error
	var cerr *serial.ConnectError
	var nf *device.NotFoundError

	switch {
	case errors.Is(err, serial.ErrBluetoothTurnedOff):
		return "Bluetooth is turned off; power the adapter on and retry"
	case errors.Is(err, serial.ErrUnauthorized):
		return "not authorized to use Bluetooth; grant access (macOS: Privacy & Security > Bluetooth, Linux: run with CAP_NET_ADMIN)"
	case errors.Is(err, serial.ErrBLENotSupported):
		return "no Bluetooth Low Energy adapter is available on this host"
	case errors.As(err, &serr):
		return fmt.Sprintf("scan failed: %v", serr.Cause)
	case errors.As(err, &cerr) && errors.As(cerr.Cause, &nf):
		return fmt.Sprintf("%s does not expose the serial profile: %v", cerr.Address, nf)
	case errors.As(err, &cerr):
		return cerr.Error()
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Sprintf("%v (use 'bleserial scan' to list nearby serial devices)", err)
	default:
		return err.Error()
	}
}
