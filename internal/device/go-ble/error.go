package goble

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/srg/bleserial/internal/device"
)

// CoreBluetooth CBManagerState values reported by go-ble's darwin central.
const (
	cbStateUnknown      = 0
	cbStateResetting    = 1
	cbStateUnsupported  = 2
	cbStateUnauthorized = 3
	cbStatePoweredOff   = 4
)

var invalidStateRe = regexp.MustCompile(`invalid state: have=(\d+)`)

// NormalizeError maps known go-ble, CoreBluetooth and HCI error strings to the
// device sentinels. It ensures consistent handling even if the upstream library
// changes messages slightly. Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, device.ErrBluetoothOff) ||
		errors.Is(err, device.ErrUnauthorized) ||
		errors.Is(err, device.ErrUnsupported) ||
		errors.Is(err, device.ErrNotConnected) {
		return err
	}

	msg := err.Error()
	if m := invalidStateRe.FindStringSubmatch(msg); m != nil {
		state, _ := strconv.Atoi(m[1])
		switch state {
		case cbStateUnsupported:
			return fmt.Errorf("%w: %v", device.ErrUnsupported, err)
		case cbStateUnauthorized:
			return fmt.Errorf("%w: %v", device.ErrUnauthorized, err)
		case cbStateUnknown, cbStateResetting, cbStatePoweredOff:
			return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
		}
	}

	switch {
	case errors.Is(err, os.ErrPermission),
		containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "permission denied"),
		containsIgnoreCase(msg, "not authorized"):
		return fmt.Errorf("%w: %v", device.ErrUnauthorized, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "network is down"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "can't init hci"),
		containsIgnoreCase(msg, "no such device"),
		containsIgnoreCase(msg, "not supported"):
		return fmt.Errorf("%w: %v", device.ErrUnsupported, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
