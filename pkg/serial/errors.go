package serial

import (
	"errors"
	"fmt"

	"github.com/srg/bleserial/internal/device"
)

// ErrorDomain identifies scan errors for consumers that bridge to
// domain/code error models.
const ErrorDomain = "BLESerialErrorDomain"

// Kind classifies a scan failure.
type Kind int

const (
	KindBLENotSupported Kind = iota
	KindBluetoothTurnedOff
	KindUnauthorized
	// KindScanFailed covers stack failures outside the capability classes.
	KindScanFailed
)

func (k Kind) String() string {
	switch k {
	case KindBLENotSupported:
		return "BLENotSupported"
	case KindBluetoothTurnedOff:
		return "BluetoothTurnedOff"
	case KindUnauthorized:
		return "Unauthorized"
	case KindScanFailed:
		return "ScanFailed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a scan failure: a Kind plus the stack error that caused it.
type Error struct {
	Kind  Kind
	Cause error
}

// Kind sentinels for errors.Is.
var (
	ErrBLENotSupported    = &Error{Kind: KindBLENotSupported}
	ErrBluetoothTurnedOff = &Error{Kind: KindBluetoothTurnedOff}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrScanFailed         = &Error{Kind: KindScanFailed}
)

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindBLENotSupported:
		msg = "bluetooth low energy is not supported on this host"
	case KindBluetoothTurnedOff:
		msg = "bluetooth is turned off"
	case KindUnauthorized:
		msg = "bluetooth use is not authorized"
	default:
		msg = "scan failed"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Domain returns ErrorDomain.
func (e *Error) Domain() string { return ErrorDomain }

// Code returns the stable numeric code of the Kind.
func (e *Error) Code() int { return int(e.Kind) }

// classifyScanError maps a stack error to a scan Error.
func classifyScanError(err error) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	switch {
	case errors.Is(err, device.ErrUnsupported):
		return &Error{Kind: KindBLENotSupported, Cause: err}
	case errors.Is(err, device.ErrBluetoothOff):
		return &Error{Kind: KindBluetoothTurnedOff, Cause: err}
	case errors.Is(err, device.ErrUnauthorized):
		return &Error{Kind: KindUnauthorized, Cause: err}
	default:
		return &Error{Kind: KindScanFailed, Cause: err}
	}
}

// ConnectError is delivered with ConnectFailed.
type ConnectError struct {
	Address string
	Cause   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to device with address %q: %v", e.Address, e.Cause)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// Operation names a Device request reported by OperationFailed.
type Operation string

const (
	OpWriteData      Operation = "write_data"
	OpReadVendorName Operation = "read_vendor_name"
	OpUpdateRSSI     Operation = "update_rssi"
)
