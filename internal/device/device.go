package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultMTU is the ATT MTU every link starts with before an exchange.
	DefaultMTU = 23

	// MaxMTU is the largest ATT MTU a central may request.
	MaxMTU = 517

	// ATTHeaderSize is the per-write overhead subtracted from the MTU.
	ATTHeaderSize = 3
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Connection state sentinels
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Radio capability sentinels. Platform adapters wrap their native errors
// with one of these so callers can classify them with errors.Is.
var (
	ErrUnsupported  = errors.New("bluetooth low energy is not supported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnauthorized = errors.New("bluetooth access is not authorized")
)

// ErrStackClosed is returned by a Central that has been stopped.
var ErrStackClosed = errors.New("bluetooth stack closed")

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Property is a GATT characteristic property bit set. Values match the
// Bluetooth Core specification and go-ble's ble.Property.
type Property int

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropSignedWrite
	PropExtended
)

// Has reports whether all bits of q are set in p.
func (p Property) Has(q Property) bool {
	return p&q == q
}

func (p Property) String() string {
	names := []struct {
		bit  Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
		{PropSignedWrite, "signed-write"},
		{PropExtended, "extended"},
	}
	var parts []string
	for _, n := range names {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// Advertisement is one advertising report received while scanning.
type Advertisement interface {
	Addr() string
	LocalName() string
	Services() []string // normalized service UUIDs
	ManufacturerData() []byte
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
}

// ScanningDevice represents a BLE device capable of scanning for advertisements.
// Scan blocks until ctx is done or the stack fails.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Central is the local radio: it scans and opens links to peripherals.
type Central interface {
	ScanningDevice

	// Dial opens a link-level connection. It blocks until the link is up,
	// the stack fails, or ctx is done.
	Dial(ctx context.Context, address string) (Client, error)

	// Stop releases the radio.
	Stop() error
}

// Characteristic is a discovered GATT characteristic handle.
type Characteristic interface {
	UUID() string
	Properties() Property
}

// Client is a connected peripheral. Methods block until the stack answers.
type Client interface {
	Address() string

	// DiscoverCharacteristics discovers service and the requested
	// characteristics in it. A missing service or characteristic is a
	// *NotFoundError.
	DiscoverCharacteristics(service string, uuids []string) ([]Characteristic, error)

	ReadCharacteristic(c Characteristic) ([]byte, error)
	WriteCharacteristic(c Characteristic, value []byte, noRsp bool) error

	// Subscribe enables notifications on c. handler is invoked by the stack,
	// sequentially, for every notification.
	Subscribe(c Characteristic, handler func([]byte)) error

	ReadRSSI() int
	ExchangeMTU(rxMTU int) (txMTU int, err error)

	CancelConnection() error

	// Disconnected is closed when the link goes down for any reason.
	Disconnected() <-chan struct{}
}
