package serial

import "sync"

// ScannerHandler receives Scanner notifications on the delivery queue.
type ScannerHandler interface {
	ScanFailed(s *Scanner, err *Error)
	ScanStarted(s *Scanner)
	DeviceFound(s *Scanner, d *Device)
}

// DeviceHandler receives Device notifications on the delivery queue.
type DeviceHandler interface {
	Connected(d *Device)
	// ConnectFailed carries a *ConnectError.
	ConnectFailed(d *Device, err error)
	Disconnected(d *Device)
	VendorNameRead(d *Device, name string)
	RSSIUpdated(d *Device, rssi int)
	// DataReceived owns data.
	DataReceived(d *Device, data []byte)
	OperationFailed(d *Device, op Operation, err error)
}

// NopScannerHandler can be embedded to implement only part of ScannerHandler.
type NopScannerHandler struct{}

func (NopScannerHandler) ScanFailed(*Scanner, *Error)   {}
func (NopScannerHandler) ScanStarted(*Scanner)          {}
func (NopScannerHandler) DeviceFound(*Scanner, *Device) {}

// NopDeviceHandler can be embedded to implement only part of DeviceHandler.
type NopDeviceHandler struct{}

func (NopDeviceHandler) Connected(*Device)                         {}
func (NopDeviceHandler) ConnectFailed(*Device, error)              {}
func (NopDeviceHandler) Disconnected(*Device)                      {}
func (NopDeviceHandler) VendorNameRead(*Device, string)            {}
func (NopDeviceHandler) RSSIUpdated(*Device, int)                  {}
func (NopDeviceHandler) DataReceived(*Device, []byte)              {}
func (NopDeviceHandler) OperationFailed(*Device, Operation, error) {}

// ScannerHandlerFuncs adapts plain functions to ScannerHandler. Nil fields are ignored.
type ScannerHandlerFuncs struct {
	OnScanFailed  func(s *Scanner, err *Error)
	OnScanStarted func(s *Scanner)
	OnDeviceFound func(s *Scanner, d *Device)
}

func (f ScannerHandlerFuncs) ScanFailed(s *Scanner, err *Error) {
	if f.OnScanFailed != nil {
		f.OnScanFailed(s, err)
	}
}

func (f ScannerHandlerFuncs) ScanStarted(s *Scanner) {
	if f.OnScanStarted != nil {
		f.OnScanStarted(s)
	}
}

func (f ScannerHandlerFuncs) DeviceFound(s *Scanner, d *Device) {
	if f.OnDeviceFound != nil {
		f.OnDeviceFound(s, d)
	}
}

// DeviceHandlerFuncs adapts plain functions to DeviceHandler. Nil fields are ignored.
type DeviceHandlerFuncs struct {
	OnConnected       func(d *Device)
	OnConnectFailed   func(d *Device, err error)
	OnDisconnected    func(d *Device)
	OnVendorNameRead  func(d *Device, name string)
	OnRSSIUpdated     func(d *Device, rssi int)
	OnDataReceived    func(d *Device, data []byte)
	OnOperationFailed func(d *Device, op Operation, err error)
}

func (f DeviceHandlerFuncs) Connected(d *Device) {
	if f.OnConnected != nil {
		f.OnConnected(d)
	}
}

func (f DeviceHandlerFuncs) ConnectFailed(d *Device, err error) {
	if f.OnConnectFailed != nil {
		f.OnConnectFailed(d, err)
	}
}

func (f DeviceHandlerFuncs) Disconnected(d *Device) {
	if f.OnDisconnected != nil {
		f.OnDisconnected(d)
	}
}

func (f DeviceHandlerFuncs) VendorNameRead(d *Device, name string) {
	if f.OnVendorNameRead != nil {
		f.OnVendorNameRead(d, name)
	}
}

func (f DeviceHandlerFuncs) RSSIUpdated(d *Device, rssi int) {
	if f.OnRSSIUpdated != nil {
		f.OnRSSIUpdated(d, rssi)
	}
}

func (f DeviceHandlerFuncs) DataReceived(d *Device, data []byte) {
	if f.OnDataReceived != nil {
		f.OnDataReceived(d, data)
	}
}

func (f DeviceHandlerFuncs) OperationFailed(d *Device, op Operation, err error) {
	if f.OnOperationFailed != nil {
		f.OnOperationFailed(d, op, err)
	}
}

// Registration ties a handler to a Scanner or Device until cancelled.
type Registration struct {
	once   sync.Once
	cancel func()
}

// Cancel detaches the handler. Notifications not yet delivered are dropped.
// Safe to call more than once.
func (r *Registration) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(r.cancel)
}

// handlerSlot holds at most one handler. Installing a new handler replaces
// the old one; cancelling a stale Registration leaves the newer one alone.
type handlerSlot[H any] struct {
	mu  sync.Mutex
	h   H
	set bool
	gen uint64
}

func (s *handlerSlot[H]) install(h H) *Registration {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.h, s.set = h, true
	s.mu.Unlock()

	return &Registration{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen == gen {
			var zero H
			s.h, s.set = zero, false
		}
	}}
}

func (s *handlerSlot[H]) get() (H, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h, s.set
}
