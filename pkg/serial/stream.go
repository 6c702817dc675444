package serial

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
	"github.com/srg/bleserial/internal/device"
)

// DefaultStreamBuffer is the inbound buffer size of a Stream.
const DefaultStreamBuffer = 4096

// ErrStreamClosed is returned by Stream operations after Close.
var ErrStreamClosed = errors.New("serial stream closed")

// Stream is an io.ReadWriteCloser over a Device. It installs itself as the
// Device's handler and forwards every notification to next.
//
// Read returns buffered inbound bytes and blocks while the buffer is empty.
// Bytes that do not fit the buffer are dropped and counted. After the link
// goes down Read drains the buffer and then returns io.EOF.
type Stream struct {
	dev  *Device
	next DeviceHandler
	reg  *Registration
	buf  *ringbuffer.RingBuffer

	readable chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error

	dropped atomic.Uint64
}

// NewStream attaches a Stream to d. size <= 0 uses DefaultStreamBuffer; next may be nil.
func NewStream(d *Device, size int, next DeviceHandler) *Stream {
	if size <= 0 {
		size = DefaultStreamBuffer
	}
	if next == nil {
		next = NopDeviceHandler{}
	}
	s := &Stream{
		dev:      d,
		next:     next,
		buf:      ringbuffer.New(size),
		readable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.reg = d.SetHandler(s)
	return s
}

// Device returns the underlying Device.
func (s *Stream) Device() *Device { return s.dev }

// Dropped reports how many inbound bytes were discarded because the buffer was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := s.buf.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}

		select {
		case <-s.readable:
		case <-s.done:
			// a final notification may have landed before done closed
			if n, _ := s.buf.Read(p); n > 0 {
				return n, nil
			}
			return 0, s.closeErr()
		}
	}
}

// Write queues p on the Device. It fails when the Device is not connected;
// link-level write failures arrive as OperationFailed on next.
func (s *Stream) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, s.closeErr()
	default:
	}
	if s.dev.State() != StateConnected {
		return 0, device.ErrNotConnected
	}
	s.dev.WriteData(p)
	return len(p), nil
}

// Close detaches the Stream and disconnects the Device.
func (s *Stream) Close() error {
	s.finish(ErrStreamClosed)
	s.reg.Cancel()
	s.dev.Disconnect()
	return nil
}

func (s *Stream) finish(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}

func (s *Stream) closeErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) signal() {
	select {
	case s.readable <- struct{}{}:
	default:
	}
}

// DeviceHandler implementation

func (s *Stream) Connected(d *Device) { s.next.Connected(d) }

func (s *Stream) ConnectFailed(d *Device, err error) {
	s.finish(err)
	s.next.ConnectFailed(d, err)
}

func (s *Stream) Disconnected(d *Device) {
	s.finish(io.EOF)
	s.next.Disconnected(d)
}

func (s *Stream) VendorNameRead(d *Device, name string) { s.next.VendorNameRead(d, name) }
func (s *Stream) RSSIUpdated(d *Device, rssi int)       { s.next.RSSIUpdated(d, rssi) }

func (s *Stream) DataReceived(d *Device, data []byte) {
	n, _ := s.buf.Write(data)
	if n < len(data) {
		s.dropped.Add(uint64(len(data) - n))
	}
	if n > 0 {
		s.signal()
	}
	s.next.DataReceived(d, data)
}

func (s *Stream) OperationFailed(d *Device, op Operation, err error) {
	s.next.OperationFailed(d, op, err)
}
