package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/bleserial/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockCentral is a testify mock of device.Central.
//
// Scan records the call and, when the expectation returns no error, keeps the
// handler installed until ctx is done, the way a platform stack does. Tests
// feed advertisements through Advertise.
type MockCentral struct {
	mock.Mock

	mu       sync.Mutex
	handler  func(device.Advertisement)
	scanID   uint64
	scanning chan struct{}
}

func NewMockCentral() *MockCentral {
	return &MockCentral{scanning: make(chan struct{}, 16)}
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(ctx, allowDup)
	if err := args.Error(0); err != nil {
		return err
	}

	m.mu.Lock()
	m.scanID++
	id := m.scanID
	m.handler = handler
	m.mu.Unlock()

	select {
	case m.scanning <- struct{}{}:
	default:
	}

	<-ctx.Done()

	m.mu.Lock()
	if m.scanID == id {
		m.handler = nil
	}
	m.mu.Unlock()
	return ctx.Err()
}

// WaitScanning blocks until a Scan call has installed its handler.
func (m *MockCentral) WaitScanning(timeout time.Duration) bool {
	select {
	case <-m.scanning:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Advertise delivers adv to the running scan. It reports false when no scan is running.
func (m *MockCentral) Advertise(adv device.Advertisement) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(adv)
	return true
}

func (m *MockCentral) Dial(ctx context.Context, address string) (device.Client, error) {
	args := m.Called(ctx, address)
	client, _ := args.Get(0).(device.Client)
	return client, args.Error(1)
}

func (m *MockCentral) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockCharacteristic implements device.Characteristic.
type MockCharacteristic struct {
	ID    string
	Props device.Property
}

func (c *MockCharacteristic) UUID() string                { return c.ID }
func (c *MockCharacteristic) Properties() device.Property { return c.Props }

// DiscoverFunc lets an expectation compute DiscoverCharacteristics results from its arguments.
type DiscoverFunc func(service string, uuids []string) ([]device.Characteristic, error)

// MockClient is a testify mock of device.Client.
//
// Characteristic-taking methods pass the characteristic UUID to Called so
// expectations can match on it. CancelConnection and DropLink close the
// Disconnected channel.
type MockClient struct {
	mock.Mock

	Addr string

	mu      sync.Mutex
	notify  func([]byte)
	writes  [][]byte
	down    chan struct{}
	downOne sync.Once
}

func NewMockClient(address string) *MockClient {
	return &MockClient{Addr: address, down: make(chan struct{})}
}

func (m *MockClient) Address() string { return m.Addr }

func (m *MockClient) DiscoverCharacteristics(service string, uuids []string) ([]device.Characteristic, error) {
	args := m.Called(service, uuids)
	if fn, ok := args.Get(0).(DiscoverFunc); ok {
		return fn(service, uuids)
	}
	chars, _ := args.Get(0).([]device.Characteristic)
	return chars, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c device.Characteristic) ([]byte, error) {
	args := m.Called(c.UUID())
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c device.Characteristic, value []byte, noRsp bool) error {
	m.mu.Lock()
	m.writes = append(m.writes, append([]byte(nil), value...))
	m.mu.Unlock()
	args := m.Called(c.UUID(), value, noRsp)
	return args.Error(0)
}

func (m *MockClient) Subscribe(c device.Characteristic, handler func([]byte)) error {
	args := m.Called(c.UUID())
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.notify = handler
	m.mu.Unlock()
	return nil
}

func (m *MockClient) ReadRSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockClient) ExchangeMTU(rxMTU int) (int, error) {
	args := m.Called(rxMTU)
	return args.Int(0), args.Error(1)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	m.DropLink()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.down
}

// DropLink simulates the peripheral going away.
func (m *MockClient) DropLink() {
	m.downOne.Do(func() { close(m.down) })
}

// Notify delivers data on the subscribed characteristic. It reports false
// when nothing is subscribed.
func (m *MockClient) Notify(data []byte) bool {
	m.mu.Lock()
	h := m.notify
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Writes returns a copy of every value written so far, in order.
func (m *MockClient) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// MockAdvertisement implements device.Advertisement with plain fields.
type MockAdvertisement struct {
	Address       string
	Name          string
	ServiceIDs    []string
	ManufData     []byte
	TxPower       int
	IsConnectable bool
	Strength      int
}

func (a *MockAdvertisement) Addr() string             { return a.Address }
func (a *MockAdvertisement) LocalName() string        { return a.Name }
func (a *MockAdvertisement) Services() []string       { return a.ServiceIDs }
func (a *MockAdvertisement) ManufacturerData() []byte { return a.ManufData }
func (a *MockAdvertisement) TxPowerLevel() int        { return a.TxPower }
func (a *MockAdvertisement) Connectable() bool        { return a.IsConnectable }
func (a *MockAdvertisement) RSSI() int                { return a.Strength }
