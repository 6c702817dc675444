package serial_test

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/internal/device"
	"github.com/srg/bleserial/internal/devicefactory"
	"github.com/srg/bleserial/internal/testutils"
	"github.com/srg/bleserial/pkg/serial"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	addrA = "AA:BB:CC:DD:EE:01"
	addrB = "AA:BB:CC:DD:EE:02"
)

// event is one delivered notification.
type event struct {
	kind string
	dev  *serial.Device
	err  error
	serr *serial.Error
	op   serial.Operation
	data []byte
	name string
	rssi int
}

// recorder is a ScannerHandler and DeviceHandler that records every
// notification in delivery order.
type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 256)}
}

func (r *recorder) add(e event) { r.events <- e }

func (r *recorder) ScanFailed(_ *serial.Scanner, err *serial.Error) {
	r.add(event{kind: "ScanFailed", serr: err})
}
func (r *recorder) ScanStarted(*serial.Scanner) { r.add(event{kind: "ScanStarted"}) }
func (r *recorder) DeviceFound(_ *serial.Scanner, d *serial.Device) {
	r.add(event{kind: "DeviceFound", dev: d})
}
func (r *recorder) Connected(d *serial.Device) { r.add(event{kind: "Connected", dev: d}) }
func (r *recorder) ConnectFailed(d *serial.Device, err error) {
	r.add(event{kind: "ConnectFailed", dev: d, err: err})
}
func (r *recorder) Disconnected(d *serial.Device) { r.add(event{kind: "Disconnected", dev: d}) }
func (r *recorder) VendorNameRead(d *serial.Device, name string) {
	r.add(event{kind: "VendorNameRead", dev: d, name: name})
}
func (r *recorder) RSSIUpdated(d *serial.Device, rssi int) {
	r.add(event{kind: "RSSIUpdated", dev: d, rssi: rssi})
}
func (r *recorder) DataReceived(d *serial.Device, data []byte) {
	r.add(event{kind: "DataReceived", dev: d, data: data})
}
func (r *recorder) OperationFailed(d *serial.Device, op serial.Operation, err error) {
	r.add(event{kind: "OperationFailed", dev: d, op: op, err: err})
}

// SerialSuite wires a Scanner to a MockCentral through the central factory.
type SerialSuite struct {
	suite.Suite

	Helper  *testutils.TestHelper
	Central *testutils.MockCentral
	Scanner *serial.Scanner
	Events  *recorder

	originalFactory func(time.Duration, *logrus.Logger) (device.Central, error)
}

func (s *SerialSuite) SetupSuite() {
	s.originalFactory = devicefactory.CentralFactory
}

func (s *SerialSuite) TearDownSuite() {
	devicefactory.CentralFactory = s.originalFactory
}

func (s *SerialSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Central = testutils.NewMockCentral()
	s.Central.On("Scan", mock.Anything, false).Return(nil).Maybe()
	s.Central.On("Stop").Return(nil).Maybe()
	s.UseCentral(s.Central, nil)

	opts := serial.DefaultOptions()
	opts.Logger = s.Helper.Logger
	opts.WriteInterval = 0
	s.Scanner = s.NewScanner(opts)
	s.Events = newRecorder()
	s.Scanner.SetHandler(s.Events)
}

func (s *SerialSuite) TearDownTest() {
	if s.Scanner != nil {
		s.NoError(s.Scanner.Close(), "scanner close MUST succeed")
	}
}

// UseCentral makes the factory return central, or err when err is non-nil.
func (s *SerialSuite) UseCentral(central device.Central, err error) {
	devicefactory.CentralFactory = func(time.Duration, *logrus.Logger) (device.Central, error) {
		if err != nil {
			return nil, err
		}
		return central, nil
	}
}

func (s *SerialSuite) NewScanner(opts *serial.Options) *serial.Scanner {
	scanner, err := serial.NewScanner(opts)
	s.Require().NoError(err, "scanner creation MUST succeed")
	return scanner
}

// Expect returns the next delivered notification and asserts its kind.
func (s *SerialSuite) Expect(kind string) event {
	s.T().Helper()
	select {
	case e := <-s.Events.events:
		s.Require().Equal(kind, e.kind, "unexpected notification (err=%v serr=%v)", e.err, e.serr)
		return e
	case <-time.After(testutils.DefaultWait):
		s.Require().FailNow("timed out waiting for notification", kind)
		return event{}
	}
}

// ExpectNone asserts nothing is left to deliver once the queue is flushed.
func (s *SerialSuite) ExpectNone() {
	s.T().Helper()
	s.Scanner.Flush()
	select {
	case e := <-s.Events.events:
		s.Failf("unexpected notification", "%s (err=%v)", e.kind, e.err)
	default:
	}
}

// StartScan starts a session and waits until the central is scanning.
func (s *SerialSuite) StartScan() {
	s.T().Helper()
	s.Scanner.Start()
	s.Expect("ScanStarted")
	s.Require().True(s.Central.WaitScanning(testutils.DefaultWait), "central MUST be scanning")
}

// Discover advertises addr with the service of p and returns the yielded Device.
func (s *SerialSuite) Discover(addr string, p serial.Profile) *serial.Device {
	s.T().Helper()
	adv := testutils.CreateMockAdvertisement("serial-"+addr[len(addr)-2:], addr, -48).
		WithServices(p.Service).
		Build()
	s.Require().True(s.Central.Advertise(adv), "advertisement MUST reach a running scan")
	e := s.Expect("DeviceFound")
	e.dev.SetHandler(s.Events)
	return e.dev
}

// Connect dials d against client and waits for Connected.
func (s *SerialSuite) Connect(d *serial.Device, client *testutils.MockClient) {
	s.T().Helper()
	s.Central.On("Dial", mock.Anything, d.Address()).Return(client, nil).Once()
	d.Connect()
	s.Expect("Connected")
}

// RedBearPeripheral is a peripheral exposing the RedBear serial service.
func RedBearPeripheral(addr string) *testutils.PeripheralBuilder {
	return testutils.CreateMockPeripheral(addr).
		WithService(serial.RedBear.Service).
		WithCharacteristic(serial.RedBear.VendorName, "read", []byte("RedBearLab\x00\x00 ")).
		WithCharacteristic(serial.RedBear.RX, "notify", nil).
		WithCharacteristic(serial.RedBear.TX, "write-without-response", nil)
}
