package main

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/internal/device"
	"github.com/srg/bleserial/internal/devicefactory"
	"github.com/srg/bleserial/internal/testutils"
	"github.com/srg/bleserial/pkg/config"
	"github.com/srg/bleserial/pkg/serial"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// CommandTestSuite runs command helpers against a MockCentral injected
// through the central factory.
type CommandTestSuite struct {
	suite.Suite

	Helper  *testutils.TestHelper
	Central *testutils.MockCentral
	Config  *config.Config

	originalFactory func(time.Duration, *logrus.Logger) (device.Central, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalFactory = devicefactory.CentralFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.CentralFactory = s.originalFactory
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Central = testutils.NewMockCentral()
	s.Central.On("Scan", mock.Anything, false).Return(nil).Maybe()
	s.Central.On("Stop").Return(nil).Maybe()
	s.UseCentral(s.Central, nil)

	s.Config = config.DefaultConfig()
	s.Config.WriteInterval = 0
	s.Config.ScanTimeout = testutils.DefaultWait
}

// UseCentral makes the factory return central, or err when err is non-nil.
func (s *CommandTestSuite) UseCentral(central device.Central, err error) {
	devicefactory.CentralFactory = func(time.Duration, *logrus.Logger) (device.Central, error) {
		if err != nil {
			return nil, err
		}
		return central, nil
	}
}

// NewScanner creates a Scanner closed at the end of the test.
func (s *CommandTestSuite) NewScanner() *serial.Scanner {
	scanner, err := newScanner(s.Config, s.Helper.Logger)
	s.Require().NoError(err, "scanner creation MUST succeed")
	s.T().Cleanup(func() { _ = scanner.Close() })
	return scanner
}

// Advertise waits for a running scan and delivers a serial advertisement for addr.
func (s *CommandTestSuite) Advertise(addr, name string, rssi int, p serial.Profile) {
	s.T().Helper()
	s.Require().True(s.Central.WaitScanning(testutils.DefaultWait), "central MUST be scanning")
	adv := testutils.CreateMockAdvertisement(name, addr, rssi).WithServices(p.Service).Build()
	s.Require().True(s.Central.Advertise(adv), "advertisement MUST reach a running scan")
}

type openResult struct {
	scanner *serial.Scanner
	stream  *serial.Stream
	watcher *linkWatcher
	err     error
}

// OpenStream runs openStream for addr against client and returns the connected stream.
func (s *CommandTestSuite) OpenStream(addr string, client *testutils.MockClient) (*serial.Stream, *linkWatcher) {
	s.T().Helper()
	s.Central.On("Dial", mock.Anything, addr).Return(client, nil).Once()

	done := make(chan openResult, 1)
	go func() {
		sc, st, w, err := openStream(context.Background(), s.Config, s.Helper.Logger, addr)
		done <- openResult{sc, st, w, err}
	}()
	s.Advertise(addr, "serial-dev", -48, serial.RedBear)

	select {
	case res := <-done:
		s.Require().NoError(res.err, "openStream MUST succeed")
		s.T().Cleanup(func() {
			_ = res.stream.Close()
			_ = res.scanner.Close()
		})
		return res.stream, res.watcher
	case <-time.After(testutils.DefaultWait):
		s.Require().FailNow("openStream MUST return")
		return nil, nil
	}
}

// RedBearPeripheral is a peripheral exposing the RedBear serial service.
func RedBearPeripheral(addr string) *testutils.PeripheralBuilder {
	return testutils.CreateMockPeripheral(addr).
		WithService(serial.RedBear.Service).
		WithCharacteristic(serial.RedBear.VendorName, "read", []byte("RedBearLab\x00\x00 ")).
		WithCharacteristic(serial.RedBear.RX, "notify", nil).
		WithCharacteristic(serial.RedBear.TX, "write-without-response", nil)
}

// syncBuffer is a bytes.Buffer safe for one writer goroutine and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
