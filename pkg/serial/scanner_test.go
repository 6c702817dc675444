package serial_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/srg/bleserial/internal/device"
	"github.com/srg/bleserial/internal/testutils"
	"github.com/srg/bleserial/pkg/serial"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	SerialSuite
}

func (s *ScannerTestSuite) TestStart_EmitsScanStartedWithSession() {
	// GOAL: Verify a successful start opens a session identified by a ULID
	//
	// TEST SCENARIO: start on a ready radio → ScanStarted → scanning with a parseable session id

	s.StartScan()

	s.True(s.Scanner.IsScanning(), "scanner MUST report scanning after ScanStarted")
	_, err := ulid.Parse(s.Scanner.Session())
	s.NoError(err, "session MUST be a ULID")
	s.ExpectNone()
}

func (s *ScannerTestSuite) TestSession_IDsIncrease() {
	// GOAL: Verify session IDs sort in creation order even within one millisecond
	//
	// TEST SCENARIO: three back-to-back sessions → strictly increasing ULIDs

	var ids []string
	for i := 0; i < 3; i++ {
		s.StartScan()
		ids = append(ids, s.Scanner.Session())
		s.Scanner.Stop()
	}

	for i := 1; i < len(ids); i++ {
		s.Less(ids[i-1], ids[i], "session IDs MUST be monotonic")
	}
}

func (s *ScannerTestSuite) TestStart_WhileActiveIsNoop() {
	// GOAL: Verify repeated starts neither restart nor duplicate the session
	//
	// TEST SCENARIO: start three times → one ScanStarted and one central scan

	s.StartScan()
	session := s.Scanner.Session()

	s.Scanner.Start()
	s.Scanner.Start()

	s.ExpectNone()
	s.Equal(session, s.Scanner.Session(), "session MUST NOT change on a repeated start")
	s.Central.AssertNumberOfCalls(s.T(), "Scan", 1)
}

func (s *ScannerTestSuite) TestDiscovery_DedupPerSession() {
	// GOAL: Verify each identity is yielded once per session and again in a new session
	//
	// TEST SCENARIO: same address advertised repeatedly → one DeviceFound; restart → yielded again

	s.StartScan()
	first := s.Discover(addrA, serial.RedBear)
	s.Equal(addrA, first.Address())
	s.Equal(-48, first.AdvertisedRSSI())
	s.Equal("redbear", first.Profile().Name)

	adv := testutils.CreateMockAdvertisement("dup", addrA, -40).WithServices(serial.RedBear.Service).Build()
	s.True(s.Central.Advertise(adv))
	s.True(s.Central.Advertise(adv))
	s.ExpectNone()

	other := s.Discover(addrB, serial.RedBear)
	s.NotSame(first, other, "distinct identities MUST yield distinct devices")

	firstSession := s.Scanner.Session()
	s.Scanner.Stop()
	s.False(s.Scanner.IsScanning(), "scanner MUST be idle after Stop")
	s.Empty(s.Scanner.Session(), "idle scanner MUST have no session")

	s.StartScan()
	s.NotEqual(firstSession, s.Scanner.Session(), "a new session MUST get a new id")
	again := s.Discover(addrA, serial.RedBear)
	s.NotSame(first, again, "a new session MUST yield a fresh device")
}

func (s *ScannerTestSuite) TestDiscovery_FiltersAndBindsProfiles() {
	// GOAL: Verify only serial peripherals are yielded and each one is bound to its profile
	//
	// TEST SCENARIO: heart-rate advertisement → ignored; Nordic UART and HM-10 → bound profiles

	s.StartScan()

	hr := testutils.CreateMockAdvertisement("hrm", "11:22:33:44:55:66", -60).WithServices("180d").Build()
	s.True(s.Central.Advertise(hr))
	noServices := testutils.CreateMockAdvertisement("plain", "11:22:33:44:55:67", -60).Build()
	s.True(s.Central.Advertise(noServices))
	s.ExpectNone()

	nus := s.Discover(addrA, serial.NordicUART)
	s.Equal("nordic-uart", nus.Profile().Name)

	hm := s.Discover(addrB, serial.HM10)
	s.Equal("hm10", hm.Profile().Name)
	s.Equal("ffe1", hm.Profile().TX, "profile UUIDs MUST be normalized")
}

func (s *ScannerTestSuite) TestDiscovery_IgnoredAfterStop() {
	// GOAL: Verify advertisements racing with Stop never yield devices
	//
	// TEST SCENARIO: stop, then deliver an advertisement → no DeviceFound

	s.StartScan()
	s.Scanner.Stop()

	adv := testutils.CreateMockAdvertisement("late", addrA, -50).WithServices(serial.RedBear.Service).Build()
	s.Central.Advertise(adv)
	s.ExpectNone()
}

func (s *ScannerTestSuite) TestStop_Idempotent() {
	// GOAL: Verify Stop is safe in every state and emits nothing
	//
	// TEST SCENARIO: stop while idle, stop twice while scanning → no notifications, idle

	s.Scanner.Stop()
	s.StartScan()
	s.Scanner.Stop()
	s.Scanner.Stop()

	s.False(s.Scanner.IsScanning())
	s.ExpectNone()
}

func (s *ScannerTestSuite) TestStart_CapabilityFailures() {
	// GOAL: Verify radio readiness failures surface once with the matching kind and leave the session idle
	//
	// TEST SCENARIO: factory reports unsupported / off / unauthorized → ScanFailed(kind) → idle, no scan

	tests := []struct {
		name string
		err  error
		kind serial.Kind
		code int
	}{
		{"unsupported", fmt.Errorf("%w: have=2", device.ErrUnsupported), serial.KindBLENotSupported, 0},
		{"powered off", fmt.Errorf("%w: have=4", device.ErrBluetoothOff), serial.KindBluetoothTurnedOff, 1},
		{"unauthorized", fmt.Errorf("%w: have=3", device.ErrUnauthorized), serial.KindUnauthorized, 2},
		{"unclassified", errors.New("hci: boom"), serial.KindScanFailed, 3},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.UseCentral(nil, tt.err)

			s.Scanner.Start()
			e := s.Expect("ScanFailed")

			s.Require().NotNil(e.serr)
			s.Equal(tt.kind, e.serr.Kind)
			s.Equal(tt.code, e.serr.Code())
			s.Equal(serial.ErrorDomain, e.serr.Domain())
			s.ErrorIs(e.serr, tt.err, "cause MUST be preserved")
			s.False(s.Scanner.IsScanning(), "session MUST stay idle after a failed start")
			s.ExpectNone()
		})
	}

	s.Central.AssertNotCalled(s.T(), "Scan", mock.Anything, mock.Anything)
}

func (s *ScannerTestSuite) TestStart_RetriesRadioAfterFailure() {
	// GOAL: Verify a failed start is not cached: the next Start opens the radio again
	//
	// TEST SCENARIO: radio off → ScanFailed; radio on → Start → ScanStarted

	s.UseCentral(nil, fmt.Errorf("%w", device.ErrBluetoothOff))
	s.Scanner.Start()
	s.Expect("ScanFailed")

	s.UseCentral(s.Central, nil)
	s.StartScan()
	s.True(s.Scanner.IsScanning())
}

func (s *ScannerTestSuite) TestStart_ResolvesRadioStateEverySession() {
	// GOAL: Verify every Start re-checks power state instead of reusing an idle radio handle
	//
	// TEST SCENARIO: scan → Stop → radio switched off → Start → ScanFailed(BluetoothTurnedOff), stays idle

	s.StartScan()
	s.Scanner.Stop()

	s.UseCentral(nil, fmt.Errorf("invalid state: have=4: %w", device.ErrBluetoothOff))
	s.Scanner.Start()

	e := s.Expect("ScanFailed")
	s.ErrorIs(e.serr, serial.ErrBluetoothTurnedOff, "second session MUST see the radio is off")
	s.Equal(serial.KindBluetoothTurnedOff, e.serr.Kind)
	s.False(s.Scanner.IsScanning(), "scanner MUST stay idle")
	s.Empty(s.Scanner.Session(), "no session MUST be opened")
	s.Central.AssertCalled(s.T(), "Stop")
	s.ExpectNone()
}

func (s *ScannerTestSuite) TestStart_KeepsRadioWhileLinked() {
	// GOAL: Verify a connected Device keeps its radio handle across scan sessions
	//
	// TEST SCENARIO: connect → Stop → Start → ScanStarted on the same central, never stopped

	s.StartScan()
	d := s.Discover(addrA, serial.RedBear)
	s.Connect(d, RedBearPeripheral(addrA).Build())
	s.Scanner.Stop()

	s.StartScan()
	s.Central.AssertNotCalled(s.T(), "Stop")
	s.Equal(serial.StateConnected, d.State(), "link MUST survive the restart")
}

func (s *ScannerTestSuite) TestScan_StackFailureEndsSession() {
	// GOAL: Verify a stack failure while scanning is reported once with no automatic retry
	//
	// TEST SCENARIO: central scan fails → ScanStarted, ScanFailed(ScanFailed) → idle, one scan call

	failing := testutils.NewMockCentral()
	failing.On("Scan", mock.Anything, false).Return(errors.New("hci: controller reset")).Once()
	failing.On("Stop").Return(nil).Maybe()
	s.UseCentral(failing, nil)

	scanner := s.NewScanner(&serial.Options{Logger: s.Helper.Logger})
	defer scanner.Close()
	events := newRecorder()
	scanner.SetHandler(events)

	scanner.Start()
	s.Equal("ScanStarted", (<-events.events).kind)
	e := <-events.events
	s.Equal("ScanFailed", e.kind)
	s.ErrorIs(e.serr, serial.ErrScanFailed)
	s.Contains(e.serr.Error(), "controller reset")

	scanner.Flush()
	s.False(scanner.IsScanning())
	s.Empty(events.events, "failure MUST be reported exactly once")
	failing.AssertNumberOfCalls(s.T(), "Scan", 1)
}

func (s *ScannerTestSuite) TestRegistration_CancelStopsDelivery() {
	// GOAL: Verify a cancelled registration receives nothing further
	//
	// TEST SCENARIO: cancel handler → start → no ScanStarted delivered; scan still runs

	reg := s.Scanner.SetHandler(s.Events)
	reg.Cancel()
	reg.Cancel()

	s.Scanner.Start()
	s.Require().True(s.Central.WaitScanning(testutils.DefaultWait))
	s.ExpectNone()
	s.True(s.Scanner.IsScanning())
}

func (s *ScannerTestSuite) TestClose_ReleasesCentral() {
	// GOAL: Verify Close stops the radio and turns further starts into no-ops
	//
	// TEST SCENARIO: scan → Close → central stopped; Start after close → nothing

	s.StartScan()
	s.Require().NoError(s.Scanner.Close())
	s.Central.AssertCalled(s.T(), "Stop")

	s.Scanner.Start()
	s.False(s.Scanner.IsScanning())
	s.NoError(s.Scanner.Close(), "second Close MUST be a no-op")
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
