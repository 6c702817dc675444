package serial

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/internal/device"
	"github.com/srg/bleserial/internal/devicefactory"
	"github.com/srg/bleserial/internal/dispatch"
	"github.com/srg/bleserial/internal/groutine"
)

const (
	// DefaultConnectTimeout bounds dial plus discovery.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultWriteChunkSize is used when the MTU exchange fails.
	// BLE 4.0/4.1 defines an ATT_MTU of 23 bytes, 20 bytes payload after the ATT header.
	DefaultWriteChunkSize = device.DefaultMTU - device.ATTHeaderSize

	// DefaultWriteInterval paces consecutive write chunks so the peripheral's
	// receive buffer is not overrun.
	DefaultWriteInterval = 10 * time.Millisecond
)

// Options configures a Scanner and the Devices it yields.
type Options struct {
	Profiles       []Profile
	ConnectTimeout time.Duration
	WriteChunkSize int
	WriteInterval  time.Duration
	Logger         *logrus.Logger
}

// DefaultOptions returns options with the built-in profiles.
func DefaultOptions() *Options {
	return &Options{
		Profiles:       DefaultProfiles(),
		ConnectTimeout: DefaultConnectTimeout,
		WriteChunkSize: DefaultWriteChunkSize,
		WriteInterval:  DefaultWriteInterval,
	}
}

type sessionState int

const (
	sessionIdle sessionState = iota
	sessionStarting
	sessionScanning
)

// Scanner discovers serial peripherals. It owns the delivery queue shared
// by itself and every Device it yields.
type Scanner struct {
	opts     Options
	profiles []Profile
	logger   *logrus.Logger
	queue    *dispatch.Queue
	handler  handlerSlot[ScannerHandler]

	centralMu sync.Mutex
	central   device.Central

	mu      sync.Mutex
	state   sessionState
	gen     uint64
	session string
	cancel  context.CancelFunc
	seen    *hashmap.Map[string, struct{}]
	links   map[*Device]struct{}
	closed  bool

	wg sync.WaitGroup
}

// NewScanner creates an idle Scanner. A nil opts uses DefaultOptions.
func NewScanner(opts *Options) (*Scanner, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteChunkSize <= 0 {
		o.WriteChunkSize = DefaultWriteChunkSize
	}
	if o.WriteInterval < 0 {
		o.WriteInterval = 0
	}

	profiles, err := normalizeProfiles(o.Profiles)
	if err != nil {
		return nil, err
	}
	o.Profiles = profiles

	return &Scanner{
		opts:     o,
		profiles: profiles,
		logger:   o.Logger,
		queue:    dispatch.New("bleserial-delivery", o.Logger),
		links:    make(map[*Device]struct{}),
	}, nil
}

// SetHandler installs h, replacing any previous handler.
func (s *Scanner) SetHandler(h ScannerHandler) *Registration {
	return s.handler.install(h)
}

// Profiles returns the normalized profiles the Scanner filters on.
func (s *Scanner) Profiles() []Profile {
	out := make([]Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

// IsScanning reports whether a scan session is active.
func (s *Scanner) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == sessionScanning
}

// Session returns the ULID of the active scan session, or "" when idle.
func (s *Scanner) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionScanning {
		return ""
	}
	return s.session
}

// Start begins a scan session. It returns immediately; the outcome arrives
// as ScanStarted or ScanFailed. Calling Start while a session is starting or
// active does nothing.
func (s *Scanner) Start() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("Start ignored: scanner is closed")
		return
	}
	if s.state != sessionIdle {
		s.mu.Unlock()
		s.logger.Debug("Start ignored: scan already in progress")
		return
	}
	s.state = sessionStarting
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	groutine.GoTracked(ctx, &s.wg, s.logger, "bleserial-scan", func(ctx context.Context) {
		s.run(ctx, gen)
	})
}

// Stop ends the scan session and forgets which peripherals were yielded.
// Connected Devices are not affected. Safe to call at any time.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scanner) stopLocked() {
	if s.state == sessionIdle {
		return
	}
	s.logger.WithField("session", s.session).Info("BLE scan stopped")
	s.gen++
	s.state = sessionIdle
	s.session = ""
	s.seen = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Close stops scanning, disconnects every Device still linked, releases the
// radio and shuts the delivery queue down after delivering what is pending.
// Must not be called from a handler.
func (s *Scanner) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopLocked()
	links := make([]*Device, 0, len(s.links))
	for d := range s.links {
		links = append(links, d)
	}
	s.mu.Unlock()

	for _, d := range links {
		d.Disconnect()
	}
	s.wg.Wait()

	var err error
	s.centralMu.Lock()
	if s.central != nil {
		err = s.central.Stop()
		s.central = nil
	}
	s.centralMu.Unlock()

	s.queue.Close()
	<-s.queue.Done()
	return err
}

// Flush blocks until every notification posted so far has been delivered.
// Must not be called from a handler.
func (s *Scanner) Flush() {
	s.queue.Flush()
}

func (s *Scanner) run(ctx context.Context, gen uint64) {
	s.releaseIdleCentral()
	central, err := s.acquireCentral()
	if err != nil {
		s.fail(gen, err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = sessionScanning
	s.session = newSessionID(time.Now())
	s.seen = hashmap.New[string, struct{}]()
	session := s.session
	s.post(func(h ScannerHandler) { h.ScanStarted(s) })
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"session":  session,
		"profiles": len(s.profiles),
	}).Info("BLE scan started")

	err = central.Scan(ctx, false, func(adv device.Advertisement) {
		s.handleAdvertisement(gen, adv)
	})
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		s.fail(gen, err)
	}
}

// acquireCentral returns the shared central, opening it on first use.
// A failed open is not cached so a later Start retries it.
func (s *Scanner) acquireCentral() (device.Central, error) {
	s.centralMu.Lock()
	defer s.centralMu.Unlock()
	if s.central != nil {
		return s.central, nil
	}
	c, err := devicefactory.CentralFactory(s.opts.ConnectTimeout, s.logger)
	if err != nil {
		return nil, err
	}
	s.central = c
	return c, nil
}

// releaseIdleCentral stops the cached central unless a Device holds a link
// on it, so the next acquireCentral resolves power and authorization state
// again. A radio that was switched off or revoked after the first session
// then fails Start instead of scanning silently.
func (s *Scanner) releaseIdleCentral() {
	s.centralMu.Lock()
	defer s.centralMu.Unlock()
	if s.central == nil {
		return
	}

	s.mu.Lock()
	inUse := len(s.links) > 0
	s.mu.Unlock()
	if inUse {
		return
	}

	if err := s.central.Stop(); err != nil {
		s.logger.WithError(err).Debug("Failed to release idle central")
	}
	s.central = nil
}

func (s *Scanner) fail(gen uint64, err error) {
	serr := classifyScanError(err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"session": s.session,
		"kind":    serr.Kind,
		"error":   err,
	}).Error("BLE scan failed")
	s.gen++
	s.state = sessionIdle
	s.session = ""
	s.seen = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.post(func(h ScannerHandler) { h.ScanFailed(s, serr) })
}

func (s *Scanner) handleAdvertisement(gen uint64, adv device.Advertisement) {
	profile, ok := s.matchProfile(adv.Services())
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != sessionScanning {
		return
	}
	addr := adv.Addr()
	if _, loaded := s.seen.GetOrInsert(addr, struct{}{}); loaded {
		return
	}

	d := newDevice(s, adv, profile)
	s.logger.WithFields(logrus.Fields{
		"session": s.session,
		"address": addr,
		"name":    adv.LocalName(),
		"rssi":    adv.RSSI(),
		"profile": profile.Name,
	}).Info("Discovered serial device")
	s.post(func(h ScannerHandler) { h.DeviceFound(s, d) })
}

// matchProfile returns the first profile whose service is advertised.
func (s *Scanner) matchProfile(services []string) (Profile, bool) {
	for _, p := range s.profiles {
		if device.ContainsUUID(services, p.Service) {
			return p, true
		}
	}
	return Profile{}, false
}

func (s *Scanner) post(fn func(h ScannerHandler)) {
	s.queue.Post(func() {
		if h, ok := s.handler.get(); ok && h != nil {
			fn(h)
		}
	})
}

func (s *Scanner) track(d *Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.links[d] = struct{}{}
	return true
}

func (s *Scanner) untrack(d *Device) {
	s.mu.Lock()
	delete(s.links, d)
	s.mu.Unlock()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newSessionID returns a ULID; IDs made within one millisecond still sort
// in creation order.
func newSessionID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
