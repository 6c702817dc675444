package serial

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/internal/device"
	"github.com/srg/bleserial/internal/dispatch"
	"github.com/srg/bleserial/internal/groutine"
	"golang.org/x/time/rate"
)

// ConnectionState of a Device.
type ConnectionState int

const (
	// StateDisconnected is the initial state and the state after any teardown.
	StateDisconnected ConnectionState = iota
	// StateConnecting covers dial, discovery, subscription and MTU exchange.
	StateConnecting
	// StateConnected means the serial characteristics are ready for use.
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Device is one discovered serial peripheral. Its identity and
// advertisement data are fixed at discovery; the connection may be opened
// and closed any number of times.
type Device struct {
	scanner   *Scanner
	logger    *logrus.Logger
	address   string
	localName string
	advRSSI   int
	profile   Profile
	handler   handlerSlot[DeviceHandler]

	mu         sync.Mutex
	state      ConnectionState
	gen        uint64
	closing    bool
	cancelDial context.CancelFunc
	link       *link

	rssi        int
	rssiValid   bool
	vendor      string
	vendorValid bool
}

// link is one established connection.
type link struct {
	client device.Client
	tx     device.Characteristic
	rx     device.Characteristic
	vendor device.Characteristic
	noRsp  bool
	mtu    int
	chunk  int

	// early holds notifications received between Subscribe and Connected.
	// settled is set once the link is either live or discarded. Both
	// are guarded by Device.mu.
	early   [][]byte
	settled bool

	// ops runs stack requests one at a time, in request order
	ops     *dispatch.Queue
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

func newDevice(s *Scanner, adv device.Advertisement, profile Profile) *Device {
	return &Device{
		scanner:   s,
		logger:    s.logger,
		address:   adv.Addr(),
		localName: adv.LocalName(),
		advRSSI:   adv.RSSI(),
		profile:   profile,
	}
}

// SetHandler installs h, replacing any previous handler.
func (d *Device) SetHandler(h DeviceHandler) *Registration {
	return d.handler.install(h)
}

// Address is the platform peripheral identifier.
func (d *Device) Address() string { return d.address }

// LocalName is the advertised local name, possibly empty.
func (d *Device) LocalName() string { return d.localName }

// AdvertisedRSSI is the signal strength of the discovering advertisement.
func (d *Device) AdvertisedRSSI() int { return d.advRSSI }

// Profile is the serial profile the peripheral advertised.
func (d *Device) Profile() Profile { return d.profile }

// Scanner returns the Scanner that yielded d.
func (d *Device) Scanner() *Scanner { return d.scanner }

// DisplayName returns the local name, or the address when there is none.
func (d *Device) DisplayName() string {
	if d.localName == "" {
		return d.address
	}
	return d.localName
}

// State returns the current connection state.
func (d *Device) State() ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// RSSI returns the last value read by UpdateRSSI. ok is false until the first read completes.
func (d *Device) RSSI() (rssi int, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rssi, d.rssiValid
}

// VendorName returns the cached vendor name. ok is false until the first read completes.
func (d *Device) VendorName() (name string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vendor, d.vendorValid
}

// MTU returns the negotiated ATT MTU, or 0 when not connected.
func (d *Device) MTU() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.link == nil {
		return 0
	}
	return d.link.mtu
}

// Connect opens the link. The outcome arrives as Connected, ConnectFailed,
// or Disconnected when Disconnect aborts the attempt. Ignored unless
// disconnected.
func (d *Device) Connect() {
	d.mu.Lock()
	if d.state != StateDisconnected {
		state := d.state
		d.mu.Unlock()
		d.logger.WithFields(logrus.Fields{
			"address": d.address,
			"state":   state,
		}).Debug("Connect ignored")
		return
	}
	d.state = StateConnecting
	d.gen++
	gen := d.gen
	ctx, cancel := context.WithTimeout(context.Background(), d.scanner.opts.ConnectTimeout)
	d.cancelDial = cancel
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"address": d.address,
		"timeout": d.scanner.opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	groutine.GoTracked(ctx, &d.scanner.wg, d.logger, "bleserial-connect", func(ctx context.Context) {
		client, l, err := d.establish(ctx)
		d.finishConnect(gen, client, l, err)
	})
}

// establish dials and prepares the serial characteristics. client is
// non-nil whenever the dial succeeded, even if later steps failed.
func (d *Device) establish(ctx context.Context) (device.Client, *link, error) {
	if !d.scanner.track(d) {
		return nil, nil, device.ErrStackClosed
	}
	central, err := d.scanner.acquireCentral()
	if err != nil {
		return nil, nil, err
	}

	client, err := central.Dial(ctx, d.address)
	if err != nil {
		return nil, nil, err
	}
	if ctx.Err() != nil {
		return client, nil, ctx.Err()
	}

	l, err := d.setupLink(client)
	if err != nil {
		return client, nil, err
	}
	return client, l, nil
}

func (d *Device) setupLink(client device.Client) (*link, error) {
	p := d.profile
	wanted := []string{p.TX}
	if p.RX != p.TX {
		wanted = append(wanted, p.RX)
	}

	d.logger.WithFields(logrus.Fields{
		"address":      d.address,
		"service_uuid": p.Service,
	}).Debug("Discovering serial characteristics...")

	chars, err := client.DiscoverCharacteristics(p.Service, wanted)
	if err != nil {
		return nil, fmt.Errorf("failed to discover serial service: %w", err)
	}
	tx := findCharacteristic(chars, p.TX)
	rx := findCharacteristic(chars, p.RX)
	if tx == nil {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{p.Service, p.TX}}
	}
	if rx == nil {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{p.Service, p.RX}}
	}
	if rx.Properties()&(device.PropNotify|device.PropIndicate) == 0 {
		return nil, fmt.Errorf("characteristic %q does not support notifications", p.RX)
	}

	l := &link{
		client: client,
		tx:     tx,
		rx:     rx,
		noRsp:  !p.WriteWithResponse && tx.Properties().Has(device.PropWriteWithoutResponse),
	}

	if p.VendorName != "" {
		vchars, err := client.DiscoverCharacteristics(p.VendorService, []string{p.VendorName})
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"address": d.address,
				"error":   err,
			}).Warn("Vendor name characteristic unavailable")
		} else {
			l.vendor = findCharacteristic(vchars, p.VendorName)
		}
	}

	if err := client.Subscribe(rx, func(data []byte) { d.notified(l, data) }); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %q: %w", p.RX, err)
	}

	l.mtu = device.DefaultMTU
	l.chunk = d.scanner.opts.WriteChunkSize
	if mtu, err := client.ExchangeMTU(device.MaxMTU); err != nil {
		d.logger.WithFields(logrus.Fields{
			"address": d.address,
			"error":   err,
		}).Warn("MTU exchange failed, using default chunk size")
	} else if mtu > device.ATTHeaderSize {
		l.mtu = mtu
		l.chunk = mtu - device.ATTHeaderSize
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.ops = dispatch.New("bleserial-ops", d.logger)
	if iv := d.scanner.opts.WriteInterval; iv > 0 {
		l.limiter = rate.NewLimiter(rate.Every(iv), 1)
	} else {
		l.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return l, nil
}

func findCharacteristic(chars []device.Characteristic, uuid string) device.Characteristic {
	for _, c := range chars {
		if device.EqualUUID(c.UUID(), uuid) {
			return c
		}
	}
	return nil
}

func (d *Device) finishConnect(gen uint64, client device.Client, l *link, err error) {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return
	}

	if d.closing || err != nil {
		if l != nil {
			l.settled, l.early = true, nil
		}
		d.mu.Unlock()
		if l != nil {
			l.shutdown()
		}
		if client != nil {
			if cerr := client.CancelConnection(); cerr != nil {
				d.logger.WithField("cancel_error", cerr).Warn("Failed to cancel connection after aborted connect")
			}
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		aborted := d.closing
		d.resetLocked()
		if aborted {
			d.logger.WithField("address", d.address).Info("Connect aborted by disconnect")
			d.post(func(h DeviceHandler) { h.Disconnected(d) })
			return
		}
		cerr := &ConnectError{Address: d.address, Cause: err}
		d.logger.WithFields(logrus.Fields{
			"address": d.address,
			"error":   err,
		}).Error("Failed to connect to BLE device")
		d.post(func(h DeviceHandler) { h.ConnectFailed(d, cerr) })
		return
	}

	d.state = StateConnected
	d.link = l
	if d.cancelDial != nil {
		d.cancelDial()
		d.cancelDial = nil
	}
	d.logger.WithFields(logrus.Fields{
		"address": d.address,
		"profile": d.profile.Name,
		"mtu":     l.mtu,
	}).Info("BLE device connected successfully")
	d.post(func(h DeviceHandler) { h.Connected(d) })
	for _, data := range l.early {
		payload := data
		d.post(func(h DeviceHandler) { h.DataReceived(d, payload) })
	}
	l.settled, l.early = true, nil
	d.mu.Unlock()

	groutine.GoTracked(l.ctx, &d.scanner.wg, d.logger, "bleserial-link-monitor", func(ctx context.Context) {
		select {
		case <-l.client.Disconnected():
			d.linkLost(l)
		case <-ctx.Done():
		}
	})
}

// resetLocked returns d to disconnected. Caller holds d.mu.
func (d *Device) resetLocked() {
	if d.link != nil {
		d.link.shutdown()
		d.link = nil
	}
	if d.cancelDial != nil {
		d.cancelDial()
		d.cancelDial = nil
	}
	d.state = StateDisconnected
	d.closing = false
	d.scanner.untrack(d)
}

func (l *link) shutdown() {
	l.cancel()
	l.ops.Close()
}

func (d *Device) linkLost(l *link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.link != l || d.closing {
		return
	}
	d.logger.WithField("address", d.address).Warn("BLE link lost")
	d.resetLocked()
	d.post(func(h DeviceHandler) { h.Disconnected(d) })
}

// Disconnect closes the link or aborts a pending Connect. Disconnected
// arrives once the stack confirms teardown. Ignored when disconnected.
func (d *Device) Disconnect() {
	d.mu.Lock()
	if d.state == StateDisconnected || d.closing {
		d.mu.Unlock()
		d.logger.WithField("address", d.address).Debug("Disconnect ignored")
		return
	}
	d.closing = true

	if d.state == StateConnecting {
		// the connect worker observes closing and finishes with Disconnected
		if d.cancelDial != nil {
			d.cancelDial()
		}
		d.mu.Unlock()
		return
	}

	l := d.link
	d.mu.Unlock()

	groutine.GoTracked(context.Background(), &d.scanner.wg, d.logger, "bleserial-disconnect", func(ctx context.Context) {
		if err := l.client.CancelConnection(); err != nil {
			d.logger.WithFields(logrus.Fields{
				"address": d.address,
				"error":   err,
			}).Warn("Failed to cancel connection")
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.link != l {
			return
		}
		d.resetLocked()
		d.logger.WithField("address", d.address).Info("BLE device disconnected")
		d.post(func(h DeviceHandler) { h.Disconnected(d) })
	})
}

// activeLink returns the current link if d is connected and not closing.
func (d *Device) activeLink(op string) *link {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateConnected || d.closing {
		d.logger.WithFields(logrus.Fields{
			"address": d.address,
			"state":   d.state,
			"op":      op,
		}).Debug("Operation ignored: device not connected")
		return nil
	}
	return d.link
}

func (d *Device) isCurrent(l *link) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.link == l && !d.closing
}

// WriteData sends data over TX in MTU-sized chunks. The payload is copied;
// chunks of different writes never interleave. Failures arrive as
// OperationFailed(OpWriteData). Ignored unless connected.
func (d *Device) WriteData(data []byte) {
	l := d.activeLink(string(OpWriteData))
	if l == nil || len(data) == 0 {
		return
	}
	payload := append([]byte(nil), data...)
	l.ops.Post(func() { d.writeChunks(l, payload) })
}

func (d *Device) writeChunks(l *link, payload []byte) {
	for len(payload) > 0 {
		if !d.isCurrent(l) {
			d.logger.WithField("address", d.address).Debug("Dropping write: link closed")
			return
		}
		if err := l.limiter.Wait(l.ctx); err != nil {
			return
		}

		n := l.chunk
		if n > len(payload) {
			n = len(payload)
		}
		if err := l.client.WriteCharacteristic(l.tx, payload[:n], l.noRsp); err != nil {
			d.operationFailed(OpWriteData, err)
			return
		}
		payload = payload[n:]
	}
}

// ReadVendorName reads and caches the vendor name. The result arrives as
// VendorNameRead or OperationFailed(OpReadVendorName). Ignored unless connected.
func (d *Device) ReadVendorName() {
	l := d.activeLink(string(OpReadVendorName))
	if l == nil {
		return
	}
	l.ops.Post(func() {
		if !d.isCurrent(l) {
			return
		}
		if l.vendor == nil {
			nf := &device.NotFoundError{Resource: "characteristic"}
			if d.profile.VendorName != "" {
				nf.UUIDs = []string{d.profile.VendorService, d.profile.VendorName}
			}
			d.operationFailed(OpReadVendorName, nf)
			return
		}
		raw, err := l.client.ReadCharacteristic(l.vendor)
		if err != nil {
			d.operationFailed(OpReadVendorName, err)
			return
		}
		name := decodeVendorName(raw)

		d.mu.Lock()
		defer d.mu.Unlock()
		d.vendor, d.vendorValid = name, true
		d.post(func(h DeviceHandler) { h.VendorNameRead(d, name) })
	})
}

// decodeVendorName drops the NUL padding and spaces fixed-size fields carry.
func decodeVendorName(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

// UpdateRSSI reads the link's signal strength. The result arrives as
// RSSIUpdated. Ignored unless connected.
func (d *Device) UpdateRSSI() {
	l := d.activeLink(string(OpUpdateRSSI))
	if l == nil {
		return
	}
	l.ops.Post(func() {
		if !d.isCurrent(l) {
			return
		}
		rssi := l.client.ReadRSSI()

		d.mu.Lock()
		defer d.mu.Unlock()
		d.rssi, d.rssiValid = rssi, true
		d.post(func(h DeviceHandler) { h.RSSIUpdated(d, rssi) })
	})
}

// notified runs on the stack's notification goroutine.
func (d *Device) notified(l *link, data []byte) {
	payload := append([]byte(nil), data...)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.link == l {
		d.post(func(h DeviceHandler) { h.DataReceived(d, payload) })
		return
	}
	if !l.settled {
		// delivered right after Connected, in arrival order
		l.early = append(l.early, payload)
		return
	}
	d.logger.WithField("address", d.address).Debug("Dropping notification: link closed")
}

func (d *Device) operationFailed(op Operation, err error) {
	d.logger.WithFields(logrus.Fields{
		"address": d.address,
		"op":      op,
		"error":   err,
	}).Error("BLE operation failed")
	d.post(func(h DeviceHandler) { h.OperationFailed(d, op, err) })
}

func (d *Device) post(fn func(h DeviceHandler)) {
	d.scanner.queue.Post(func() {
		if h, ok := d.handler.get(); ok && h != nil {
			fn(h)
		}
	})
}
